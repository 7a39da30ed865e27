package command

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

const (
	opSet      = "set"
	opCreate   = "create"
	opRemove   = "remove"
	opSnapshot = "snapshot"
	opMulti    = "multi"
)

// Encode returns the canonical description of c.
// Projection overrides on CreateObject are not encoded.
func Encode(c Command) ir.Map {
	return c.Describe()
}

// EncodeJSON returns the canonical JSON of c.
func EncodeJSON(c Command) ([]byte, error) {
	return ir.MarshalCanonical(c.Describe())
}

// Hash returns the command digest of c.
func Hash(c Command) (string, error) {
	return ir.Digest(ir.DomainCommand, c.Describe())
}

// DecodeJSON parses JSON produced by EncodeJSON.
func DecodeJSON(data []byte) (Command, error) {
	var d ir.Map
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return Decode(d)
}

// Decode rebuilds a command from its description.
func Decode(d ir.Map) (Command, error) {
	op, err := str(d, "op")
	if err != nil {
		return nil, err
	}

	if op == opMulti {
		children, ok := d["children"].(ir.List)
		if !ok {
			return nil, fmt.Errorf("multi: children must be a list")
		}
		m := &MultiCommand{}
		for i, child := range children {
			cm, ok := child.(ir.Map)
			if !ok {
				return nil, fmt.Errorf("multi[%d]: not a map", i)
			}
			c, err := Decode(cm)
			if err != nil {
				return nil, fmt.Errorf("multi[%d]: %w", i, err)
			}
			m.Push(c)
		}
		return m, nil
	}

	idv, ok := d["object"].(ir.Int)
	if !ok {
		return nil, fmt.Errorf("%s: object must be an integer", op)
	}
	id := state.ID(idv)

	sync := VisibilityGated
	if s, ok := d["sync"].(ir.String); ok {
		sync, err = ParseSynchronizationKind(string(s))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	switch op {
	case opSet:
		name, err := str(d, "property")
		if err != nil {
			return nil, err
		}
		return NewSetProperty(id, name, d["value"], d["previous"], WithSync(sync)), nil
	case opCreate, opRemove, opSnapshot:
		kind, err := str(d, "kind")
		if err != nil {
			return nil, err
		}
		props, ok := d["props"].(ir.Map)
		if !ok {
			return nil, fmt.Errorf("%s: props must be a map", op)
		}
		switch op {
		case opCreate:
			return NewCreateObject(id, state.Kind(kind), props, WithSync(sync)), nil
		case opRemove:
			return NewRemoveObject(id, state.Kind(kind), props, WithSync(sync)), nil
		default:
			return NewSnapshot(id, state.Kind(kind), props), nil
		}
	default:
		return nil, fmt.Errorf("unknown command op %q", op)
	}
}

func str(d ir.Map, key string) (string, error) {
	v, ok := d[key].(ir.String)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return string(v), nil
}
