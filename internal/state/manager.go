package state

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/tablesync/internal/ir"
)

// ControlMode decides who may mutate a Manager.
type ControlMode int

const (
	// ControlModeMaster allows direct mutation. Used for the canonical state.
	ControlModeMaster ControlMode = iota

	// ControlModeSynchronized allows mutation only inside Replicate.
	ControlModeSynchronized
)

// String implements fmt.Stringer.
func (m ControlMode) String() string {
	switch m {
	case ControlModeMaster:
		return "master"
	case ControlModeSynchronized:
		return "synchronized"
	default:
		return fmt.Sprintf("ControlMode(%d)", int(m))
	}
}

// ChangeOp identifies the kind of mutation a Change describes.
type ChangeOp int

const (
	// ChangeCreated is emitted once when an object is inserted.
	ChangeCreated ChangeOp = iota + 1
	// ChangeSet is emitted for every property whose value changed.
	ChangeSet
	// ChangeRemoved is emitted once when an object is removed.
	ChangeRemoved
)

// Change describes one mutation. For ChangeSet, Old or New is nil when the
// property was absent before or after.
type Change struct {
	Op       ChangeOp
	Object   ID
	Kind     Kind
	Property string
	Old      ir.Value
	New      ir.Value
}

type subscriber struct {
	id int
	fn func(Change)
}

// Manager owns an object graph.
//
// Thread-safety: none. A Manager is mutated by exactly one logical thread of
// control (the rule engine for the canonical state, the replication path for
// a replica).
type Manager struct {
	mode        ControlMode
	objects     map[ID]*Object
	next        ID
	replicating int

	subscribers []subscriber
	subSeq      int
}

// NewManager creates an empty graph in the given control mode.
func NewManager(mode ControlMode) *Manager {
	return &Manager{
		mode:    mode,
		objects: make(map[ID]*Object),
	}
}

// Mode returns the control mode.
func (m *Manager) Mode() ControlMode { return m.mode }

// Allocate returns the next identifier from the counter.
func (m *Manager) Allocate() ID {
	m.next++
	return m.next
}

// Peek returns the last allocated or observed identifier.
func (m *Manager) Peek() ID { return m.next }

// Get returns the object with the given ID.
func (m *Manager) Get(id ID) (*Object, bool) {
	o, ok := m.objects[id]
	return o, ok
}

// Has reports whether the graph holds the object.
func (m *Manager) Has(id ID) bool {
	_, ok := m.objects[id]
	return ok
}

// Len returns the number of objects.
func (m *Manager) Len() int { return len(m.objects) }

// Objects returns every object in ID order.
func (m *Manager) Objects() []*Object {
	ids := make([]ID, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Object, len(ids))
	for i, id := range ids {
		out[i] = m.objects[id]
	}
	return out
}

// Replicate runs fn with replication rights. Mutations made by fn are allowed
// on a synchronized graph. Calls may nest.
func (m *Manager) Replicate(fn func() error) error {
	m.replicating++
	defer func() { m.replicating-- }()
	return fn()
}

// Subscribe registers fn for every mutation, delivered synchronously in
// mutation order. Subscribers may read the graph but must not mutate it.
// The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Change)) (unsubscribe func()) {
	m.subSeq++
	id := m.subSeq
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	return func() {
		m.subscribers = slices.DeleteFunc(m.subscribers, func(s subscriber) bool {
			return s.id == id
		})
	}
}

func (m *Manager) notify(c Change) {
	// Copy so a subscriber that unsubscribes does not disturb iteration.
	subs := slices.Clone(m.subscribers)
	for _, s := range subs {
		s.fn(c)
	}
}

func (m *Manager) checkWritable(id ID) error {
	if m.mode == ControlModeSynchronized && m.replicating == 0 {
		return &ProtocolError{
			Code:    ErrCodeReplicaMutation,
			Message: "synchronized graph mutated outside replication",
			Object:  id,
		}
	}
	return nil
}

// Insert adds an object with an explicit ID. The counter advances past id.
func (m *Manager) Insert(id ID, kind Kind, props ir.Map) error {
	if err := m.checkWritable(id); err != nil {
		return err
	}
	if id <= 0 {
		return &ProtocolError{Code: ErrCodeInvalidValue, Message: "object id must be positive", Object: id}
	}
	if _, exists := m.objects[id]; exists {
		return &ProtocolError{Code: ErrCodeDuplicateObject, Message: "object already exists", Object: id}
	}
	if err := validateProps(id, props); err != nil {
		return err
	}

	m.objects[id] = &Object{id: id, kind: kind, props: props.Clone()}
	if id > m.next {
		m.next = id
	}
	if m.objects[id].props == nil {
		m.objects[id].props = ir.Map{}
	}

	m.notify(Change{Op: ChangeCreated, Object: id, Kind: kind})
	return nil
}

// Remove deletes an object and returns it.
func (m *Manager) Remove(id ID) (*Object, error) {
	if err := m.checkWritable(id); err != nil {
		return nil, err
	}
	obj, ok := m.objects[id]
	if !ok {
		return nil, missingObject(id)
	}
	delete(m.objects, id)

	m.notify(Change{Op: ChangeRemoved, Object: id, Kind: obj.kind})
	return obj, nil
}

// Set assigns a property. A nil value removes the property.
// Returns the previous value (nil if absent).
func (m *Manager) Set(id ID, name string, v ir.Value) (ir.Value, error) {
	if err := m.checkWritable(id); err != nil {
		return nil, err
	}
	obj, ok := m.objects[id]
	if !ok {
		return nil, missingObject(id)
	}
	if v != nil {
		if err := validateValue(id, name, v); err != nil {
			return nil, err
		}
	}

	old := obj.props[name]
	if ir.Equal(old, v) {
		return old, nil
	}
	if v == nil {
		delete(obj.props, name)
	} else {
		obj.props[name] = ir.Clone(v)
	}

	m.notify(Change{Op: ChangeSet, Object: id, Kind: obj.kind, Property: name, Old: old, New: v})
	return old, nil
}

// Replace overwrites every property of an existing object, or inserts it if
// absent. Emits ChangeSet for each property that differs.
func (m *Manager) Replace(id ID, kind Kind, props ir.Map) error {
	if err := m.checkWritable(id); err != nil {
		return err
	}
	obj, ok := m.objects[id]
	if !ok {
		return m.Insert(id, kind, props)
	}
	if err := validateProps(id, props); err != nil {
		return err
	}

	names := make(ir.Map, len(obj.props)+len(props))
	for k := range obj.props {
		names[k] = ir.Null{}
	}
	for k := range props {
		names[k] = ir.Null{}
	}
	for _, name := range names.SortedKeys() {
		if _, err := m.Set(id, name, props[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateProps(id ID, props ir.Map) error {
	for _, name := range props.SortedKeys() {
		if err := validateValue(id, name, props[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(id ID, name string, v ir.Value) error {
	if name == "" {
		return &ProtocolError{Code: ErrCodeInvalidValue, Message: "empty property name", Object: id}
	}
	if v == nil {
		return &ProtocolError{Code: ErrCodeInvalidValue, Message: fmt.Sprintf("property %q has no value", name), Object: id}
	}
	if _, isNull := v.(ir.Null); isNull {
		return &ProtocolError{Code: ErrCodeInvalidValue, Message: fmt.Sprintf("property %q is null", name), Object: id}
	}
	return nil
}

// Describe returns the filtered graph as a canonical map:
// {"<id>": {"kind": ..., "props": {...}}}.
// A nil filter includes every object.
func (m *Manager) Describe(filter func(*Object) bool) ir.Map {
	out := ir.Map{}
	for _, obj := range m.Objects() {
		if filter != nil && !filter(obj) {
			continue
		}
		out[strconv.FormatInt(int64(obj.id), 10)] = ir.Map{
			"kind":  ir.String(obj.kind),
			"props": obj.Properties(),
		}
	}
	return out
}

// Digest hashes the filtered graph. Two graphs with equal digests hold the
// same objects with the same kinds and properties.
func (m *Manager) Digest(filter func(*Object) bool) (string, error) {
	return ir.Digest(ir.DomainState, m.Describe(filter))
}
