package ruleset

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tablesync/internal/state"
	"github.com/roach88/tablesync/internal/visibility"
)

//go:embed schema.cue
var schemaSource string

//go:embed default.cue
var defaultSource string

// Ruleset is a compiled visibility ruleset.
type Ruleset struct {
	Name   string
	Policy visibility.Policy
}

// CompileError is a ruleset error with its CUE position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default compiles the embedded tabletop ruleset.
func Default() (*Ruleset, error) {
	return CompileSource("default.cue", []byte(defaultSource))
}

// MustDefault is like Default but panics on error.
func MustDefault() *Ruleset {
	rs, err := Default()
	if err != nil {
		panic(err)
	}
	return rs
}

// CompileSource compiles one CUE file against the ruleset schema.
func CompileSource(filename string, src []byte) (*Ruleset, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileWithSchema(ctx, v)
}

// LoadDir loads every .cue file of the package in dir.
func LoadDir(dir string) (*Ruleset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ruleset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileWithSchema(ctx, v)
}

func compileWithSchema(ctx *cue.Context, v cue.Value) (*Ruleset, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = v.Unify(schema)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v.LookupPath(cue.ParsePath("ruleset")))
}

// Compile converts a validated `ruleset` CUE value.
func Compile(v cue.Value) (*Ruleset, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "ruleset", Message: "ruleset is required"}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &Ruleset{
		Policy: visibility.Policy{
			Kinds: make(map[state.Kind]visibility.Scope),
			Zones: make(map[string]visibility.ZoneAccess),
		},
	}

	name, err := lookupString(v, "name")
	if err != nil {
		return nil, err
	}
	rs.Name = name

	props := []struct {
		path string
		dst  *string
	}{
		{"properties.zone", &rs.Policy.ZoneProperty},
		{"properties.owner", &rs.Policy.OwnerProperty},
		{"properties.source", &rs.Policy.SourceProperty},
		{"properties.controller", &rs.Policy.ControllerProperty},
	}
	for _, p := range props {
		s, err := lookupString(v, p.path)
		if err != nil {
			return nil, err
		}
		*p.dst = s
	}

	if err := eachString(v, "kinds", func(label, value string) {
		rs.Policy.Kinds[state.Kind(label)] = visibility.Scope(value)
	}); err != nil {
		return nil, err
	}
	if err := eachString(v, "zones", func(label, value string) {
		rs.Policy.Zones[label] = visibility.ZoneAccess(value)
	}); err != nil {
		return nil, err
	}

	if len(rs.Policy.Kinds) == 0 {
		return nil, &CompileError{Field: "kinds", Message: "at least one kind is required", Pos: v.Pos()}
	}
	if err := rs.Policy.Validate(); err != nil {
		return nil, &CompileError{Field: "ruleset", Message: err.Error(), Pos: v.Pos()}
	}
	return rs, nil
}

func lookupString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	if d, ok := f.Default(); ok {
		f = d
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func eachString(v cue.Value, path string, fn func(label, value string)) error {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil
	}
	iter, err := f.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return &CompileError{Field: path + "." + iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
		}
		fn(iter.Label(), s)
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
