package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/state"
)

// AssertionError is returned when an assertion fails.
// It includes the viewer's delivery trace to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Viewer   string   // Viewer the assertion was about, if any
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Deliveries to Viewer, in order
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Viewer != "" {
		fmt.Fprintf(&buf, " (viewer %s)", e.Viewer)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nDeliveries:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}

	return buf.String()
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.check(a, result); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func (h *Harness) check(a Assertion, result *Result) error {
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     a.Type,
			Viewer:   a.Viewer,
			Expected: expected,
			Actual:   actual,
			Trace:    result.ViewerTrace(a.Viewer),
		}
	}

	var v *viewerState
	if a.Viewer != "" {
		if v = h.viewer(a.Viewer); v == nil {
			return fail("registered viewer", "not registered")
		}
	}

	switch a.Type {
	case AssertSees, AssertNotSees:
		id := h.refs[a.Ref]
		held := v.replica.State().Has(id)
		want := a.Type == AssertSees
		if held != want {
			return fail(
				fmt.Sprintf("%s held=%t", describeRef(a.Ref, id), want),
				fmt.Sprintf("held=%t", held),
			)
		}
		return nil

	case AssertProperty:
		id := h.refs[a.Ref]
		obj, ok := v.replica.State().Get(id)
		if !ok {
			return fail(describeRef(a.Ref, id)+" held", "not held")
		}
		got, present := obj.Get(a.Property)
		if a.Value == nil {
			if present {
				return fail(a.Property+" absent", render(got))
			}
			return nil
		}
		want, err := ir.FromAny(a.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		if !present || !ir.Equal(want, got) {
			return fail(fmt.Sprintf("%s = %s", a.Property, render(want)), render(got))
		}
		return nil

	case AssertDeliveryCount:
		n := 0
		for _, ev := range result.Trace {
			if ev.Viewer == a.Viewer && (a.Kind == "" || ev.Kind == a.Kind) {
				n++
			}
		}
		if n != *a.Count {
			kind := a.Kind
			if kind == "" {
				kind = "all"
			}
			return fail(fmt.Sprintf("%d deliveries (%s)", *a.Count, kind), fmt.Sprintf("%d", n))
		}
		return nil

	case AssertConverged:
		targets := h.viewers
		if v != nil {
			targets = []*viewerState{v}
		}
		for _, t := range targets {
			if err := h.converged(t); err != nil {
				return &AssertionError{
					Type:     a.Type,
					Viewer:   string(t.key),
					Expected: "replica matches every visible canonical object",
					Actual:   err.Error(),
					Trace:    result.ViewerTrace(string(t.key)),
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// converged checks that the replica holds every object visible to the
// viewer with the canonical kind and properties. An object delivered as a
// stub must agree on the properties the stub carries.
func (h *Harness) converged(v *viewerState) error {
	if d := v.replica.Depth(); d != 0 {
		return fmt.Errorf("%d transactions left open", d)
	}
	view, ok := h.source.View(v.client)
	if !ok {
		return fmt.Errorf("viewer not registered with source")
	}

	for _, obj := range h.engine.Table().State().Objects() {
		visible, err := h.visible.IsVisible(obj, v.key)
		if err != nil {
			return err
		}
		if !visible {
			continue
		}
		got, held := v.replica.State().Get(obj.ID())
		if !held {
			return fmt.Errorf("%s missing", obj.ID())
		}
		if got.Kind() != obj.Kind() {
			return fmt.Errorf("%s kind %s, canonical %s", obj.ID(), got.Kind(), obj.Kind())
		}

		want := obj.Properties()
		have := got.Properties()
		if view.HoldsFullCopy(obj.ID()) {
			if !ir.Equal(want, have) {
				return fmt.Errorf("%s is %s, canonical %s", obj.ID(), render(have), render(want))
			}
			continue
		}
		for k, val := range have {
			if !ir.Equal(want[k], val) {
				return fmt.Errorf("stub %s.%s is %s, canonical %s", obj.ID(), k, render(val), render(want[k]))
			}
		}
	}
	return nil
}

func describeRef(ref string, id state.ID) string {
	return fmt.Sprintf("%s (%s)", ref, id)
}

// render formats a value as canonical JSON.
func render(v ir.Value) string {
	if v == nil {
		return "<absent>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
