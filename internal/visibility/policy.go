package visibility

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/tablesync/internal/state"
)

// Scope is how a kind of object decides visibility.
type Scope string

const (
	// ScopeGlobal objects are always visible (game, players).
	ScopeGlobal Scope = "global"
	// ScopeZoned objects follow their current zone (cards).
	ScopeZoned Scope = "zoned"
	// ScopeDerived objects inherit the visibility of their source (abilities).
	ScopeDerived Scope = "derived"
)

// ZoneAccess is who may see objects in a zone.
type ZoneAccess string

const (
	// ZonePublic is visible to every viewer.
	ZonePublic ZoneAccess = "public"
	// ZonePrivate is visible to the owner only.
	ZonePrivate ZoneAccess = "private"
	// ZoneHidden is visible to nobody.
	ZoneHidden ZoneAccess = "hidden"
)

// Policy is a ruleset's visibility table.
type Policy struct {
	Kinds map[state.Kind]Scope
	Zones map[string]ZoneAccess

	// Property names the rules read.
	ZoneProperty       string
	OwnerProperty      string
	SourceProperty     string
	ControllerProperty string
}

// Validate checks the policy is complete.
func (p Policy) Validate() error {
	var errs []error
	if p.ZoneProperty == "" {
		errs = append(errs, errors.New("zone property is required"))
	}
	if p.OwnerProperty == "" {
		errs = append(errs, errors.New("owner property is required"))
	}
	for kind, scope := range p.Kinds {
		switch scope {
		case ScopeGlobal, ScopeZoned:
		case ScopeDerived:
			if p.SourceProperty == "" {
				errs = append(errs, fmt.Errorf("kind %q is derived but no source property is set", kind))
			}
		default:
			errs = append(errs, fmt.Errorf("kind %q: unknown scope %q", kind, scope))
		}
	}
	for zone, access := range p.Zones {
		switch access {
		case ZonePublic, ZonePrivate, ZoneHidden:
		default:
			errs = append(errs, fmt.Errorf("zone %q: unknown access %q", zone, access))
		}
	}
	return errors.Join(errs...)
}

// Watched returns the properties whose change can flip visibility, sorted.
// This is the invalidation set of the policy.
func (p Policy) Watched() []string {
	var out []string
	for _, name := range []string{p.ZoneProperty, p.OwnerProperty, p.SourceProperty} {
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
