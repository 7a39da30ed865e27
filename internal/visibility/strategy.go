package visibility

import (
	"errors"
	"slices"

	"github.com/roach88/tablesync/internal/state"
)

// ViewerKey identifies a viewer to a strategy (usually a player handle).
type ViewerKey string

// ErrNilObject is returned when a strategy is asked about a nil object.
var ErrNilObject = errors.New("visibility: nil object")

// Change reports that an object's visibility to a viewer flipped.
type Change struct {
	Object  state.ID
	Viewer  ViewerKey
	Visible bool
}

// Strategy decides what each viewer may see.
//
// IsVisible is a pure function of the current canonical graph. Subscribers
// are told, synchronously, whenever a mutation flips the result for a
// tracked viewer.
type Strategy interface {
	IsVisible(obj *state.Object, viewer ViewerKey) (bool, error)
	Subscribe(fn func(Change)) (unsubscribe func())
}

// ViewerTracker is implemented by strategies that only compute flips for
// viewers they were told about.
type ViewerTracker interface {
	AddViewer(viewer ViewerKey)
	RemoveViewer(viewer ViewerKey)
}

// Open shows everything to everyone.
type Open struct{}

// IsVisible implements Strategy.
func (Open) IsVisible(obj *state.Object, _ ViewerKey) (bool, error) {
	if obj == nil {
		return false, ErrNilObject
	}
	return true, nil
}

// Subscribe implements Strategy. Open never fires.
func (Open) Subscribe(func(Change)) func() { return func() {} }

type broadcaster[T any] struct {
	seq  int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func (b *broadcaster[T]) subscribe(fn func(T)) func() {
	b.seq++
	id := b.seq
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		b.subs = slices.DeleteFunc(b.subs, func(s subscriber[T]) bool { return s.id == id })
	}
}

func (b *broadcaster[T]) emit(v T) {
	for _, s := range slices.Clone(b.subs) {
		s.fn(v)
	}
}

type viewerSet struct {
	keys []ViewerKey
}

func (v *viewerSet) add(k ViewerKey) {
	if !slices.Contains(v.keys, k) {
		v.keys = append(v.keys, k)
	}
}

func (v *viewerSet) remove(k ViewerKey) {
	v.keys = slices.DeleteFunc(v.keys, func(x ViewerKey) bool { return x == k })
}
