// Package handle binds native graphics handles to the object which owns them
// and to the call which destroys them.
//
// An Owned value is the only thing allowed to destroy its handle. Passing the
// raw value down a call chain is done with a Borrowed alias which never
// destroys anything. The owner must outlive every alias made from it.
package handle

import (
	"errors"
	"fmt"
)

var (
	// ErrNullHandle is returned when an empty or moved-from handle is
	// dereferenced.
	ErrNullHandle = errors.New("null handle")

	// ErrCreation wraps every failure of a native creation call.
	ErrCreation = errors.New("creation failed")
)

// NullHandleError is the panic value used by Must. It unwraps to
// ErrNullHandle so recovered values can be tested with errors.Is.
type NullHandleError struct {
	Type string
}

func (e *NullHandleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNullHandle, e.Type)
}

func (e *NullHandleError) Unwrap() error {
	return ErrNullHandle
}

// DestroyFunc releases h. It receives the owner the handle was created from,
// such as the device for a buffer or the instance for a surface.
type DestroyFunc[H comparable, O any] func(h H, owner O)

// Owned is a native handle together with its owner and destroy call. It must
// not be copied after first use; pass *Owned or a Borrowed alias instead.
type Owned[H comparable, O any] struct {
	noCopy noCopy

	handle  H
	owner   O
	destroy DestroyFunc[H, O]
}

// Wrap adopts an already created handle. A zero handle yields an empty Owned.
func Wrap[H comparable, O any](h H, owner O, destroy DestroyFunc[H, O]) *Owned[H, O] {
	var zero H
	if h == zero {
		return &Owned[H, O]{}
	}
	return &Owned[H, O]{handle: h, owner: owner, destroy: destroy}
}

// Create calls the native factory and wraps its result. A factory which
// returns a zero handle without an error is treated as a failure too.
func Create[H comparable, O any](
	owner O,
	create func(owner O) (H, error),
	destroy DestroyFunc[H, O],
) (*Owned[H, O], error) {
	h, err := create(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreation, err)
	}

	var zero H
	if h == zero {
		return nil, fmt.Errorf("%w: factory returned %w", ErrCreation, ErrNullHandle)
	}

	return &Owned[H, O]{handle: h, owner: owner, destroy: destroy}, nil
}

// Valid reports whether o currently owns a handle.
func (o *Owned[H, O]) Valid() bool {
	if o == nil {
		return false
	}
	var zero H
	return o.handle != zero
}

// Get returns the raw handle or ErrNullHandle when o is empty.
func (o *Owned[H, O]) Get() (H, error) {
	if !o.Valid() {
		var zero H
		return zero, &NullHandleError{Type: fmt.Sprintf("%T", zero)}
	}
	return o.handle, nil
}

// Must returns the raw handle and panics with a *NullHandleError when o is
// empty. It is for places where a valid handle is an invariant.
func (o *Owned[H, O]) Must() H {
	h, err := o.Get()
	if err != nil {
		panic(err)
	}
	return h
}

// Owner returns the object the handle was created from.
func (o *Owned[H, O]) Owner() O {
	if o == nil {
		var zero O
		return zero
	}
	return o.owner
}

// Borrow returns a non-owning alias of the current handle.
func (o *Owned[H, O]) Borrow() Borrowed[H] {
	if o == nil {
		return Borrowed[H]{}
	}
	return Borrowed[H]{handle: o.handle}
}

// Move transfers the handle into a new Owned and leaves o empty.
func (o *Owned[H, O]) Move() *Owned[H, O] {
	if !o.Valid() {
		return &Owned[H, O]{}
	}
	moved := &Owned[H, O]{handle: o.handle, owner: o.owner, destroy: o.destroy}
	o.clear()
	return moved
}

// Take destroys whatever o owns and then moves other into o, leaving other
// empty. Taking from itself is a no-op.
func (o *Owned[H, O]) Take(other *Owned[H, O]) {
	if o == other {
		return
	}
	o.Destroy()
	if !other.Valid() {
		return
	}
	o.handle, o.owner, o.destroy = other.handle, other.owner, other.destroy
	other.clear()
}

// Release gives up ownership without destroying and returns the raw handle.
func (o *Owned[H, O]) Release() H {
	if o == nil {
		var zero H
		return zero
	}
	h := o.handle
	o.clear()
	return h
}

// Destroy releases the handle through its destroy call. The state is cleared
// before the call so the handle is destroyed at most once.
func (o *Owned[H, O]) Destroy() {
	if !o.Valid() {
		return
	}
	h, owner, destroy := o.handle, o.owner, o.destroy
	o.clear()
	if destroy != nil {
		destroy(h, owner)
	}
}

func (o *Owned[H, O]) clear() {
	var (
		zeroH H
		zeroO O
	)
	o.handle = zeroH
	o.owner = zeroO
	o.destroy = nil
}

func (o *Owned[H, O]) String() string {
	if !o.Valid() {
		return "<null>"
	}
	return fmt.Sprintf("%v", o.handle)
}

// Borrowed is a non-owning alias of a handle. It may be copied freely and
// never destroys what it refers to.
type Borrowed[H comparable] struct {
	handle H
}

// Borrow makes an alias of a raw handle owned elsewhere, for example the
// swapchain images which the swapchain itself owns.
func Borrow[H comparable](h H) Borrowed[H] {
	return Borrowed[H]{handle: h}
}

// Get returns the raw handle or ErrNullHandle for an empty alias.
func (b Borrowed[H]) Get() (H, error) {
	var zero H
	if b.handle == zero {
		return zero, &NullHandleError{Type: fmt.Sprintf("%T", zero)}
	}
	return b.handle, nil
}

// Must returns the raw handle and panics with a *NullHandleError when empty.
func (b Borrowed[H]) Must() H {
	h, err := b.Get()
	if err != nil {
		panic(err)
	}
	return h
}

// Valid reports whether the alias refers to a handle.
func (b Borrowed[H]) Valid() bool {
	var zero H
	return b.handle != zero
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527 for details.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
