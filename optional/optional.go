// Package optional holds values which may not have been set yet.
package optional

// Optional is a value of type T which may be unset. The zero value is unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Of returns an Optional which has the value v.
func Of[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Set sets the value.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.set = true
}

// HasValue returns true when Set has been called.
func (o Optional[T]) HasValue() bool {
	return o.set
}

// Get returns the value. It is the zero value of T when nothing has been set.
func (o Optional[T]) Get() T {
	return o.value
}

// Reset makes the optional unset again.
func (o *Optional[T]) Reset() {
	var zero T
	o.value = zero
	o.set = false
}
