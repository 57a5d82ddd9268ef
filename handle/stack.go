package handle

// Destroyer is anything which can release what it holds.
type Destroyer interface {
	Destroy()
}

// DestroyerFunc adapts a plain function to Destroyer.
type DestroyerFunc func()

// Destroy calls f.
func (f DestroyerFunc) Destroy() {
	f()
}

// Stack releases what was pushed onto it in reverse order. Composites use it
// to undo partially finished construction and sessions use it for teardown.
type Stack struct {
	items []Destroyer
}

// Push records d to be destroyed before everything pushed earlier.
func (s *Stack) Push(d Destroyer) {
	if d == nil {
		return
	}
	s.items = append(s.items, d)
}

// PushFunc is Push for a plain function.
func (s *Stack) PushFunc(f func()) {
	s.Push(DestroyerFunc(f))
}

// Len returns the number of pending destroyers.
func (s *Stack) Len() int {
	return len(s.items)
}

// Destroy pops and destroys everything, last pushed first.
func (s *Stack) Destroy() {
	for len(s.items) > 0 {
		last := len(s.items) - 1
		d := s.items[last]
		s.items[last] = nil
		s.items = s.items[:last]
		d.Destroy()
	}
}

// Forget drops every pending destroyer without running it. Constructors call
// it once ownership has been handed to the finished object.
func (s *Stack) Forget() {
	s.items = nil
}
