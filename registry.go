package deployr

import "fmt"

// registry is the user function table. Written only before Deploy, read
// during dispatch; no locking needed.
type registry struct {
	fns map[string]func()
}

func newRegistry() *registry {
	return &registry{fns: make(map[string]func())}
}

// register stores an entry function. The first registration wins.
func (r *registry) register(name string, fn func()) error {
	if name == "" || fn == nil {
		return NewError("RegisterFunction", ErrCodeInvalidDescription,
			fmt.Sprintf("invalid registration for %q", name))
	}
	if _, ok := r.fns[name]; ok {
		return NewError("RegisterFunction", ErrCodeDuplicateName,
			fmt.Sprintf("function %q already registered", name))
	}
	r.fns[name] = fn
	return nil
}

func (r *registry) lookup(name string) (func(), bool) {
	fn, ok := r.fns[name]
	return fn, ok
}
