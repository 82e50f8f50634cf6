// Package rpc implements the control plane used to bootstrap deployments:
// a table of named targets, a blocking serve loop, and request/response
// with an explicitly freed return-value buffer. It layers naming and
// dispatch on top of the transport's point-to-point primitives.
package rpc

import (
	"errors"
	"fmt"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

var (
	// ErrDuplicateName is returned when a target name is already taken.
	ErrDuplicateName = errors.New("rpc: target name already registered")

	// ErrUnknownTarget is returned when a request names a target that is
	// not registered on the serving instance. It travels back to the
	// requester as the reply.
	ErrUnknownTarget = errors.New("rpc: unknown target")

	// ErrReturnAlreadySubmitted is returned when a target closure submits
	// a return value twice in one invocation.
	ErrReturnAlreadySubmitted = errors.New("rpc: return value already submitted")

	// ErrNoActiveCall is returned when SubmitReturnValue or Argument is
	// used outside a target invocation.
	ErrNoActiveCall = errors.New("rpc: no call being served")
)

// Engine serves and issues named RPCs over a transport. The target table is
// mutated only before the deployment starts; Listen and Request may then be
// used freely. One Engine belongs to one instance.
type Engine struct {
	transport interfaces.Transport
	logger    interfaces.Logger
	observer  interfaces.Observer

	targets map[string]func()

	// Serve-side state for the call currently being dispatched. Only the
	// goroutine inside Listen touches these.
	current   interfaces.Call
	pending   []byte
	submitted bool
}

// New creates an engine bound to a transport. Logger and observer may be nil.
func New(t interfaces.Transport, logger interfaces.Logger, observer interfaces.Observer) *Engine {
	return &Engine{
		transport: t,
		logger:    logger,
		observer:  observer,
		targets:   make(map[string]func()),
	}
}

// Register stores a named target closure. The first registration wins;
// re-registering a name fails with ErrDuplicateName and leaves the table
// unchanged.
func (e *Engine) Register(name string, fn func()) error {
	if name == "" || fn == nil {
		return fmt.Errorf("rpc: invalid registration for %q", name)
	}
	if _, ok := e.targets[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	e.targets[name] = fn
	return nil
}

// Registered reports whether name is in the target table.
func (e *Engine) Registered(name string) bool {
	_, ok := e.targets[name]
	return ok
}

// Listen blocks until exactly one incoming request arrives, executes the
// named target, replies with the submitted return value (if any), and
// returns. An unregistered name is replied to the caller as ErrUnknownTarget
// and also returned here so the caller of Listen can decide whether the
// serve loop continues.
func (e *Engine) Listen() error {
	call, err := e.transport.Listen()
	if err != nil {
		return err
	}

	name := call.Name()
	fn, ok := e.targets[name]
	if !ok {
		if e.logger != nil {
			e.logger.Printf("rpc: request for unknown target %q", name)
		}
		call.Reply(nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name))
		if e.observer != nil {
			e.observer.ObserveServe(name, false)
		}
		return fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}

	e.current = call
	e.pending = nil
	e.submitted = false

	fn()

	payload := e.pending
	e.current = nil
	e.pending = nil
	e.submitted = false

	call.Reply(payload, nil)
	if e.observer != nil {
		e.observer.ObserveServe(name, true)
	}
	return nil
}

// SubmitReturnValue declares the reply payload from inside a target closure.
// At most once per invocation.
func (e *Engine) SubmitReturnValue(p []byte) error {
	if e.current == nil {
		return ErrNoActiveCall
	}
	if e.submitted {
		return ErrReturnAlreadySubmitted
	}
	e.pending = p
	e.submitted = true
	return nil
}

// Argument reads the caller-supplied integer argument of the call being
// served. Used by launch shims to recover the runner id.
func (e *Engine) Argument() (uint64, error) {
	if e.current == nil {
		return 0, ErrNoActiveCall
	}
	return e.current.Argument(), nil
}

// Request sends a request to target and blocks until the reply arrives.
// A non-nil error is the remote target's failure or a transport failure.
// The reply payload is borrowed via ReturnValue until FreeReturnValue.
func (e *Engine) Request(target interfaces.InstanceID, name string, arg uint64) error {
	if e.logger != nil {
		e.logger.Debugf("rpc: request target=%d name=%q arg=%d", target, name, arg)
	}
	return e.transport.RequestRPC(target, name, arg)
}

// ReturnValue borrows the reply payload of the last completed request to
// target. Valid until FreeReturnValue.
func (e *Engine) ReturnValue(target interfaces.InstanceID) ([]byte, error) {
	return e.transport.ReturnValue(target)
}

// FreeReturnValue releases the borrowed reply buffer for target.
func (e *Engine) FreeReturnValue(target interfaces.InstanceID) {
	e.transport.FreeReturnValue(target)
}
