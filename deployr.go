package deployr

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Algebraic-Programming/DeployR/internal/channel"
	"github.com/Algebraic-Programming/DeployR/internal/constants"
	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
	"github.com/Algebraic-Programming/DeployR/internal/match"
	"github.com/Algebraic-Programming/DeployR/internal/rpc"
	"github.com/Algebraic-Programming/DeployR/topology"
)

// State represents the runtime's position in the deployment state machine.
type State string

const (
	StateNew          State = "new"
	StateInitialized  State = "initialized"
	StateMatching     State = "matching"
	StateDispatching  State = "dispatching"
	StateListening    State = "listening"
	StateRunningLocal State = "running-local"
	StateDone         State = "done"
)

// Options contains optional hooks for runtime creation.
type Options struct {
	// Logger for runtime events. Nil means no logging.
	Logger interfaces.Logger

	// Observer for metrics collection. Nil installs the built-in metrics
	// observer.
	Observer interfaces.Observer
}

// Runtime drives one instance's participation in a deployment. Create one
// per instance, register the entry functions and channels, then call
// Initialize and Deploy from the instance's goroutine.
type Runtime struct {
	transport interfaces.Transport
	logger    interfaces.Logger
	observer  interfaces.Observer
	metrics   *Metrics

	engine   *rpc.Engine
	registry *registry

	specs     map[string]*ChannelSpec
	specOrder []string

	localTopo *topology.Topology

	mu    sync.Mutex
	state State

	// Launch-time state, touched only by this instance's serving goroutine.
	channels      map[string]*Channel
	currentRunner uint64
	hasRunner     bool
	launched      bool
	released      bool
	shimErr       error
}

// New creates a runtime bound to a transport endpoint.
func New(t interfaces.Transport, opts *Options) *Runtime {
	if opts == nil {
		opts = &Options{}
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	rt := &Runtime{
		transport: t,
		logger:    opts.Logger,
		observer:  observer,
		metrics:   metrics,
		registry:  newRegistry(),
		specs:     make(map[string]*ChannelSpec),
		localTopo: topology.New(),
		state:     StateNew,
		channels:  make(map[string]*Channel),
	}
	rt.engine = rpc.New(t, opts.Logger, observer)
	return rt
}

// Metrics returns the runtime's metrics.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// State returns the runtime's current state.
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

func (rt *Runtime) setState(s State) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
	if rt.logger != nil {
		rt.logger.Debugf("runtime state=%s instance=%d", s, rt.transport.InstanceID())
	}
}

// SetLocalTopology installs this instance's hardware description, as
// reported by whatever discovery the embedding process runs. Reports from
// multiple backends are merged by the caller beforehand. Must be called
// before Deploy.
func (rt *Runtime) SetLocalTopology(t *topology.Topology) error {
	if t == nil {
		return NewError("SetLocalTopology", ErrCodeInvalidDescription, "nil topology")
	}
	if err := t.Validate(); err != nil {
		return WrapError("SetLocalTopology", err)
	}
	rt.localTopo = t
	return nil
}

// RunnerID returns the id of the runner executing on this instance. Only
// meaningful inside an entry function.
func (rt *Runtime) RunnerID() (uint64, bool) {
	return rt.currentRunner, rt.hasRunner
}

// RegisterFunction registers an entry function under name, and an RPC
// launch target of the same name. Must be called before Deploy; the first
// registration wins.
func (rt *Runtime) RegisterFunction(name string, fn func()) error {
	if name == constants.GetTopologyTarget || name == constants.ReleaseTarget {
		return NewError("RegisterFunction", ErrCodeDuplicateName,
			fmt.Sprintf("%q is reserved", name))
	}
	if err := rt.registry.register(name, fn); err != nil {
		return err
	}
	shim := func() { rt.launchShim(name, fn) }
	if err := rt.engine.Register(name, shim); err != nil {
		return WrapError("RegisterFunction", err)
	}
	return nil
}

// DefineChannel declares a channel. Must be called before Deploy, with the
// same spec on every instance.
func (rt *Runtime) DefineChannel(spec ChannelSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if _, ok := rt.specs[spec.Name]; ok {
		return NewError("DefineChannel", ErrCodeDuplicateName,
			fmt.Sprintf("channel %q already defined", spec.Name))
	}
	s := spec
	rt.specs[spec.Name] = &s
	rt.specOrder = channel.SortNames(append(rt.specOrder, spec.Name))
	return nil
}

// Channel returns the handle for a defined channel. Valid inside an entry
// function, after the launch handshake has run.
func (rt *Runtime) Channel(name string) (*Channel, error) {
	ch, ok := rt.channels[name]
	if !ok {
		return nil, NewError("Channel", ErrCodeInvalidDescription,
			fmt.Sprintf("channel %q not open on this instance", name))
	}
	return ch, nil
}

// Initialize registers the built-in bootstrap targets and moves the
// runtime to the initialized state.
func (rt *Runtime) Initialize() error {
	if rt.State() != StateNew {
		return NewError("Initialize", ErrCodeInvalidState,
			fmt.Sprintf("initialize in state %q", rt.State()))
	}

	err := rt.engine.Register(constants.GetTopologyTarget, func() {
		_ = rt.engine.SubmitReturnValue(rt.localTopo.Serialize())
	})
	if err != nil {
		return WrapError("Initialize", err)
	}

	err = rt.engine.Register(constants.ReleaseTarget, func() {
		if err := rt.openChannels(0, false); err != nil {
			rt.handshakeFailure(err)
			return
		}
		rt.released = true
	})
	if err != nil {
		return WrapError("Initialize", err)
	}

	rt.setState(StateInitialized)
	return nil
}

// Deploy runs the deployment to completion from this instance's point of
// view. On the coordinator it gathers topologies when needed, matches,
// dispatches every runner, executes its own (if any) and waits for all
// launch replies; on every other instance it serves bootstrap requests
// until its launch request has been executed. All dispatched entries have
// returned by the time Deploy returns without error.
func (rt *Runtime) Deploy(d *Deployment) error {
	if rt.State() != StateInitialized {
		return NewError("Deploy", ErrCodeInvalidState,
			fmt.Sprintf("deploy in state %q", rt.State()))
	}
	if err := d.validate(); err != nil {
		return err
	}

	if rt.transport.InstanceID() == d.Coordinator {
		return rt.coordinate(d)
	}
	return rt.serve()
}

// serve is the worker path: park in listen until the launch shim (or the
// release target) has run.
func (rt *Runtime) serve() error {
	rt.setState(StateListening)
	for !rt.launched && !rt.released {
		if err := rt.engine.Listen(); err != nil {
			if errors.Is(err, rpc.ErrUnknownTarget) {
				// The caller was told; the deployment cannot launch here.
				rt.setState(StateDone)
				return WrapError("Deploy", err)
			}
			return WrapError("Deploy", err)
		}
	}
	rt.setState(StateDone)
	return rt.shimErr
}

// coordinate is the coordinator path: match, dispatch, run local, join.
func (rt *Runtime) coordinate(d *Deployment) error {
	self := rt.transport.InstanceID()
	group := rt.transport.Instances()

	if d.needsMatching() {
		rt.setState(StateMatching)
		if err := rt.matchDeployment(d, group); err != nil {
			return err
		}
	}

	if err := d.validateInstances(group); err != nil {
		return err
	}
	for i := range d.Runners {
		r := &d.Runners[i]
		if _, ok := rt.registry.lookup(r.Function); !ok {
			return NewRunnerError("Deploy", r.ID, ErrCodeUnknownFunction,
				fmt.Sprintf("function %q is not registered", r.Function))
		}
	}

	rt.setState(StateDispatching)

	var g errgroup.Group
	for i := range d.Runners {
		r := d.Runners[i]
		if r.Instance == self {
			continue
		}
		g.Go(func() error {
			err := rt.engine.Request(r.Instance, r.Function, r.ID)
			rt.observer.ObserveDispatch(r.ID, err == nil)
			rt.engine.FreeReturnValue(r.Instance)
			if err != nil {
				if errors.Is(err, rpc.ErrUnknownTarget) {
					return NewRunnerError("Deploy", r.ID, ErrCodeUnknownFunction,
						fmt.Sprintf("instance %d has no function %q", r.Instance, r.Function))
				}
				return WrapError("Deploy", err)
			}
			return nil
		})
	}

	// Instances hosting no runner still owe every channel fence their
	// participation; release them explicitly.
	for _, inst := range group {
		if inst == self || d.hosted(inst) != nil {
			continue
		}
		inst := inst
		g.Go(func() error {
			err := rt.engine.Request(inst, constants.ReleaseTarget, 0)
			rt.engine.FreeReturnValue(inst)
			if err != nil {
				return WrapError("Deploy", err)
			}
			return nil
		})
	}

	// With the launch wave posted, take the coordinator's own place in the
	// channel handshakes, then run the local runner if one is assigned.
	localErr := rt.runLocal(d.hosted(self))

	waitErr := g.Wait()
	rt.setState(StateDone)

	if localErr != nil {
		return localErr
	}
	return waitErr
}

// matchDeployment gathers every instance's topology, runs the matcher and
// assigns each runner's instance from the result.
func (rt *Runtime) matchDeployment(d *Deployment, group []InstanceID) error {
	given, err := rt.gatherGlobalTopology(group)
	if err != nil {
		rt.observer.ObserveGather(len(group), false)
		return err
	}
	rt.observer.ObserveGather(len(group), true)

	required := make([]*topology.Topology, len(d.Runners))
	for i := range d.Runners {
		required[i] = d.Runners[i].Required
	}

	assignment, ok := match.Match(required, given)
	if !ok {
		return NewError("Deploy", ErrCodeUnmatchable,
			fmt.Sprintf("no assignment of %d runners onto %d instances", len(required), len(given)))
	}
	for i := range d.Runners {
		d.Runners[i].Instance = group[assignment[i]]
	}

	if rt.logger != nil {
		for i := range d.Runners {
			rt.logger.Debugf("matched runner %d -> instance %d", d.Runners[i].ID, d.Runners[i].Instance)
		}
	}
	return nil
}

// gatherGlobalTopology collects the local topology of every instance in
// group, in group order. The coordinator reads its own directly.
func (rt *Runtime) gatherGlobalTopology(group []InstanceID) ([]*topology.Topology, error) {
	self := rt.transport.InstanceID()
	out := make([]*topology.Topology, len(group))
	for i, inst := range group {
		if inst == self {
			out[i] = rt.localTopo
			continue
		}
		if err := rt.engine.Request(inst, constants.GetTopologyTarget, 0); err != nil {
			return nil, WrapError("Deploy", err)
		}
		buf, err := rt.engine.ReturnValue(inst)
		if err != nil {
			return nil, WrapError("Deploy", err)
		}
		t, err := topology.Deserialize(buf)
		rt.engine.FreeReturnValue(inst)
		if err != nil {
			return nil, WrapError("Deploy", err)
		}
		out[i] = t
	}
	return out, nil
}

// runLocal opens this instance's channel endpoints and executes the local
// runner, if any. Runs on the coordinator after the dispatch wave has been
// posted.
func (rt *Runtime) runLocal(r *Runner) error {
	var runnerID uint64
	hosted := r != nil
	if hosted {
		runnerID = r.ID
	}

	if err := rt.openChannels(runnerID, hosted); err != nil {
		rt.handshakeFailure(err)
		return WrapError("Deploy", err)
	}
	if !hosted {
		return nil
	}

	fn, ok := rt.registry.lookup(r.Function)
	if !ok {
		return NewRunnerError("Deploy", r.ID, ErrCodeUnknownFunction,
			fmt.Sprintf("function %q is not registered", r.Function))
	}

	rt.currentRunner = r.ID
	rt.hasRunner = true
	rt.setState(StateRunningLocal)
	fn()
	rt.observer.ObserveDispatch(r.ID, true)
	return nil
}

// launchShim is the RPC body behind every user function: it recovers the
// runner id from the call argument, takes this instance's place in the
// channel handshakes and runs the entry.
func (rt *Runtime) launchShim(name string, fn func()) {
	arg, err := rt.engine.Argument()
	if err != nil {
		rt.shimErr = WrapError("Deploy", err)
		return
	}
	rt.currentRunner = arg
	rt.hasRunner = true

	if err := rt.openChannels(arg, true); err != nil {
		rt.handshakeFailure(err)
		rt.shimErr = WrapError("Deploy", err)
		return
	}

	if rt.logger != nil {
		rt.logger.Printf("launching %q runner=%d instance=%d", name, arg, rt.transport.InstanceID())
	}
	rt.setState(StateRunningLocal)
	fn()
	rt.launched = true
}

// openChannels runs the collective handshake for every defined channel in
// deterministic name order. runnerID selects the role; hosted is false on
// instances without a runner, which participate with role none.
func (rt *Runtime) openChannels(runnerID uint64, hosted bool) error {
	for _, name := range rt.specOrder {
		spec := rt.specs[name]
		ch, err := channel.Open(channel.Config{
			Name:       name,
			Role:       spec.role(runnerID, hosted),
			Capacity:   spec.BufferCapacity,
			BufferSize: spec.BufferSize,
			Transport:  rt.transport,
			Logger:     rt.logger,
			Observer:   rt.observer,
		})
		if err != nil {
			return err
		}
		rt.channels[name] = &Channel{inner: ch}
	}
	return nil
}

// handshakeFailure handles a transport failure inside a collective phase.
// The fence cannot be unwound, so the fabric is aborted.
func (rt *Runtime) handshakeFailure(err error) {
	if rt.logger != nil {
		rt.logger.Printf("channel handshake failed, aborting fabric: %v", err)
	}
	rt.transport.Abort(1)
}

// Finalize releases channel slots and shuts down the transport endpoint.
func (rt *Runtime) Finalize() error {
	for name, ch := range rt.channels {
		_ = ch.inner.Close()
		delete(rt.channels, name)
	}
	rt.metrics.Stop()
	if err := rt.transport.Finalize(); err != nil {
		return WrapError("Finalize", err)
	}
	return nil
}
