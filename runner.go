// Package deployr is a distributed-job deployment runtime. A job is a set
// of runners, each an independent entry function that must execute on a
// dedicated instance whose hardware topology satisfies the runner's
// requirements. The runtime matches runners to instances, launches each
// entry over the transport's RPC fabric, and wires up the requested
// producer/consumer channels.
package deployr

import (
	"fmt"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
	"github.com/Algebraic-Programming/DeployR/topology"
)

// InstanceID addresses one participant in the transport layer.
type InstanceID = interfaces.InstanceID

// Runner is one unit of user work: an entry function bound to a target
// instance, either directly or through a required topology that the
// matcher resolves. Immutable once Deploy begins.
type Runner struct {
	// ID is unique within a deployment.
	ID uint64

	// Function names the registered entry to run.
	Function string

	// Instance is the assigned instance. Ignored when Required is set;
	// the matcher fills it in.
	Instance InstanceID

	// Required, when non-nil, selects the instance by topology matching
	// instead of direct assignment. All runners of a deployment must use
	// the same mode.
	Required *topology.Topology
}

// Deployment is an ordered list of runners plus the coordinator instance.
type Deployment struct {
	Runners     []Runner
	Coordinator InstanceID
}

// needsMatching reports whether the deployment selects instances by
// topology. Mixing modes is rejected by validate.
func (d *Deployment) needsMatching() bool {
	for i := range d.Runners {
		if d.Runners[i].Required != nil {
			return true
		}
	}
	return false
}

// validate checks the mode consistency and runner-id uniqueness. Instance
// uniqueness is checked separately, after matching has assigned instances.
func (d *Deployment) validate() error {
	if len(d.Runners) == 0 {
		return NewError("Deploy", ErrCodeInvalidDescription, "deployment has no runners")
	}

	matching := d.needsMatching()
	seen := make(map[uint64]struct{}, len(d.Runners))
	for i := range d.Runners {
		r := &d.Runners[i]
		if r.Function == "" {
			return NewRunnerError("Deploy", r.ID, ErrCodeInvalidDescription, "runner has no function name")
		}
		if matching != (r.Required != nil) {
			return NewRunnerError("Deploy", r.ID, ErrCodeInvalidDescription,
				"deployment mixes direct instance ids and topology matching")
		}
		if _, dup := seen[r.ID]; dup {
			return NewRunnerError("Deploy", r.ID, ErrCodeDuplicateRunnerID,
				fmt.Sprintf("runner id %d used twice", r.ID))
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// validateInstances checks that every assigned instance exists in the
// transport group and hosts at most one runner.
func (d *Deployment) validateInstances(group []InstanceID) error {
	known := make(map[InstanceID]struct{}, len(group))
	for _, id := range group {
		known[id] = struct{}{}
	}

	seen := make(map[InstanceID]uint64, len(d.Runners))
	for i := range d.Runners {
		r := &d.Runners[i]
		if _, ok := known[r.Instance]; !ok {
			return NewRunnerError("Deploy", r.ID, ErrCodeInvalidDescription,
				fmt.Sprintf("instance %d is not part of the transport group", r.Instance))
		}
		if other, dup := seen[r.Instance]; dup {
			return NewRunnerError("Deploy", r.ID, ErrCodeDuplicateInstanceID,
				fmt.Sprintf("instance %d assigned to runners %d and %d", r.Instance, other, r.ID))
		}
		seen[r.Instance] = r.ID
	}
	return nil
}

// hosted returns the runner assigned to inst, or nil.
func (d *Deployment) hosted(inst InstanceID) *Runner {
	for i := range d.Runners {
		if d.Runners[i].Instance == inst {
			return &d.Runners[i]
		}
	}
	return nil
}
