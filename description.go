package deployr

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/Algebraic-Programming/DeployR/topology"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DescriptionRunner is one runner entry of a user-supplied deployment
// description. Exactly one of Topology and InstanceId selects the target
// instance.
type DescriptionRunner struct {
	Function   string             `json:"Function"`
	Topology   *topology.Topology `json:"Topology,omitempty"`
	InstanceID *uint64            `json:"InstanceId,omitempty"`
}

// Description is the decoded form of a deployment description file.
type Description struct {
	Runners []DescriptionRunner `json:"Runners"`
}

// ParseDescription decodes and validates a JSON deployment description.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, NewError("ParseDescription", ErrCodeInvalidFormat, err.Error())
	}
	if len(d.Runners) == 0 {
		return nil, NewError("ParseDescription", ErrCodeInvalidDescription, "description has no runners")
	}
	for i, r := range d.Runners {
		if r.Function == "" {
			return nil, NewError("ParseDescription", ErrCodeInvalidDescription,
				fmt.Sprintf("runner %d has no function", i))
		}
		if r.Topology == nil && r.InstanceID == nil {
			return nil, NewError("ParseDescription", ErrCodeInvalidDescription,
				fmt.Sprintf("runner %d has neither a topology nor an instance id", i))
		}
		if r.Topology != nil && r.InstanceID != nil {
			return nil, NewError("ParseDescription", ErrCodeInvalidDescription,
				fmt.Sprintf("runner %d has both a topology and an instance id", i))
		}
	}
	return &d, nil
}

// Deployment converts the description into a deployment coordinated by the
// given instance. Runner ids are assigned in declaration order.
func (d *Description) Deployment(coordinator InstanceID) (*Deployment, error) {
	dep := &Deployment{Coordinator: coordinator}
	for i, r := range d.Runners {
		runner := Runner{ID: uint64(i), Function: r.Function}
		if r.Topology != nil {
			runner.Required = r.Topology
		} else {
			runner.Instance = InstanceID(*r.InstanceID)
		}
		dep.Runners = append(dep.Runners, runner)
	}
	if err := dep.validate(); err != nil {
		return nil, err
	}
	return dep, nil
}
