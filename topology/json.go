package topology

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON form as it appears in user-supplied deployment descriptions. The key
// names carry spaces, matching the description file format. Unknown keys are
// ignored on decode.
type jsonMemorySpace struct {
	Type string `json:"Type"`
	Size uint64 `json:"Size"`
}

type jsonComputeResource struct {
	Type string `json:"Type"`
}

type jsonDevice struct {
	Type             string                `json:"Type"`
	MemorySpaces     []jsonMemorySpace     `json:"Memory Spaces,omitempty"`
	ComputeResources []jsonComputeResource `json:"Compute Resources,omitempty"`
}

type jsonTopology struct {
	Devices []jsonDevice `json:"Devices"`
}

// MarshalJSON renders the topology in the description file format.
func (t *Topology) MarshalJSON() ([]byte, error) {
	out := jsonTopology{Devices: make([]jsonDevice, 0, len(t.Devices))}
	for i := range t.Devices {
		d := &t.Devices[i]
		jd := jsonDevice{Type: d.Type}
		for _, m := range d.MemorySpaces {
			jd.MemorySpaces = append(jd.MemorySpaces, jsonMemorySpace{Type: m.Type, Size: m.Size})
		}
		for _, c := range d.ComputeResources {
			jd.ComputeResources = append(jd.ComputeResources, jsonComputeResource{Type: c.Type})
		}
		out.Devices = append(out.Devices, jd)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the description file format.
func (t *Topology) UnmarshalJSON(data []byte) error {
	var in jsonTopology
	if err := json.Unmarshal(data, &in); err != nil {
		return ErrInvalidFormat
	}
	t.Devices = t.Devices[:0]
	for _, jd := range in.Devices {
		d := Device{Type: jd.Type}
		for _, m := range jd.MemorySpaces {
			d.MemorySpaces = append(d.MemorySpaces, MemorySpace{Type: m.Type, Size: m.Size})
		}
		for _, c := range jd.ComputeResources {
			d.ComputeResources = append(d.ComputeResources, ComputeResource{Type: c.Type})
		}
		t.Devices = append(t.Devices, d)
	}
	return t.Validate()
}
