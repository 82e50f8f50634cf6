// Package topology models the hardware description of an instance: an
// unordered collection of devices, each carrying its memory spaces and
// compute resources. The deployment matcher compares topologies with the
// subset predicate defined here; the canonical wire form in wire.go lets a
// topology round-trip across any transport backend.
package topology

import "errors"

// ErrInvalidFormat is returned when serialized or JSON input cannot be
// decoded into a topology.
var ErrInvalidFormat = errors.New("topology: invalid format")

// MemorySpace is one addressable memory region of a device.
type MemorySpace struct {
	Type string
	Size uint64
}

// ComputeResource is one execution resource of a device. Unknown type tags
// are preserved verbatim; the subset check only counts them.
type ComputeResource struct {
	Type string
}

// Device is one hardware unit: a type tag plus ordered memory spaces and
// compute resources.
type Device struct {
	Type             string
	MemorySpaces     []MemorySpace
	ComputeResources []ComputeResource
}

// MemoryBytes returns the total size of the device's memory spaces.
func (d *Device) MemoryBytes() uint64 {
	var total uint64
	for _, m := range d.MemorySpaces {
		total += m.Size
	}
	return total
}

// Topology is an ordered list of devices. Order is preserved by Merge and
// by the canonical serialization, and the subset check consumes host
// devices in declaration order.
type Topology struct {
	Devices []Device
}

// New returns an empty topology.
func New() *Topology {
	return &Topology{}
}

// Add appends a device.
func (t *Topology) Add(d Device) {
	t.Devices = append(t.Devices, d)
}

// Merge appends other's devices to t preserving order. Used to merge
// per-backend topology reports on a single host.
func (t *Topology) Merge(other *Topology) {
	if other == nil {
		return
	}
	t.Devices = append(t.Devices, other.Devices...)
}

// Validate checks the structural invariants: non-empty type tags. Sizes are
// unsigned and need no check.
func (t *Topology) Validate() error {
	for _, d := range t.Devices {
		if d.Type == "" {
			return ErrInvalidFormat
		}
		for _, m := range d.MemorySpaces {
			if m.Type == "" {
				return ErrInvalidFormat
			}
		}
		for _, c := range d.ComputeResources {
			if c.Type == "" {
				return ErrInvalidFormat
			}
		}
	}
	return nil
}

// satisfies reports whether a host device can stand in for a required one:
// same type tag, at least as much total memory, at least as many compute
// resources.
func satisfies(host, required *Device) bool {
	if host.Type != required.Type {
		return false
	}
	if host.MemoryBytes() < required.MemoryBytes() {
		return false
	}
	return len(host.ComputeResources) >= len(required.ComputeResources)
}

// IsSubset reports whether host can satisfy required: every required device
// is matched to a distinct host device with the same type tag, enough total
// memory and enough compute resources. Host devices are tried greedily in
// declaration order and consumed, so one host device satisfies at most one
// required device. O(|host|·|required|).
func IsSubset(host, required *Topology) bool {
	if required == nil {
		return true
	}
	if host == nil {
		return len(required.Devices) == 0
	}

	used := make([]bool, len(host.Devices))
	for i := range required.Devices {
		found := false
		for j := range host.Devices {
			if used[j] {
				continue
			}
			if satisfies(&host.Devices[j], &required.Devices[i]) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Equal reports whether two topologies are identical on canonical form.
func Equal(a, b *Topology) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Devices) != len(b.Devices) {
		return false
	}
	for i := range a.Devices {
		da, db := &a.Devices[i], &b.Devices[i]
		if da.Type != db.Type ||
			len(da.MemorySpaces) != len(db.MemorySpaces) ||
			len(da.ComputeResources) != len(db.ComputeResources) {
			return false
		}
		for k := range da.MemorySpaces {
			if da.MemorySpaces[k] != db.MemorySpaces[k] {
				return false
			}
		}
		for k := range da.ComputeResources {
			if da.ComputeResources[k] != db.ComputeResources[k] {
				return false
			}
		}
	}
	return true
}
