package topology

import "testing"

func gb(n uint64) uint64 { return n << 30 }

func node(memBytes uint64, cores int) Device {
	d := Device{
		Type:         "node",
		MemorySpaces: []MemorySpace{{Type: "DRAM", Size: memBytes}},
	}
	for i := 0; i < cores; i++ {
		d.ComputeResources = append(d.ComputeResources, ComputeResource{Type: "core"})
	}
	return d
}

func single(memBytes uint64, cores int) *Topology {
	t := New()
	t.Add(node(memBytes, cores))
	return t
}

func TestIsSubset_Reflexive(t *testing.T) {
	topos := []*Topology{
		New(),
		single(gb(4), 2),
		{Devices: []Device{node(gb(64), 16), {Type: "gpu", MemorySpaces: []MemorySpace{{Type: "HBM", Size: gb(32)}}}}},
	}
	for i, topo := range topos {
		if !IsSubset(topo, topo) {
			t.Errorf("topology %d is not a subset of itself", i)
		}
	}
}

func TestIsSubset(t *testing.T) {
	tests := []struct {
		name     string
		host     *Topology
		required *Topology
		want     bool
	}{
		{"empty requirement", single(gb(4), 2), New(), true},
		{"bigger memory satisfies", single(gb(64), 2), single(gb(4), 2), true},
		{"smaller memory fails", single(gb(4), 2), single(gb(64), 2), false},
		{"fewer cores fails", single(gb(4), 1), single(gb(4), 2), false},
		{"type mismatch fails", &Topology{Devices: []Device{{Type: "gpu"}}}, &Topology{Devices: []Device{{Type: "node"}}}, false},
		{"host device consumed once", single(gb(64), 8), &Topology{Devices: []Device{node(gb(4), 1), node(gb(4), 1)}}, false},
		{
			"two hosts two requirements",
			&Topology{Devices: []Device{node(gb(64), 8), node(gb(4), 1)}},
			&Topology{Devices: []Device{node(gb(4), 1), node(gb(4), 1)}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSubset(tt.host, tt.required); got != tt.want {
				t.Errorf("IsSubset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSubset_UnknownTypesCounted(t *testing.T) {
	// Unknown tags are not an error; they participate in matching verbatim.
	host := &Topology{Devices: []Device{{Type: "quantum-annealer"}}}
	required := &Topology{Devices: []Device{{Type: "quantum-annealer"}}}
	if !IsSubset(host, required) {
		t.Error("identical unknown device types should match")
	}
}

func TestMerge(t *testing.T) {
	a := single(gb(4), 2)
	b := &Topology{Devices: []Device{{Type: "gpu"}}}
	a.Merge(b)

	if len(a.Devices) != 2 {
		t.Fatalf("merged topology has %d devices, want 2", len(a.Devices))
	}
	if a.Devices[0].Type != "node" || a.Devices[1].Type != "gpu" {
		t.Errorf("merge did not preserve order: %v, %v", a.Devices[0].Type, a.Devices[1].Type)
	}

	a.Merge(nil) // no-op
	if len(a.Devices) != 2 {
		t.Errorf("merge with nil changed device count to %d", len(a.Devices))
	}
}

func TestValidate(t *testing.T) {
	bad := &Topology{Devices: []Device{{Type: ""}}}
	if bad.Validate() == nil {
		t.Error("empty device type should fail validation")
	}
	badMem := &Topology{Devices: []Device{{Type: "node", MemorySpaces: []MemorySpace{{Type: "", Size: 1}}}}}
	if badMem.Validate() == nil {
		t.Error("empty memory space type should fail validation")
	}
	if err := single(gb(1), 1).Validate(); err != nil {
		t.Errorf("valid topology failed validation: %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	topos := []*Topology{
		New(),
		single(gb(4), 2),
		{Devices: []Device{
			node(gb(64), 16),
			{Type: "gpu", MemorySpaces: []MemorySpace{{Type: "HBM", Size: gb(32)}, {Type: "DRAM", Size: 0}}},
			{Type: "nic"},
		}},
	}
	for i, topo := range topos {
		wire := topo.Serialize()
		got, err := Deserialize(wire)
		if err != nil {
			t.Fatalf("topology %d: deserialize failed: %v", i, err)
		}
		if !Equal(got, topo) {
			t.Errorf("topology %d: round trip changed the topology", i)
		}
		if !IsSubset(got, topo) {
			t.Errorf("topology %d: round trip result no longer satisfies the original", i)
		}
		// Canonical form is stable byte-for-byte.
		again := got.Serialize()
		if string(again) != string(wire) {
			t.Errorf("topology %d: re-serialization differs from canonical form", i)
		}
	}
}

func TestDeserialize_InvalidFormat(t *testing.T) {
	good := single(gb(4), 2).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", good[:2]},
		{"truncated body", good[:len(good)-3]},
		{"trailing bytes", append(append([]byte{}, good...), 0xFF)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.data); err != ErrInvalidFormat {
				t.Errorf("Deserialize() err = %v, want ErrInvalidFormat", err)
			}
		})
	}

	if _, err := Deserialize(New().Serialize()); err != nil {
		t.Errorf("empty topology should deserialize, got %v", err)
	}
}
