package topology

import "encoding/binary"

// Canonical wire form, little-endian, length-prefixed:
//
//	u32 device count
//	per device:
//	  u16 type length, type bytes
//	  u32 memory-space count
//	  per space: u16 type length, type bytes, u64 size
//	  u32 compute-resource count
//	  per resource: u16 type length, type bytes
//
// The encoding preserves declaration order, so serialize/deserialize is an
// identity on canonical form.

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// Serialize returns the canonical byte form of t.
func (t *Topology) Serialize() []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(t.Devices)))
	for i := range t.Devices {
		d := &t.Devices[i]
		buf = appendString(buf, d.Type)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.MemorySpaces)))
		for _, m := range d.MemorySpaces {
			buf = appendString(buf, m.Type)
			buf = binary.LittleEndian.AppendUint64(buf, m.Size)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.ComputeResources)))
		for _, c := range d.ComputeResources {
			buf = appendString(buf, c.Type)
		}
	}
	return buf
}

type wireReader struct {
	data []byte
	off  int
	bad  bool
}

func (r *wireReader) u16() uint16 {
	if r.bad || r.off+2 > len(r.data) {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *wireReader) u32() uint32 {
	if r.bad || r.off+4 > len(r.data) {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *wireReader) u64() uint64 {
	if r.bad || r.off+8 > len(r.data) {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *wireReader) str() string {
	n := int(r.u16())
	if r.bad || r.off+n > len(r.data) {
		r.bad = true
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// Deserialize decodes the canonical byte form. Unknown device type tags are
// not an error; they are preserved verbatim. Truncated or trailing input
// yields ErrInvalidFormat.
func Deserialize(data []byte) (*Topology, error) {
	r := &wireReader{data: data}
	t := New()

	nDev := int(r.u32())
	for i := 0; i < nDev && !r.bad; i++ {
		var d Device
		d.Type = r.str()

		nMem := int(r.u32())
		for k := 0; k < nMem && !r.bad; k++ {
			m := MemorySpace{Type: r.str()}
			m.Size = r.u64()
			d.MemorySpaces = append(d.MemorySpaces, m)
		}

		nCompute := int(r.u32())
		for k := 0; k < nCompute && !r.bad; k++ {
			d.ComputeResources = append(d.ComputeResources, ComputeResource{Type: r.str()})
		}

		t.Add(d)
	}

	if r.bad || r.off != len(data) {
		return nil, ErrInvalidFormat
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
