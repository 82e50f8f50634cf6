package local

import (
	"fmt"
	"sync"
)

// memSlot is a byte-slice memory slot. A mutex serializes remote-style
// access through read/write; the owning instance may also hand out direct
// views via Bytes, which is safe for the consumer-side borrow pattern
// because producers never touch the borrowed region until it is popped.
type memSlot struct {
	mu  sync.Mutex
	buf []byte
}

func (s *memSlot) Bytes() []byte { return s.buf }
func (s *memSlot) Size() int     { return len(s.buf) }

func (s *memSlot) read(off int, dst []byte) error {
	if off < 0 || off+len(dst) > len(s.buf) {
		return fmt.Errorf("local: slot read [%d:%d) out of bounds (size %d)", off, off+len(dst), len(s.buf))
	}
	s.mu.Lock()
	copy(dst, s.buf[off:])
	s.mu.Unlock()
	return nil
}

func (s *memSlot) write(off int, src []byte) error {
	if off < 0 || off+len(src) > len(s.buf) {
		return fmt.Errorf("local: slot write [%d:%d) out of bounds (size %d)", off, off+len(src), len(s.buf))
	}
	s.mu.Lock()
	copy(s.buf[off:], src)
	s.mu.Unlock()
	return nil
}
