// Package channel implements the variable-sized MPSC channel: a bounded
// token queue whose rings live in consumer-owned memory slots and whose
// producers reach them through the transport's global-slot operations under
// a distributed lock. No per-push messages are exchanged; all coordination
// happens through two head/tail cells.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/OneOfOne/xxhash"

	"github.com/Algebraic-Programming/DeployR/internal/constants"
	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

var (
	// ErrWrongRole is returned on Push by a non-producer or Peek/Pop by a
	// non-consumer.
	ErrWrongRole = errors.New("channel: operation not permitted for role")

	// ErrWouldBlock is returned when a token does not fit: the sizes ring
	// is at capacity or the payload ring lacks the bytes.
	ErrWouldBlock = errors.New("channel: would block")

	// ErrEmpty is returned by Peek/Pop when no token is pending.
	ErrEmpty = errors.New("channel: empty")
)

// Role is this instance's relationship to a channel.
type Role int

const (
	RoleNone Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "none"
	}
}

// Tag derives the 64-bit fence/lock tag for a channel name. Every
// participant must compute the same tag, so the name is the sole input.
func Tag(name string) uint64 {
	return xxhash.ChecksumString64("deployr.channel/" + name)
}

// Config describes one instance's view of a channel at handshake time.
type Config struct {
	Name string
	Role Role

	// Capacity is the maximum number of pending tokens (sizes-ring slots).
	Capacity int

	// BufferSize is the payload ring length in bytes.
	BufferSize int

	Transport interfaces.Transport
	Logger    interfaces.Logger
	Observer  interfaces.Observer
}

// Channel is one endpoint of an MPSC channel after a completed handshake.
type Channel struct {
	name string
	tag  uint64
	role Role

	capacity   uint64
	bufferSize uint64

	transport interfaces.Transport
	logger    interfaces.Logger
	observer  interfaces.Observer

	// Consumer-owned master slots. On the consumer these are local
	// allocations; on producers they are remote views resolved from the
	// global exchange.
	sizes         interfaces.Slot
	payload       interfaces.Slot
	coordSizes    interfaces.Slot
	coordPayloads interfaces.Slot

	// Producer-local slots: coordination-cell mirrors used as read targets
	// and the one-element staging buffer for outgoing size entries.
	mirrorSizes    interfaces.Slot
	mirrorPayloads interfaces.Slot
	sizeInfo       interfaces.Slot

	// Slots this instance allocated, released by Close.
	owned []interfaces.Slot
}

// Open runs the collective handshake for one channel. Every instance in the
// transport group must call Open with the same name, capacity and buffer
// size; roles differ per instance. The call blocks in the transport fence
// until all participants have arrived.
func Open(cfg Config) (*Channel, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("channel: empty name")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = constants.DefaultBufferCapacity
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.DefaultBufferSize
	}

	c := &Channel{
		name:       cfg.Name,
		tag:        Tag(cfg.Name),
		role:       cfg.Role,
		capacity:   uint64(cfg.Capacity),
		bufferSize: uint64(cfg.BufferSize),
		transport:  cfg.Transport,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}

	if err := c.handshake(); err != nil {
		c.releaseOwned()
		return nil, err
	}
	return c, nil
}

func (c *Channel) alloc(size int) (interfaces.Slot, error) {
	s, err := c.transport.AllocateSlot(constants.CoreMemorySpace, size)
	if err != nil {
		return nil, err
	}
	c.owned = append(c.owned, s)
	return s, nil
}

// handshake allocates the role's slots, publishes the consumer's, fences,
// and resolves remote views. The fence establishes happens-before for the
// zero-initialized coordination cells.
func (c *Channel) handshake() error {
	t := c.transport

	switch c.role {
	case RoleConsumer:
		var err error
		if c.sizes, err = c.alloc(int(c.capacity) * constants.SizeEntrySize); err != nil {
			return err
		}
		if c.payload, err = c.alloc(int(c.bufferSize)); err != nil {
			return err
		}
		if c.coordSizes, err = c.alloc(constants.CoordCellSize); err != nil {
			return err
		}
		if c.coordPayloads, err = c.alloc(constants.CoordCellSize); err != nil {
			return err
		}
		err = t.ExchangeGlobalSlots(c.tag, map[uint32]interfaces.Slot{
			constants.SlotKeySizes:         c.sizes,
			constants.SlotKeyCoordSizes:    c.coordSizes,
			constants.SlotKeyCoordPayloads: c.coordPayloads,
			constants.SlotKeyPayload:       c.payload,
		})
		if err != nil {
			return err
		}

	case RoleProducer:
		var err error
		if c.mirrorSizes, err = c.alloc(constants.CoordCellSize); err != nil {
			return err
		}
		if c.mirrorPayloads, err = c.alloc(constants.CoordCellSize); err != nil {
			return err
		}
		if c.sizeInfo, err = c.alloc(constants.SizeEntrySize); err != nil {
			return err
		}
	}

	if err := t.Fence(c.tag); err != nil {
		return err
	}

	if c.role == RoleProducer {
		var err error
		if c.sizes, err = t.GlobalSlot(c.tag, constants.SlotKeySizes); err != nil {
			return err
		}
		if c.coordSizes, err = t.GlobalSlot(c.tag, constants.SlotKeyCoordSizes); err != nil {
			return err
		}
		if c.coordPayloads, err = t.GlobalSlot(c.tag, constants.SlotKeyCoordPayloads); err != nil {
			return err
		}
		if c.payload, err = t.GlobalSlot(c.tag, constants.SlotKeyPayload); err != nil {
			return err
		}
	}

	if c.logger != nil {
		c.logger.Debugf("channel %q handshake done role=%s capacity=%d buffer=%d",
			c.name, c.role, c.capacity, c.bufferSize)
	}
	return nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Role returns this endpoint's role.
func (c *Channel) Role() Role { return c.role }

// readCell reads a coordination cell into the producer's local mirror slot
// and parses the head/tail counters.
func (c *Channel) readCell(cell, mirror interfaces.Slot) (head, tail uint64, err error) {
	buf := mirror.Bytes()
	if err := c.transport.ReadSlot(cell, 0, buf[:constants.CoordCellSize]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), nil
}

// Head and tail halves of a coordination cell are written by exactly one
// side: producers advance the head (offset 0), the consumer advances the
// tail (offset 8). The halves are written independently so neither side
// clobbers the other's counter.
func (c *Channel) writeHead(cell interfaces.Slot, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return c.transport.WriteSlot(cell, 0, b[:])
}

func (c *Channel) writeTail(cell interfaces.Slot, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return c.transport.WriteSlot(cell, 8, b[:])
}

// Push publishes one token. Non-blocking: when the sizes ring is at
// capacity or the payload ring cannot hold len(p) more bytes the push fails
// with ErrWouldBlock and nothing is written. The whole step runs under the
// channel's distributed lock, which serializes concurrent producers.
func (c *Channel) Push(p []byte) error {
	if c.role != RoleProducer {
		return fmt.Errorf("%w: push as %s", ErrWrongRole, c.role)
	}

	if err := c.transport.AcquireLock(c.tag); err != nil {
		return err
	}
	defer c.transport.ReleaseLock(c.tag)

	headS, tailS, err := c.readCell(c.coordSizes, c.mirrorSizes)
	if err != nil {
		return err
	}
	if headS-tailS >= c.capacity {
		c.observeWouldBlock()
		return ErrWouldBlock
	}

	headP, tailP, err := c.readCell(c.coordPayloads, c.mirrorPayloads)
	if err != nil {
		return err
	}

	// Tokens are stored contiguously. When the remainder before the
	// physical end of the ring is too small, the head skips past the gap;
	// the skipped bytes count as used until the token is popped.
	n := uint64(len(p))
	pos := headP
	if rem := c.bufferSize - pos%c.bufferSize; n > rem {
		pos += rem
	}
	if pos+n-tailP > c.bufferSize {
		c.observeWouldBlock()
		return ErrWouldBlock
	}

	if n > 0 {
		if err := c.transport.WriteSlot(c.payload, int(pos%c.bufferSize), p); err != nil {
			return err
		}
	}

	// Stage the (position, length) pair in the local size-info slot, then
	// publish it into the sizes ring slot for this token.
	entry := c.sizeInfo.Bytes()
	binary.LittleEndian.PutUint64(entry[0:8], pos)
	binary.LittleEndian.PutUint64(entry[8:16], n)
	slot := int(headS%c.capacity) * constants.SizeEntrySize
	if err := c.transport.WriteSlot(c.sizes, slot, entry[:constants.SizeEntrySize]); err != nil {
		return err
	}

	if err := c.writeHead(c.coordSizes, headS+1); err != nil {
		return err
	}
	if err := c.writeHead(c.coordPayloads, pos+n); err != nil {
		return err
	}

	if c.observer != nil {
		c.observer.ObservePush(n, false)
	}
	return nil
}

func (c *Channel) observeWouldBlock() {
	if c.observer != nil {
		c.observer.ObservePush(0, true)
	}
}

// front reads the sizes-ring entry for the oldest pending token. Consumer
// only; callers have checked that at least one token is pending.
func (c *Channel) front(tailS uint64) (pos, n uint64, err error) {
	var entry [constants.SizeEntrySize]byte
	off := int(tailS%c.capacity) * constants.SizeEntrySize
	if err := c.transport.ReadSlot(c.sizes, off, entry[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(entry[0:8]), binary.LittleEndian.Uint64(entry[8:16]), nil
}

func (c *Channel) pendingTokens() (headS, tailS uint64, err error) {
	var cell [constants.CoordCellSize]byte
	if err := c.transport.ReadSlot(c.coordSizes, 0, cell[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(cell[0:8]), binary.LittleEndian.Uint64(cell[8:16]), nil
}

// Peek returns the oldest pending token without consuming it. The returned
// slice borrows the consumer's payload ring and stays valid until the
// matching Pop. Never blocks; an idle channel yields ErrEmpty.
func (c *Channel) Peek() ([]byte, error) {
	if c.role != RoleConsumer {
		return nil, fmt.Errorf("%w: peek as %s", ErrWrongRole, c.role)
	}

	headS, tailS, err := c.pendingTokens()
	if err != nil {
		return nil, err
	}
	if headS == tailS {
		return nil, ErrEmpty
	}

	pos, n, err := c.front(tailS)
	if err != nil {
		return nil, err
	}
	off := pos % c.bufferSize
	return c.payload.Bytes()[off : off+n : off+n], nil
}

// Pop consumes the oldest pending token, advancing the consumer-owned tail
// counters of both rings. ErrEmpty when nothing is pending. Peek followed
// by Pop is the canonical consume pattern; the pair is not atomic, which is
// fine because producers only ever append.
func (c *Channel) Pop() error {
	if c.role != RoleConsumer {
		return fmt.Errorf("%w: pop as %s", ErrWrongRole, c.role)
	}

	headS, tailS, err := c.pendingTokens()
	if err != nil {
		return err
	}
	if headS == tailS {
		return ErrEmpty
	}

	pos, n, err := c.front(tailS)
	if err != nil {
		return err
	}

	if err := c.writeTail(c.coordSizes, tailS+1); err != nil {
		return err
	}
	// pos+n absorbs any wrap gap the producer skipped before this token.
	if err := c.writeTail(c.coordPayloads, pos+n); err != nil {
		return err
	}

	if c.observer != nil {
		c.observer.ObservePop(n)
	}
	return nil
}

// Pending returns the number of tokens currently queued. Consumer only.
func (c *Channel) Pending() (int, error) {
	if c.role != RoleConsumer {
		return 0, fmt.Errorf("%w: pending as %s", ErrWrongRole, c.role)
	}
	headS, tailS, err := c.pendingTokens()
	if err != nil {
		return 0, err
	}
	return int(headS - tailS), nil
}

func (c *Channel) releaseOwned() {
	for _, s := range c.owned {
		_ = c.transport.FreeSlot(s)
	}
	c.owned = nil
}

// Close releases the local slots allocated during the handshake. Remote
// views are borrowed and are not freed here.
func (c *Channel) Close() error {
	c.releaseOwned()
	return nil
}

// SortNames returns channel names in the deterministic handshake order.
// Every instance must open channels in the same order or the collective
// fences interlock.
func SortNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
