package local

import (
	"fmt"
	"sync"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

// mailboxDepth bounds requests parked at a busy instance. The deployment
// control plane posts at most one launch plus a handful of bootstrap calls
// per instance, so a small buffer is plenty.
const mailboxDepth = 16

// call is one in-flight RPC. The requester blocks on done; the server
// fills payload/err through Reply.
type call struct {
	name    string
	arg     uint64
	payload []byte
	err     error

	once sync.Once
	done chan struct{}
}

func (c *call) Name() string     { return c.name }
func (c *call) Argument() uint64 { return c.arg }

// Reply completes the call. The payload is copied into a pooled buffer so
// the server may reuse its own storage immediately.
func (c *call) Reply(payload []byte, err error) {
	c.once.Do(func() {
		if len(payload) > 0 {
			buf := getBuffer(len(payload))
			copy(buf, payload)
			c.payload = buf
		}
		c.err = err
		close(c.done)
	})
}

// Instance is one participant's endpoint into the fabric. It implements
// interfaces.Transport.
type Instance struct {
	fabric *Fabric
	id     interfaces.InstanceID
	ids    []interfaces.InstanceID

	mbox chan *call

	// Reply payloads of completed requests, borrowed until freed. Guarded
	// because the coordinator's dispatch wave requests concurrently.
	returnsMu sync.Mutex
	returns   map[interfaces.InstanceID][]byte

	ownedMu sync.Mutex
	owned   map[*memSlot]struct{}
}

var _ interfaces.Transport = (*Instance)(nil)

func newInstance(f *Fabric, id interfaces.InstanceID, ids []interfaces.InstanceID) *Instance {
	return &Instance{
		fabric:  f,
		id:      id,
		ids:     ids,
		mbox:    make(chan *call, mailboxDepth),
		returns: make(map[interfaces.InstanceID][]byte),
		owned:   make(map[*memSlot]struct{}),
	}
}

// InstanceID returns this instance's identity.
func (in *Instance) InstanceID() interfaces.InstanceID { return in.id }

// RootID returns the fabric's root instance (rank 0).
func (in *Instance) RootID() interfaces.InstanceID { return in.ids[0] }

// Instances returns the ordered participant list.
func (in *Instance) Instances() []interfaces.InstanceID {
	out := make([]interfaces.InstanceID, len(in.ids))
	copy(out, in.ids)
	return out
}

// RequestRPC posts a request to target's mailbox and blocks until the reply
// arrives. The reply payload, if any, is stored for ReturnValue.
func (in *Instance) RequestRPC(target interfaces.InstanceID, name string, arg uint64) error {
	if int(target) >= len(in.fabric.instances) {
		return fmt.Errorf("local: no such instance %d", target)
	}
	c := &call{name: name, arg: arg, done: make(chan struct{})}

	select {
	case in.fabric.instances[target].mbox <- c:
	case <-in.fabric.aborted:
		return ErrAborted
	}

	select {
	case <-c.done:
	case <-in.fabric.aborted:
		return ErrAborted
	}

	in.returnsMu.Lock()
	if old := in.returns[target]; old != nil {
		putBuffer(old)
	}
	in.returns[target] = c.payload
	in.returnsMu.Unlock()

	return c.err
}

// ReturnValue borrows the reply payload of the last completed request to
// target. Nil payloads are valid (the target submitted no return value).
func (in *Instance) ReturnValue(target interfaces.InstanceID) ([]byte, error) {
	in.returnsMu.Lock()
	defer in.returnsMu.Unlock()
	buf, ok := in.returns[target]
	if !ok {
		return nil, fmt.Errorf("local: no completed request to instance %d", target)
	}
	return buf, nil
}

// FreeReturnValue releases the borrowed reply buffer for target.
func (in *Instance) FreeReturnValue(target interfaces.InstanceID) {
	in.returnsMu.Lock()
	if buf, ok := in.returns[target]; ok {
		delete(in.returns, target)
		if buf != nil {
			putBuffer(buf)
		}
	}
	in.returnsMu.Unlock()
}

// Listen blocks until one request addressed to this instance arrives.
func (in *Instance) Listen() (interfaces.Call, error) {
	select {
	case c := <-in.mbox:
		return c, nil
	case <-in.fabric.aborted:
		return nil, ErrAborted
	}
}

// ExchangeGlobalSlots publishes local slots under (tag, key).
func (in *Instance) ExchangeGlobalSlots(tag uint64, slots map[uint32]interfaces.Slot) error {
	in.fabric.registerSlots(tag, slots)
	return nil
}

// Fence blocks until every instance in the group has fenced on tag.
func (in *Instance) Fence(tag uint64) error {
	return in.fabric.fenceFor(tag).wait(in.fabric.aborted)
}

// GlobalSlot resolves a slot published under (tag, key). Only meaningful
// after the corresponding Fence.
func (in *Instance) GlobalSlot(tag uint64, key uint32) (interfaces.Slot, error) {
	return in.fabric.lookupSlot(tag, key)
}

// ReadSlot copies slot bytes starting at off into dst.
func (in *Instance) ReadSlot(s interfaces.Slot, off int, dst []byte) error {
	ms, ok := s.(*memSlot)
	if !ok {
		return fmt.Errorf("local: foreign slot %T", s)
	}
	return ms.read(off, dst)
}

// WriteSlot copies src into slot bytes starting at off.
func (in *Instance) WriteSlot(s interfaces.Slot, off int, src []byte) error {
	ms, ok := s.(*memSlot)
	if !ok {
		return fmt.Errorf("local: foreign slot %T", s)
	}
	return ms.write(off, src)
}

// AllocateSlot allocates a local memory slot. The memory space tag is
// accepted and ignored; all local slots live in process memory.
func (in *Instance) AllocateSlot(memorySpace string, size int) (interfaces.Slot, error) {
	if size < 0 {
		return nil, fmt.Errorf("local: negative slot size %d", size)
	}
	_ = memorySpace
	s := &memSlot{buf: make([]byte, size)}
	in.ownedMu.Lock()
	in.owned[s] = struct{}{}
	in.ownedMu.Unlock()
	return s, nil
}

// FreeSlot releases a slot allocated by this instance.
func (in *Instance) FreeSlot(s interfaces.Slot) error {
	ms, ok := s.(*memSlot)
	if !ok {
		return fmt.Errorf("local: foreign slot %T", s)
	}
	in.ownedMu.Lock()
	delete(in.owned, ms)
	in.ownedMu.Unlock()
	return nil
}

// AcquireLock takes the fabric-wide lock keyed by tag, blocking until held.
func (in *Instance) AcquireLock(tag uint64) error {
	in.fabric.lockFor(tag).Lock()
	return nil
}

// ReleaseLock releases the lock keyed by tag.
func (in *Instance) ReleaseLock(tag uint64) error {
	in.fabric.lockFor(tag).Unlock()
	return nil
}

// Abort tears down the fabric; blocked peers return ErrAborted.
func (in *Instance) Abort(code int) {
	in.fabric.abort(code)
}

// Finalize releases this instance's remaining slots and return buffers.
func (in *Instance) Finalize() error {
	in.ownedMu.Lock()
	in.owned = make(map[*memSlot]struct{})
	in.ownedMu.Unlock()

	in.returnsMu.Lock()
	for target, buf := range in.returns {
		delete(in.returns, target)
		if buf != nil {
			putBuffer(buf)
		}
	}
	in.returnsMu.Unlock()
	return nil
}
