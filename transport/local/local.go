// Package local provides the in-process reference transport: one goroutine
// per instance, channel-backed mailboxes for RPC, keyed barriers for the
// collective fence, and byte-slice memory slots. It exists so deployments
// can be developed and tested on one machine; distributed fabrics implement
// the same interface out of tree.
package local

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

// ErrAborted is returned from blocking transport operations after Abort.
var ErrAborted = errors.New("local: fabric aborted")

// Config configures a fabric.
type Config struct {
	// Instances is the number of participants. Must be at least 1.
	Instances int

	// CPUAffinity optionally pins instance goroutines to CPUs, round-robin
	// over the listed cores. Only effective on Linux.
	CPUAffinity []int

	// Logger for fabric lifecycle events. Nil means silent.
	Logger interfaces.Logger
}

// Fabric is a group of in-process instances sharing mailboxes, a global
// slot registry, keyed locks and keyed fences.
type Fabric struct {
	cfg     Config
	session uuid.UUID

	instances []*Instance

	slotsMu sync.Mutex
	slots   map[uint64]map[uint32]interfaces.Slot

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex

	fencesMu sync.Mutex
	fences   map[uint64]*barrier

	abortOnce sync.Once
	aborted   chan struct{}
	abortCode int
}

// New creates a fabric with cfg.Instances participants.
func New(cfg Config) (*Fabric, error) {
	if cfg.Instances < 1 {
		return nil, fmt.Errorf("local: need at least one instance, got %d", cfg.Instances)
	}

	session, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("local: session id: %w", err)
	}

	f := &Fabric{
		cfg:     cfg,
		session: session,
		slots:   make(map[uint64]map[uint32]interfaces.Slot),
		locks:   make(map[uint64]*sync.Mutex),
		fences:  make(map[uint64]*barrier),
		aborted: make(chan struct{}),
	}

	ids := make([]interfaces.InstanceID, cfg.Instances)
	for i := range ids {
		ids[i] = interfaces.InstanceID(i)
	}
	f.instances = make([]*Instance, cfg.Instances)
	for i := range f.instances {
		f.instances[i] = newInstance(f, interfaces.InstanceID(i), ids)
	}

	if cfg.Logger != nil {
		cfg.Logger.Printf("local fabric created session=%s instances=%d", session, cfg.Instances)
	}
	return f, nil
}

// Session returns the fabric's session id.
func (f *Fabric) Session() uuid.UUID { return f.session }

// Instance returns the transport endpoint for rank i.
func (f *Fabric) Instance(i int) *Instance { return f.instances[i] }

// Run executes fn once per instance, each on its own goroutine, and waits
// for all of them. The first error aborts the group and is returned. This
// is the SPMD entry point: fn typically builds a runtime and deploys.
func (f *Fabric) Run(fn func(t interfaces.Transport) error) error {
	var (
		g        errgroup.Group
		errOnce  sync.Once
		firstErr error
	)
	for i := range f.instances {
		inst := f.instances[i]
		rank := i
		g.Go(func() error {
			pinInstanceThread(f.cfg.CPUAffinity, rank, f.cfg.Logger)
			if err := fn(inst); err != nil {
				errOnce.Do(func() { firstErr = err })
				f.abort(1)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	err := firstErr
	if f.cfg.Logger != nil {
		f.cfg.Logger.Debugf("local fabric run finished session=%s err=%v", f.session, err)
	}
	return err
}

func (f *Fabric) abort(code int) {
	f.abortOnce.Do(func() {
		f.abortCode = code
		close(f.aborted)
		if f.cfg.Logger != nil {
			f.cfg.Logger.Printf("local fabric aborted session=%s code=%d", f.session, code)
		}
	})
}

// AbortCode returns the code passed to the first Abort, or 0.
func (f *Fabric) AbortCode() int {
	select {
	case <-f.aborted:
		return f.abortCode
	default:
		return 0
	}
}

func (f *Fabric) registerSlots(tag uint64, slots map[uint32]interfaces.Slot) {
	f.slotsMu.Lock()
	defer f.slotsMu.Unlock()
	m := f.slots[tag]
	if m == nil {
		m = make(map[uint32]interfaces.Slot)
		f.slots[tag] = m
	}
	for k, s := range slots {
		m[k] = s
	}
}

func (f *Fabric) lookupSlot(tag uint64, key uint32) (interfaces.Slot, error) {
	f.slotsMu.Lock()
	defer f.slotsMu.Unlock()
	if s, ok := f.slots[tag][key]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("local: no slot registered under tag=%#x key=%d", tag, key)
}

func (f *Fabric) lockFor(tag uint64) *sync.Mutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()
	mu := f.locks[tag]
	if mu == nil {
		mu = &sync.Mutex{}
		f.locks[tag] = mu
	}
	return mu
}

func (f *Fabric) fenceFor(tag uint64) *barrier {
	f.fencesMu.Lock()
	defer f.fencesMu.Unlock()
	b := f.fences[tag]
	if b == nil {
		b = newBarrier(len(f.instances))
		f.fences[tag] = b
	}
	return b
}

// barrier is a reusable counting barrier. Waiters of one generation are
// released together when the last participant arrives.
type barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
}

func newBarrier(parties int) *barrier {
	return &barrier{parties: parties, release: make(chan struct{})}
}

// wait blocks until parties goroutines have arrived or abort fires.
func (b *barrier) wait(aborted <-chan struct{}) error {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		close(b.release)
		b.release = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	release := b.release
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-aborted:
		return ErrAborted
	}
}
