// Package interfaces provides internal interface definitions for DeployR.
// These are separate from the public API to avoid circular imports between
// the root package and internal packages.
package interfaces

// InstanceID addresses one participant in the transport layer. Concrete
// backends assign the values; the core only compares and forwards them.
type InstanceID uint64

// Slot is a local memory allocation that can be registered with the global
// exchange so remote peers can address it under a (tag, key) pair. Only the
// owning instance may touch Bytes directly; remote access goes through the
// transport's ReadSlot/WriteSlot.
type Slot interface {
	// Bytes exposes the backing storage to the owning instance.
	Bytes() []byte

	// Size returns the slot length in bytes.
	Size() int
}

// Call is one incoming RPC being served. Reply must be called exactly once;
// the transport delivers payload (or err) to the blocked requester.
type Call interface {
	Name() string
	Argument() uint64
	Reply(payload []byte, err error)
}

// Transport is the capability set every fabric backend must provide.
// Implementations may use threads internally; apart from the coordinator's
// dispatch wave the core issues calls from a single goroutine per instance.
type Transport interface {
	// Identity.
	InstanceID() InstanceID
	RootID() InstanceID
	Instances() []InstanceID

	// Point-to-point RPC. RequestRPC blocks until the target's reply has
	// arrived; a non-nil error is either the remote target's failure or a
	// transport failure. The reply payload, if any, is retrievable with
	// ReturnValue until FreeReturnValue releases it.
	RequestRPC(target InstanceID, name string, arg uint64) error
	ReturnValue(target InstanceID) ([]byte, error)
	FreeReturnValue(target InstanceID)

	// Listen blocks until one request addressed to this instance arrives.
	Listen() (Call, error)

	// Global memory-slot exchange. ExchangeGlobalSlots publishes local slots
	// under (tag, key); Fence blocks until every instance in the group has
	// fenced on tag; GlobalSlot resolves a published slot after the fence.
	ExchangeGlobalSlots(tag uint64, slots map[uint32]Slot) error
	Fence(tag uint64) error
	GlobalSlot(tag uint64, key uint32) (Slot, error)

	// Remote slot access. The caller is responsible for mutual exclusion;
	// channel code holds the channel's distributed lock across these.
	ReadSlot(s Slot, off int, dst []byte) error
	WriteSlot(s Slot, off int, src []byte) error

	// Local slot management.
	AllocateSlot(memorySpace string, size int) (Slot, error)
	FreeSlot(s Slot) error

	// Distributed lock keyed by tag. AcquireLock blocks.
	AcquireLock(tag uint64) error
	ReleaseLock(tag uint64) error

	// Lifecycle.
	Abort(code int)
	Finalize() error
}

// Logger is the optional logging hook threaded through the runtime.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives runtime events for metrics collection. Implementations
// must be safe for concurrent use; channel operations call them from the
// producing and consuming instances.
type Observer interface {
	ObserveGather(instances int, success bool)
	ObserveDispatch(runner uint64, success bool)
	ObserveServe(name string, success bool)
	ObservePush(bytes uint64, wouldBlock bool)
	ObservePop(bytes uint64)
}
