package deployr

import "sync"

// RecordingObserver captures runtime events for test verification. Safe for
// concurrent use.
type RecordingObserver struct {
	mu sync.Mutex

	Gathers     int
	GatherFails int
	Dispatches  int
	Serves      int
	ServeFails  int

	Pushes      int
	WouldBlocks int
	PushBytes   uint64
	Pops        int
	PopBytes    uint64
}

func (o *RecordingObserver) ObserveGather(instances int, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.Gathers++
	} else {
		o.GatherFails++
	}
}

func (o *RecordingObserver) ObserveDispatch(runner uint64, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Dispatches++
}

func (o *RecordingObserver) ObserveServe(name string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Serves++
	if !success {
		o.ServeFails++
	}
}

func (o *RecordingObserver) ObservePush(bytes uint64, wouldBlock bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wouldBlock {
		o.WouldBlocks++
		return
	}
	o.Pushes++
	o.PushBytes += bytes
}

func (o *RecordingObserver) ObservePop(bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Pops++
	o.PopBytes += bytes
}

// RecordingCounts is a copy of a RecordingObserver's counters.
type RecordingCounts struct {
	Gathers     int
	GatherFails int
	Dispatches  int
	Serves      int
	ServeFails  int
	Pushes      int
	WouldBlocks int
	PushBytes   uint64
	Pops        int
	PopBytes    uint64
}

// SnapshotCounts returns a copy of the recorded counters.
func (o *RecordingObserver) SnapshotCounts() RecordingCounts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return RecordingCounts{
		Gathers:     o.Gathers,
		GatherFails: o.GatherFails,
		Dispatches:  o.Dispatches,
		Serves:      o.Serves,
		ServeFails:  o.ServeFails,
		Pushes:      o.Pushes,
		WouldBlocks: o.WouldBlocks,
		PushBytes:   o.PushBytes,
		Pops:        o.Pops,
		PopBytes:    o.PopBytes,
	}
}
