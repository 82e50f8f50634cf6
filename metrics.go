package deployr

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for one runtime instance.
type Metrics struct {
	// Bootstrap counters
	Gathers       atomic.Uint64 // Topology gather rounds completed
	GatherErrors  atomic.Uint64 // Failed gather rounds
	Dispatches    atomic.Uint64 // Runner launches completed (remote launch RPCs and the local runner)
	DispatchFails atomic.Uint64 // Launch RPCs that returned an error
	RPCServed     atomic.Uint64 // Requests served by Listen
	RPCErrors     atomic.Uint64 // Served requests that failed (unknown target)

	// Channel counters
	Pushes          atomic.Uint64 // Successful pushes
	PushWouldBlocks atomic.Uint64 // Pushes rejected for lack of space
	PushBytes       atomic.Uint64 // Payload bytes pushed
	Pops            atomic.Uint64 // Tokens consumed
	PopBytes        atomic.Uint64 // Payload bytes consumed

	// Lifecycle
	StartTime atomic.Int64 // Runtime creation timestamp (UnixNano)
	StopTime  atomic.Int64 // Finalize timestamp (UnixNano), 0 while running
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records the finalize timestamp.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Uptime returns the time the runtime has been live.
func (m *Metrics) Uptime() time.Duration {
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	return time.Duration(stop - start)
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Gathers         uint64 `json:"gathers"`
	GatherErrors    uint64 `json:"gather_errors"`
	Dispatches      uint64 `json:"dispatches"`
	DispatchFails   uint64 `json:"dispatch_fails"`
	RPCServed       uint64 `json:"rpc_served"`
	RPCErrors       uint64 `json:"rpc_errors"`
	Pushes          uint64 `json:"pushes"`
	PushWouldBlocks uint64 `json:"push_would_blocks"`
	PushBytes       uint64 `json:"push_bytes"`
	Pops            uint64 `json:"pops"`
	PopBytes        uint64 `json:"pop_bytes"`
	UptimeNs        int64  `json:"uptime_ns"`
}

// Snapshot returns a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Gathers:         m.Gathers.Load(),
		GatherErrors:    m.GatherErrors.Load(),
		Dispatches:      m.Dispatches.Load(),
		DispatchFails:   m.DispatchFails.Load(),
		RPCServed:       m.RPCServed.Load(),
		RPCErrors:       m.RPCErrors.Load(),
		Pushes:          m.Pushes.Load(),
		PushWouldBlocks: m.PushWouldBlocks.Load(),
		PushBytes:       m.PushBytes.Load(),
		Pops:            m.Pops.Load(),
		PopBytes:        m.PopBytes.Load(),
		UptimeNs:        int64(m.Uptime()),
	}
}

// MetricsObserver feeds runtime events into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveGather(instances int, success bool) {
	if success {
		o.metrics.Gathers.Add(1)
	} else {
		o.metrics.GatherErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveDispatch(runner uint64, success bool) {
	if success {
		o.metrics.Dispatches.Add(1)
	} else {
		o.metrics.DispatchFails.Add(1)
	}
}

func (o *MetricsObserver) ObserveServe(name string, success bool) {
	o.metrics.RPCServed.Add(1)
	if !success {
		o.metrics.RPCErrors.Add(1)
	}
}

func (o *MetricsObserver) ObservePush(bytes uint64, wouldBlock bool) {
	if wouldBlock {
		o.metrics.PushWouldBlocks.Add(1)
		return
	}
	o.metrics.Pushes.Add(1)
	o.metrics.PushBytes.Add(bytes)
}

func (o *MetricsObserver) ObservePop(bytes uint64) {
	o.metrics.Pops.Add(1)
	o.metrics.PopBytes.Add(bytes)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) ObserveGather(int, bool)      {}
func (NoOpObserver) ObserveDispatch(uint64, bool) {}
func (NoOpObserver) ObserveServe(string, bool)    {}
func (NoOpObserver) ObservePush(uint64, bool)     {}
func (NoOpObserver) ObservePop(uint64)            {}
