//go:build linux

package local

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

// pinInstanceThread pins the calling goroutine's OS thread to a CPU from
// the affinity list, round-robin by rank. A failed pin is logged and
// ignored; the instance runs unpinned.
func pinInstanceThread(cpus []int, rank int, logger interfaces.Logger) {
	if len(cpus) == 0 {
		return
	}
	runtime.LockOSThread()

	cpu := cpus[rank%len(cpus)]
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		if logger != nil {
			logger.Printf("local: instance %d affinity to CPU %d failed: %v", rank, cpu, err)
		}
		return
	}
	if logger != nil {
		logger.Debugf("local: instance %d pinned to CPU %d", rank, cpu)
	}
}
