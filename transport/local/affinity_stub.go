//go:build !linux

package local

import "github.com/Algebraic-Programming/DeployR/internal/interfaces"

// pinInstanceThread is a no-op on platforms without sched_setaffinity.
func pinInstanceThread(cpus []int, rank int, logger interfaces.Logger) {
	if len(cpus) > 0 && logger != nil {
		logger.Debugf("local: CPU affinity requested but unsupported on this platform")
	}
}
