// Package config captures the small amount of environment-driven
// configuration the core exposes, mirroring the teacher's internal/env
// package (which resolves DISTRIROOT with a $HOME/distri default). The only
// tunable the spec surfaces at the package boundary is worker pool width.
package config

import (
	"os"
	"runtime"
	"strconv"
)

// MaxThreadsEnv is the environment variable consulted by MaxThreads.
const MaxThreadsEnv = "YATTA_MAX_THREADS"

// MaxThreads returns the configured worker pool width: YATTA_MAX_THREADS if
// set to a valid positive integer, otherwise runtime.NumCPU(). The result is
// always clamped to [1, runtime.NumCPU()], matching the WorkerPool's own
// clamp so callers can pass it through unmodified.
func MaxThreads() int {
	n := runtime.NumCPU()
	if v := os.Getenv(MaxThreadsEnv); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if max := runtime.NumCPU(); n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}
