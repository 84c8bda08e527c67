package mmd2svg

import "runtime"

// Concurrency bounds for ResolveConcurrency.
const (
	MinConcurrency = 1
	MaxConcurrency = 8

	// cpuDivisor leaves headroom: each render drives a Node or Chrome
	// process that is itself multi-threaded.
	cpuDivisor = 2
)

// ResolveConcurrency determines how many renders may run at once.
// Priority: explicit value > GOMAXPROCS-based calculation.
// Exported for use by the CLI.
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers
	n = runtime.GOMAXPROCS(0) / cpuDivisor

	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
