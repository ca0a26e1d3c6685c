package contracts

import "context"

// RunnerLoop is the top-level scheduler loop contract: scan, claim, admit,
// execute, repeat until the context is cancelled (spec.md §5 shutdown
// signals are translated into context cancellation by cmd/runner).
type RunnerLoop interface {
	// Run blocks until ctx is done. Errors met during a scan, including
	// authentication failures against the platform, are logged and the loop
	// continues; configuration errors are caught before Run is called.
	Run(ctx context.Context) error
}
