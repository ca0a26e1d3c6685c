// Package contracts defines the shared value types, sentinel errors, and
// interfaces used across the runner.
package contracts

// RunnerID identifies a runner process; stable across restarts on the same
// machine.
type RunnerID string

// Context is the task name as carried in a commit status.
type Context string

// SHA is an opaque commit identifier.
type SHA string

// PRNumber identifies a change-proposal.
type PRNumber int
