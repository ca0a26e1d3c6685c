package contracts

import "errors"

// Sentinel errors shared across the runner. Propagation policy: errors
// inside a task never propagate past the Executor; errors inside the
// scheduler loop are logged once and the loop sleeps then resumes; only
// configuration/authentication errors abort the process (spec.md §7).
var (
	// ErrAlreadyTaken is raised by the claim protocol when a status is no
	// longer PENDING/unassigned, or when another runner wrote last during
	// the race window. Handled locally: release resources, move on.
	ErrAlreadyTaken = errors.New("task already taken")

	// ErrSuperseded is raised post-execution when the lease was overwritten
	// while the job ran. The result is discarded; no status is written.
	ErrSuperseded = errors.New("lease superseded by another runner")

	// ErrTaskDefinitionInvalid marks a per-PR, non-fatal parse failure of
	// the task-definition document. The PR is skipped for this scan.
	ErrTaskDefinitionInvalid = errors.New("task definition invalid")

	// ErrUnknownJobClass is returned by the job registry when a task's
	// job.class is not registered. Task definitions are not checked against
	// the registry when loaded: the error surfaces from Executor.Execute
	// while constructing the job, after the task has been claimed, and no
	// terminal status is published for it. Not fatal for the process.
	ErrUnknownJobClass = errors.New("unknown job class")

	// ErrInsufficientResources is raised by the Resource Budget when a
	// claim cannot be admitted under current allocations.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrUnknownAllocation names the case of Release being called for a key
	// with no allocation. The budget in internal/budget treats that case as
	// a silent no-op and neither logs nor returns this error.
	ErrUnknownAllocation = errors.New("unknown resource allocation")

	// ErrTransientPlatform wraps retryable platform failures: connection
	// errors, 5xx, and rate-limit exhaustion the adapter could not absorb.
	ErrTransientPlatform = errors.New("transient platform error")

	// ErrPlatformRejected wraps non-retryable 4xx platform failures.
	ErrPlatformRejected = errors.New("platform rejected request")

	// ErrNotFound is returned by GetStatus when no status exists yet for
	// the given (commit, context) — the task is not yet materialized.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput guards nil/malformed arguments at package boundaries.
	ErrInvalidInput = errors.New("invalid input: nil or malformed")

	// ErrConfig wraps configuration load/validation failures. Fatal:
	// the process exits nonzero.
	ErrConfig = errors.New("configuration error")
)
