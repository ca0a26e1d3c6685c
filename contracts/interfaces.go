package contracts

import (
	"context"
	"time"
)

// =============================================================================
// Queue
// =============================================================================

// Queue presents a snapshot of actionable work for the current scan
// (spec.md §4.1).
type Queue interface {
	// MaterializeTasks ensures every declared task exists as a status on
	// each open PR's head commit, gated per spec.md §4.1.
	MaterializeTasks(ctx context.Context) error

	// StaleSweep resets timed-out leases back to PENDING/unassigned.
	StaleSweep(ctx context.Context) error

	// EnumerateClaimable returns claimable tasks ordered by the composite
	// key (prioritize, priority, done_on_pr) descending.
	EnumerateClaimable(ctx context.Context) ([]ClaimableTask, error)
}

// =============================================================================
// Claim protocol
// =============================================================================

// ClaimProtocol implements the optimistic lease acquisition of spec.md §4.2.
type ClaimProtocol interface {
	// Claim attempts to own the given task. On success it returns the
	// exact Lease now owned by this runner, carried by the Executor.
	// Returns ErrAlreadyTaken if another runner won the race.
	Claim(ctx context.Context, pr PullRequest, def TaskDefinition) (Lease, error)
}

// =============================================================================
// Resource budget
// =============================================================================

// Allocation identifies one admitted task's resource reservation.
type Allocation struct {
	SHA     SHA
	Context Context
}

// ResourceBudget tracks local CPU/memory admission control (spec.md §4.3).
type ResourceBudget interface {
	// Admit reserves (cpu, mem) for the allocation if capacity allows.
	// Returns ErrInsufficientResources otherwise; the caller must not
	// retry the same claim until resources free up.
	Admit(alloc Allocation, cpu, mem float64) error

	// Release returns a prior admission's resources. Idempotent: releasing
	// an unknown key is a silent no-op; it is not an error to the caller
	// and no warning is logged.
	Release(alloc Allocation)

	// Headroom reports free (cpu, mem) at the moment of the call.
	Headroom() (cpu, mem float64)
}

// =============================================================================
// Executor
// =============================================================================

// Executor runs a claimed task, supervises its process, and reports the
// outcome atomically with respect to the lease (spec.md §4.4).
type Executor interface {
	// Execute runs the task to completion or timeout and publishes the
	// terminal status if the lease is still intact. Returns ErrSuperseded
	// if another runner had overwritten the lease (no status is written in
	// that case — it is not an error to report further up).
	Execute(ctx context.Context, pr PullRequest, def TaskDefinition, lease Lease, deps map[Context]Status) error
}

// =============================================================================
// Platform adapter
// =============================================================================

// RateLimitInfo mirrors the platform's rate-limit response shape.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// PlatformAdapter is the bounded, rate-aware, cache-aware transport to the
// code-review platform (spec.md §4.5).
type PlatformAdapter interface {
	GetPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error)
	GetStatus(ctx context.Context, owner, repo string, sha SHA, c Context) (Status, error)
	CreateStatus(ctx context.Context, owner, repo string, sha SHA, s Status) error
	AddLabel(ctx context.Context, owner, repo string, pr PRNumber, l Label) error
	RemoveLabel(ctx context.Context, owner, repo string, pr PRNumber, l Label) error
	FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, error)
	RateLimit(ctx context.Context, resource string) (RateLimitInfo, error)
}

// =============================================================================
// Job registry
// =============================================================================

// Job is a runnable task body. Out of scope per spec.md §1 — this repo only
// defines how a job is looked up and invoked, not what any concrete job
// does.
type Job interface {
	// Run executes the job body and returns its outcome. ctx carries the
	// job's timeout; Run must respect cancellation.
	Run(ctx context.Context, deps map[Context]JobResult) (JobResult, error)
}

// JobConstructor builds a Job from a task's job spec and build target
// (repo clone URL + refspec), mirroring Design Notes §9's registry
// resolution. workDir is a fresh, job-exclusive directory the Executor
// creates under jobs_root for the duration of the run; it is empty when
// the caller has no jobs_root configured.
type JobConstructor func(spec JobSpec, repoURL, refspec, workDir string) (Job, error)
