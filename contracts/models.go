package contracts

import "time"

// Status is a single commit status entry: (context, state, description,
// target_url). Only the most recent status per (commit, context) matters
// semantically — the platform's status log is append-only.
type Status struct {
	Context     Context
	State       State
	Description string
	TargetURL   string
}

// Pending reports whether the status is in the PENDING state.
func (s Status) Pending() bool { return s.State == StatePending }

// Succeeded reports whether the status is SUCCESS.
func (s Status) Succeeded() bool { return s.State == StateSuccess }

// Failed reports whether the status is FAILURE or ERROR.
func (s Status) Failed() bool { return s.State == StateFailure || s.State == StateError }

// Unassigned reports whether the description is exactly the `unassigned`
// literal.
func (s Status) Unassigned() bool { return s.Description == DescriptionUnassigned }

// RerunPending reports whether the description is exactly the `pending for
// rerun` literal.
func (s Status) RerunPending() bool { return s.Description == DescriptionRerunPending }

// Claimable reports whether this status represents a task a runner may
// attempt to claim: pending and unassigned.
func (s Status) Claimable() bool { return s.Pending() && s.Unassigned() }

// Commit is an immutable (sha, statuses-by-context) pair.
type Commit struct {
	SHA      SHA
	Statuses map[Context]Status
}

// PullRequest is a change-proposal snapshot as of one scan.
type PullRequest struct {
	Number      PRNumber
	Author      string
	BaseRef     string
	Mergeable   Mergeability
	Labels      map[Label]bool
	Head        Commit
	TasksFileAt string // ref the task-definition file should be fetched from: Head.SHA or BaseRef
}

// HasLabel reports whether the PR carries the given label.
func (pr PullRequest) HasLabel(l Label) bool { return pr.Labels[l] }

// Topology is the CPU/memory/name resource request of a task.
type Topology struct {
	Name   string
	CPU    float64
	Memory float64 // MiB
}

// JobSpec is the raw `job` block of a task definition.
type JobSpec struct {
	Class    string
	Args     map[string]any
	Timeout  time.Duration
	Topology *Topology // nil => task requests exclusive use of the runner
}

// TaskDefinition is one named entry of the task-definition document.
type TaskDefinition struct {
	Name     Context
	Priority int
	Requires []Context
	Job      JobSpec
}

// TaskDefinitionDocument is the parsed `jobs:` mapping of a task-definition
// file.
type TaskDefinitionDocument struct {
	Jobs map[Context]TaskDefinition
}

// Lease is the (runner, timestamp, timeout) tuple encoded into a status
// description. It is not stored separately from the status.
type Lease struct {
	RunnerID  RunnerID
	ClaimedAt time.Time
	Timeout   time.Duration
}

// ClaimableTask is one entry yielded by Queue.EnumerateClaimable: enough
// context for the claim protocol and executor to act without a further
// platform round-trip for the fields captured here.
type ClaimableTask struct {
	PR         PullRequest
	Definition TaskDefinition
	// DoneOnPR is the number of tasks on this PR already assigned or
	// terminal, used as the third ordering key (spec.md §4.1).
	DoneOnPR int
}

// JobResult is the outcome of running a job's body.
type JobResult struct {
	State       State
	Description string
	TargetURL   string
}
