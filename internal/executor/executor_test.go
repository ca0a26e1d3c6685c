package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/contracts"
	"github.com/ciqueue/runner/internal/budget"
)

type fakeJob struct {
	result contracts.JobResult
	err    error
	delay  time.Duration
}

func (j fakeJob) Run(ctx context.Context, deps map[contracts.Context]contracts.JobResult) (contracts.JobResult, error) {
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return contracts.JobResult{}, ctx.Err()
		}
	}
	return j.result, j.err
}

type fakePlatform struct {
	contracts.PlatformAdapter
	statuses map[contracts.SHA]map[contracts.Context]contracts.Status
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{statuses: make(map[contracts.SHA]map[contracts.Context]contracts.Status)}
}

func (f *fakePlatform) GetStatus(ctx context.Context, owner, repo string, sha contracts.SHA, c contracts.Context) (contracts.Status, error) {
	byCtx, ok := f.statuses[sha]
	if !ok {
		return contracts.Status{}, contracts.ErrNotFound
	}
	s, ok := byCtx[c]
	if !ok {
		return contracts.Status{}, contracts.ErrNotFound
	}
	return s, nil
}

func (f *fakePlatform) CreateStatus(ctx context.Context, owner, repo string, sha contracts.SHA, s contracts.Status) error {
	if f.statuses[sha] == nil {
		f.statuses[sha] = make(map[contracts.Context]contracts.Status)
	}
	f.statuses[sha][s.Context] = s
	return nil
}

func testPR(sha contracts.SHA) contracts.PullRequest {
	return contracts.PullRequest{Number: 7, Head: contracts.Commit{SHA: sha}}
}

func TestExecutor_PublishesOnSuccess(t *testing.T) {
	f := newFakePlatform()
	lease := contracts.Lease{RunnerID: "runner-1", ClaimedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)}
	f.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: contracts.FormatTaken(lease.RunnerID, lease.ClaimedAt)},
	}

	job := fakeJob{result: contracts.JobResult{State: contracts.StateSuccess, Description: "ok"}}
	construct := func(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) { return job, nil }

	b := budget.New(4, 8192)
	ex := New(f, b, "owner", "repo", "git://repo", "", construct, logr.Discard())

	def := contracts.TaskDefinition{Name: "build", Job: contracts.JobSpec{Timeout: time.Second}}
	require.NoError(t, ex.Execute(context.Background(), testPR("sha1"), def, lease, nil))

	st, _ := f.GetStatus(context.Background(), "acme", "widget", "sha1", "build")
	require.True(t, st.Succeeded(), "expected published SUCCESS status, got %+v", st)
}

func TestExecutor_SupersededWhenLeaseOverwritten(t *testing.T) {
	f := newFakePlatform()
	lease := contracts.Lease{RunnerID: "runner-1", ClaimedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)}
	// Simulate another runner having overwritten the description.
	f.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: "Taken by runner-2 on 2026-07-30 10:05 UTC"},
	}

	job := fakeJob{result: contracts.JobResult{State: contracts.StateSuccess}}
	construct := func(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) { return job, nil }

	b := budget.New(4, 8192)
	ex := New(f, b, "owner", "repo", "git://repo", "", construct, logr.Discard())

	def := contracts.TaskDefinition{Name: "build", Job: contracts.JobSpec{Timeout: time.Second}}
	err := ex.Execute(context.Background(), testPR("sha1"), def, lease, nil)
	require.ErrorIs(t, err, contracts.ErrSuperseded)
}

func TestExecutor_TimeoutMapsToError(t *testing.T) {
	f := newFakePlatform()
	lease := contracts.Lease{RunnerID: "runner-1", ClaimedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)}
	f.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: contracts.FormatTaken(lease.RunnerID, lease.ClaimedAt)},
	}

	job := fakeJob{delay: 50 * time.Millisecond}
	construct := func(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) { return job, nil }

	b := budget.New(4, 8192)
	ex := New(f, b, "owner", "repo", "git://repo", "", construct, logr.Discard())

	def := contracts.TaskDefinition{Name: "build", Job: contracts.JobSpec{Timeout: 5 * time.Millisecond}}
	require.NoError(t, ex.Execute(context.Background(), testPR("sha1"), def, lease, nil))

	st, _ := f.GetStatus(context.Background(), "acme", "widget", "sha1", "build")
	require.Equal(t, contracts.StateError, st.State)
}

func TestExecutor_ReleasesBudgetRegardlessOfOutcome(t *testing.T) {
	f := newFakePlatform()
	lease := contracts.Lease{RunnerID: "runner-1", ClaimedAt: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)}
	f.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: contracts.FormatTaken(lease.RunnerID, lease.ClaimedAt)},
	}

	job := fakeJob{err: errors.New("boom")}
	construct := func(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) { return job, nil }

	b := budget.New(4, 8192)
	alloc := contracts.Allocation{SHA: "sha1", Context: "build"}
	require.NoError(t, b.Admit(alloc, 1, 1024))

	ex := New(f, b, "owner", "repo", "git://repo", "", construct, logr.Discard())
	def := contracts.TaskDefinition{Name: "build", Job: contracts.JobSpec{Timeout: time.Second}}
	require.NoError(t, ex.Execute(context.Background(), testPR("sha1"), def, lease, nil))

	cpu, mem := b.Headroom()
	require.Equal(t, 4.0, cpu)
	require.Equal(t, 8192.0, mem)
}
