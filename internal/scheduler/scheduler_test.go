package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/contracts"
)

type fakeQueue struct {
	mu         sync.Mutex
	claimable  []contracts.ClaimableTask
	scanCalls  int
	matErr     error
	sweepErr   error
	enumErr    error
}

func (q *fakeQueue) MaterializeTasks(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scanCalls++
	return q.matErr
}

func (q *fakeQueue) StaleSweep(ctx context.Context) error { return q.sweepErr }

func (q *fakeQueue) EnumerateClaimable(ctx context.Context) ([]contracts.ClaimableTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enumErr != nil {
		return nil, q.enumErr
	}
	out := q.claimable
	q.claimable = nil // only yield once, then report empty (simulates draining the queue)
	return out, nil
}

type fakeClaim struct {
	err error
}

func (c *fakeClaim) Claim(ctx context.Context, pr contracts.PullRequest, def contracts.TaskDefinition) (contracts.Lease, error) {
	if c.err != nil {
		return contracts.Lease{}, c.err
	}
	return contracts.Lease{RunnerID: "r1", ClaimedAt: time.Now()}, nil
}

type fakeBudget struct {
	mu       sync.Mutex
	cpu      float64
	mem      float64
	released []contracts.Allocation
}

func (b *fakeBudget) Admit(alloc contracts.Allocation, cpu, mem float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cpu == 0 && mem == 0 {
		cpu, mem = 1000, 1000
	}
	if cpu > b.cpu || mem > b.mem {
		return contracts.ErrInsufficientResources
	}
	b.cpu -= cpu
	b.mem -= mem
	return nil
}
func (b *fakeBudget) Release(alloc contracts.Allocation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, alloc)
}
func (b *fakeBudget) Headroom() (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cpu, b.mem
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeExecutor) Execute(ctx context.Context, pr contracts.PullRequest, def contracts.TaskDefinition, lease contracts.Lease, deps map[contracts.Context]contracts.Status) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return nil
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestScheduler(q *fakeQueue, c *fakeClaim, b *fakeBudget, e *fakeExecutor) *Scheduler {
	return New(q, c, b, e, 10*time.Millisecond, 10*time.Millisecond, logr.Discard(), nil)
}

func TestScheduler_DispatchesClaimableTasks(t *testing.T) {
	task := contracts.ClaimableTask{
		PR:         contracts.PullRequest{Number: 1, Head: contracts.Commit{SHA: "sha1"}},
		Definition: contracts.TaskDefinition{Name: "fedora/build", Job: contracts.JobSpec{Topology: &contracts.Topology{CPU: 1, Memory: 512}}},
	}
	q := &fakeQueue{claimable: []contracts.ClaimableTask{task}}
	budget := &fakeBudget{cpu: 10, mem: 10000}
	exec := &fakeExecutor{}
	s := newTestScheduler(q, &fakeClaim{}, budget, exec)

	n, err := s.scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "expected 1 dispatched")
	s.inFlight.Wait()
	require.Equal(t, 1, exec.count(), "expected executor called once")
}

func TestScheduler_SkipsTaskOnInsufficientResources(t *testing.T) {
	task := contracts.ClaimableTask{
		PR:         contracts.PullRequest{Number: 1, Head: contracts.Commit{SHA: "sha1"}},
		Definition: contracts.TaskDefinition{Name: "fedora/build"},
	}
	q := &fakeQueue{claimable: []contracts.ClaimableTask{task}}
	budget := &fakeBudget{cpu: 10, mem: 10} // below minMemoryThreshold, but also Admit would fail (0,0 => 1000,1000 needed)
	exec := &fakeExecutor{}
	s := newTestScheduler(q, &fakeClaim{}, budget, exec)

	n, err := s.scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "expected 0 dispatched when resources are low")
}

func TestScheduler_ReleasesBudgetWhenClaimLost(t *testing.T) {
	task := contracts.ClaimableTask{
		PR:         contracts.PullRequest{Number: 1, Head: contracts.Commit{SHA: "sha1"}},
		Definition: contracts.TaskDefinition{Name: "fedora/build", Job: contracts.JobSpec{Topology: &contracts.Topology{CPU: 1, Memory: 512}}},
	}
	q := &fakeQueue{claimable: []contracts.ClaimableTask{task}}
	budget := &fakeBudget{cpu: 10, mem: 10000}
	exec := &fakeExecutor{}
	s := newTestScheduler(q, &fakeClaim{err: contracts.ErrAlreadyTaken}, budget, exec)

	n, err := s.scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "expected 0 dispatched")
	require.Equal(t, 0, exec.count(), "expected executor not called")
	require.Equal(t, []contracts.Allocation{{SHA: "sha1", Context: "fedora/build"}}, budget.released, "expected the admitted allocation released after the lost claim")
}

func TestScheduler_RunSleepsWhenQueueEmpty(t *testing.T) {
	q := &fakeQueue{}
	budget := &fakeBudget{cpu: 10, mem: 10000}
	exec := &fakeExecutor{}
	s := newTestScheduler(q, &fakeClaim{}, budget, exec)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_DrainStopsNewClaimsAndReturnsAfterInFlightCompletes(t *testing.T) {
	q := &fakeQueue{}
	budget := &fakeBudget{cpu: 10, mem: 10000}
	exec := &fakeExecutor{}
	s := newTestScheduler(q, &fakeClaim{}, budget, exec)
	s.Drain()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err, "expected nil error on drained shutdown")
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly once drained with nothing in flight")
	}
}
