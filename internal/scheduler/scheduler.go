// Package scheduler implements the top-level runner loop of spec.md §5: a
// single long-lived loop per machine that scans the Queue, admits and
// claims tasks in priority order, and spawns one worker goroutine per
// claimed task. It owns the Resource Budget and the Queue cursor; there is
// no cross-machine synchronization.
//
// The dispatch order mirrors the original system's take_tasks loop: resource
// admission is checked before the claim is attempted, so a task that cannot
// fit is skipped without ever writing a lease, and the scheduler moves on to
// the next (lower-priority) claimable task rather than blocking.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ciqueue/runner/contracts"
	"github.com/ciqueue/runner/internal/adminhttp"
	"github.com/ciqueue/runner/internal/audit"
)

// Minimum free-capacity thresholds below which the scheduler stops
// attempting new claims for a cycle and sleeps instead (spec.md §4.3).
const (
	minCPUThreshold    = 2
	minMemoryThreshold = 900 // MiB
	resourceLowBackoff = 10 * time.Second
)

// Scheduler implements contracts.RunnerLoop.
type Scheduler struct {
	queue    contracts.Queue
	claim    contracts.ClaimProtocol
	budget   contracts.ResourceBudget
	executor contracts.Executor

	noTaskBackoff time.Duration
	errorBackoff  time.Duration

	log     logr.Logger
	metrics *adminhttp.Metrics

	stopping atomic.Bool
	inFlight sync.WaitGroup
}

// New builds a Scheduler from its five cooperating components plus the two
// configured backoff durations (spec.md §6: no_task_backoff_time,
// error_backoff_time). metrics may be nil, in which case the scheduler
// simply doesn't record counters (e.g. cfg.Metrics.Addr unset).
func New(queue contracts.Queue, claimProto contracts.ClaimProtocol, budget contracts.ResourceBudget, executor contracts.Executor, noTaskBackoff, errorBackoff time.Duration, log logr.Logger, metrics *adminhttp.Metrics) *Scheduler {
	return &Scheduler{
		queue:         queue,
		claim:         claimProto,
		budget:        budget,
		executor:      executor,
		noTaskBackoff: noTaskBackoff,
		errorBackoff:  errorBackoff,
		log:           log,
		metrics:       metrics,
	}
}

// incr invokes sel against s.metrics and increments the result, doing
// nothing when the scheduler was built without a *adminhttp.Metrics (e.g.
// cfg.Metrics.Addr unset).
func (s *Scheduler) incr(sel func(*adminhttp.Metrics) prometheus.Counter) {
	if s.metrics == nil {
		return
	}
	sel(s.metrics).Inc()
}

// Drain stops the scheduler from attempting new claims; tasks already
// dispatched keep running until they finish or ctx (passed to Run) is
// cancelled. This is the SIGINT=finish signal of spec.md §5; a caller that
// also wants to abort running workers cancels ctx directly.
func (s *Scheduler) Drain() {
	s.stopping.Store(true)
}

// Run implements contracts.RunnerLoop. It blocks until ctx is cancelled or
// Drain has been called and every dispatched task has completed.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.inFlight.Wait()
			return ctx.Err()
		default:
		}

		if s.stopping.Load() {
			s.inFlight.Wait()
			audit.Log(s.log, "event=runner_drained")
			return nil
		}

		dispatched, err := s.scan(ctx)
		if err != nil {
			audit.Log(s.log, "event=scan_failed error=%s", err.Error())
			if !s.sleep(ctx, s.errorBackoff) {
				return ctx.Err()
			}
			continue
		}

		if dispatched == 0 {
			if !s.sleep(ctx, s.noTaskBackoff) {
				return ctx.Err()
			}
		}
	}
}

// scan runs one full Queue cycle — materialize, sweep, enumerate — then
// admits and claims as many claimable tasks as current resource headroom
// allows, dispatching each to its own worker goroutine. It returns the
// number of tasks dispatched in this cycle.
func (s *Scheduler) scan(ctx context.Context) (int, error) {
	if err := s.queue.MaterializeTasks(ctx); err != nil {
		return 0, err
	}
	if err := s.queue.StaleSweep(ctx); err != nil {
		return 0, err
	}

	claimable, err := s.queue.EnumerateClaimable(ctx)
	if err != nil {
		return 0, err
	}
	if len(claimable) == 0 {
		return 0, nil
	}

	if cpu, mem := s.budget.Headroom(); cpu < minCPUThreshold || mem < minMemoryThreshold {
		audit.Log(s.log, "event=resource_budget_low free_cpu=%.2f free_mem=%.2f", cpu, mem)
		if !s.sleep(ctx, resourceLowBackoff) {
			return 0, ctx.Err()
		}
		return 0, nil
	}

	dispatched := 0
	for _, task := range claimable {
		if s.stopping.Load() {
			break
		}

		cpu, mem := topologyRequest(task.Definition)
		alloc := contracts.Allocation{SHA: task.PR.Head.SHA, Context: task.Definition.Name}

		if err := s.budget.Admit(alloc, cpu, mem); err != nil {
			s.log.V(1).Info("skipping task, insufficient resources", "pr", task.PR.Number, "context", task.Definition.Name)
			s.incr(func(m *adminhttp.Metrics) prometheus.Counter { return m.BudgetRejected })
			continue
		}

		lease, err := s.claim.Claim(ctx, task.PR, task.Definition)
		if err != nil {
			s.budget.Release(alloc)
			if errors.Is(err, contracts.ErrAlreadyTaken) {
				s.incr(func(m *adminhttp.Metrics) prometheus.Counter { return m.ClaimsLost })
				continue
			}
			return dispatched, err
		}

		deps := dependencyStatuses(task.PR, task.Definition)
		audit.Log(s.log, "event=task_claimed pr=%d context=%s runner=%s", task.PR.Number, task.Definition.Name, lease.RunnerID)
		s.incr(func(m *adminhttp.Metrics) prometheus.Counter { return m.TasksClaimed })

		s.inFlight.Add(1)
		dispatched++
		go s.execute(ctx, task, lease, deps)
	}
	return dispatched, nil
}

func (s *Scheduler) execute(ctx context.Context, task contracts.ClaimableTask, lease contracts.Lease, deps map[contracts.Context]contracts.Status) {
	defer s.inFlight.Done()

	start := time.Now()
	err := s.executor.Execute(ctx, task.PR, task.Definition, lease, deps)
	durationMs := time.Since(start).Milliseconds()

	switch {
	case err == nil:
		audit.Log(s.log, "event=task_completed pr=%d context=%s duration_ms=%d", task.PR.Number, task.Definition.Name, durationMs)
	case errors.Is(err, contracts.ErrSuperseded):
		audit.Log(s.log, "event=task_superseded pr=%d context=%s duration_ms=%d", task.PR.Number, task.Definition.Name, durationMs)
	default:
		audit.Log(s.log, "event=task_failed pr=%d context=%s duration_ms=%d error=%s", task.PR.Number, task.Definition.Name, durationMs, err.Error())
	}
}

// sleep blocks for d or until ctx is cancelled, whichever comes first. It
// returns false if ctx was the reason it returned.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func topologyRequest(def contracts.TaskDefinition) (cpu, mem float64) {
	if def.Job.Topology == nil {
		return 0, 0
	}
	return def.Job.Topology.CPU, def.Job.Topology.Memory
}

func dependencyStatuses(pr contracts.PullRequest, def contracts.TaskDefinition) map[contracts.Context]contracts.Status {
	deps := make(map[contracts.Context]contracts.Status, len(def.Requires))
	for _, name := range def.Requires {
		if st, ok := pr.Head.Statuses[name]; ok {
			deps[name] = st
		}
	}
	return deps
}
