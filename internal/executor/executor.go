// Package executor implements the Executor component of spec.md §4.4: runs
// a claimed task, supervises it, and publishes a terminal status atomically
// with respect to the lease.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ciqueue/runner/contracts"
)

// Executor implements contracts.Executor.
type Executor struct {
	platform  contracts.PlatformAdapter
	budget    contracts.ResourceBudget
	owner     string
	repo      string
	construct contracts.JobConstructor
	repoURL   string
	jobsRoot  string
	log       logr.Logger
}

// New creates an Executor. construct resolves a task's job.class into a
// runnable contracts.Job (internal/jobregistry provides one); repoURL is
// the git clone URL passed through to constructed jobs as their build
// target, alongside the task's own PR-head refspec. jobsRoot is the
// filesystem root under which each task gets a fresh UUID-named working
// directory (SPEC_FULL.md §6); an empty jobsRoot skips directory creation,
// which keeps existing tests that don't care about a working directory
// from having to supply one.
func New(platform contracts.PlatformAdapter, budget contracts.ResourceBudget, owner, repo, repoURL, jobsRoot string, construct contracts.JobConstructor, log logr.Logger) *Executor {
	return &Executor{platform: platform, budget: budget, owner: owner, repo: repo, construct: construct, repoURL: repoURL, jobsRoot: jobsRoot, log: log}
}

// Execute implements the four-step algorithm of spec.md §4.4. Resource
// budget, admitted by the caller before Execute is invoked, is always
// released here regardless of outcome.
func (e *Executor) Execute(ctx context.Context, pr contracts.PullRequest, def contracts.TaskDefinition, lease contracts.Lease, deps map[contracts.Context]contracts.Status) error {
	alloc := contracts.Allocation{SHA: pr.Head.SHA, Context: def.Name}
	defer e.budget.Release(alloc)

	description := contracts.FormatTaken(lease.RunnerID, lease.ClaimedAt)

	workDir, err := e.allocWorkDir()
	if err != nil {
		return fmt.Errorf("task %s: allocating working directory: %w", def.Name, err)
	}
	if workDir != "" {
		defer os.RemoveAll(workDir)
	}

	refspec := fmt.Sprintf("pull/%d/head", pr.Number)
	job, err := e.construct(def.Job, e.repoURL, refspec, workDir)
	if err != nil {
		return fmt.Errorf("task %s: constructing job: %w", def.Name, err)
	}

	// 1. Gather dependency results (already Status values fetched by the
	// caller from the Queue's scan; no further platform round-trip here).
	depResults := make(map[contracts.Context]contracts.JobResult, len(deps))
	for name, st := range deps {
		depResults[name] = contracts.JobResult{State: st.State, Description: st.Description, TargetURL: st.TargetURL}
	}

	// 2. Invoke the job with its own timeout.
	execCtx := ctx
	var cancel context.CancelFunc
	if def.Job.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, def.Job.Timeout)
		defer cancel()
	}

	result, err := e.runJob(execCtx, job, depResults, def)
	if err != nil {
		return err
	}

	// 3. Re-read the task's current status before publishing: if the
	// description no longer matches the lease we were handed, another
	// runner has overwritten it. Discard the result, do not publish.
	current, err := e.platform.GetStatus(ctx, e.owner, e.repo, pr.Head.SHA, def.Name)
	if err != nil {
		return fmt.Errorf("task %s: re-reading status before publish: %w", def.Name, err)
	}
	if current.Description != description {
		e.log.Info("lease superseded, discarding result", "sha", pr.Head.SHA, "context", def.Name)
		return fmt.Errorf("task %s: %w", def.Name, contracts.ErrSuperseded)
	}

	// 4. Publish the final status in a single write.
	final := contracts.Status{
		Context:     def.Name,
		State:       result.State,
		Description: truncate(result.Description, contracts.GitHubDescriptionLimit),
		TargetURL:   result.TargetURL,
	}
	if err := e.platform.CreateStatus(ctx, e.owner, e.repo, pr.Head.SHA, final); err != nil {
		return fmt.Errorf("task %s: publishing result: %w", def.Name, err)
	}
	return nil
}

// runJob invokes the job body and maps its outcome to the {ERROR, FAILURE}
// taxonomy of spec.md §7: an exception (job.Run returning an error) maps to
// ERROR, a timeout maps to ERROR with the timeout value in the
// description, a normal return carries the job's own terminal state.
func (e *Executor) runJob(ctx context.Context, job contracts.Job, deps map[contracts.Context]contracts.JobResult, def contracts.TaskDefinition) (contracts.JobResult, error) {
	resultCh := make(chan contracts.JobResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := job.Run(ctx, deps)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			return contracts.JobResult{
				State:       contracts.StateError,
				Description: truncate(fmt.Sprintf("timed out after %s", def.Job.Timeout), contracts.GitHubDescriptionLimit),
			}, nil
		}
		return contracts.JobResult{
			State:       contracts.StateError,
			Description: truncate(fmt.Sprintf("%T: %s", err, err.Error()), contracts.GitHubDescriptionLimit),
		}, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return contracts.JobResult{
				State:       contracts.StateError,
				Description: truncate(fmt.Sprintf("timed out after %s", def.Job.Timeout), contracts.GitHubDescriptionLimit),
			}, nil
		}
		return contracts.JobResult{}, fmt.Errorf("task %s: %w", def.Name, ctx.Err())
	}
}

// allocWorkDir creates a fresh, job-exclusive directory named by a v4 UUID
// under jobsRoot (SPEC_FULL.md §6). Returns "" without error when jobsRoot
// is unset.
func (e *Executor) allocWorkDir() (string, error) {
	if e.jobsRoot == "" {
		return "", nil
	}
	dir := filepath.Join(e.jobsRoot, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
