// Package claim implements the optimistic lease protocol of spec.md §4.2:
// at most one runner executes a given (commit, context) to success, without
// any peer-to-peer coordination, by racing writes to the platform's status
// description field.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/ciqueue/runner/contracts"
)

// Clock abstracts time.Now and time.Sleep so tests can run the race window
// without actually sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time     { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// protocol implements contracts.ClaimProtocol.
type protocol struct {
	platform    contracts.PlatformAdapter
	runner      contracts.RunnerID
	owner, repo string
	clock       Clock
	log         logr.Logger
	window      time.Duration
}

// New creates a ClaimProtocol against the single configured (owner, repo).
// window overrides contracts.RaceWindow when nonzero, for tests.
func New(platform contracts.PlatformAdapter, runner contracts.RunnerID, owner, repo string, log logr.Logger, clock Clock, window time.Duration) contracts.ClaimProtocol {
	if clock == nil {
		clock = RealClock
	}
	if window == 0 {
		window = contracts.RaceWindow
	}
	return &protocol{platform: platform, runner: runner, owner: owner, repo: repo, clock: clock, log: log, window: window}
}

// Claim implements the five-step algorithm of spec.md §4.2.
func (p *protocol) Claim(ctx context.Context, pr contracts.PullRequest, def contracts.TaskDefinition) (contracts.Lease, error) {
	owner, repo := p.owner, p.repo

	// 1. Re-read the current status. Abort if already taken.
	current, err := p.platform.GetStatus(ctx, owner, repo, pr.Head.SHA, def.Name)
	if err != nil {
		return contracts.Lease{}, fmt.Errorf("claim %s/%s: reading current status: %w", pr.Head.SHA, def.Name, err)
	}
	if !current.Claimable() {
		return contracts.Lease{}, fmt.Errorf("claim %s/%s: %w", pr.Head.SHA, def.Name, contracts.ErrAlreadyTaken)
	}

	// 2. Write a new status carrying our claim description.
	claimedAt := p.clock.Now()
	description := contracts.FormatTaken(p.runner, claimedAt)
	written := contracts.Status{Context: def.Name, State: contracts.StatePending, Description: description}
	if err := p.platform.CreateStatus(ctx, owner, repo, pr.Head.SHA, written); err != nil {
		return contracts.Lease{}, fmt.Errorf("claim %s/%s: writing claim: %w", pr.Head.SHA, def.Name, err)
	}

	// 3. Sleep for the race window.
	p.log.V(1).Info("claim written, waiting out race window", "sha", pr.Head.SHA, "context", def.Name, "window", p.window)
	p.clock.Sleep(p.window)

	// 4. Re-read. If the description changed, someone else wrote last and wins.
	readBack, err := p.platform.GetStatus(ctx, owner, repo, pr.Head.SHA, def.Name)
	if err != nil {
		return contracts.Lease{}, fmt.Errorf("claim %s/%s: reading back claim: %w", pr.Head.SHA, def.Name, err)
	}
	if readBack.Description != description {
		return contracts.Lease{}, fmt.Errorf("claim %s/%s: lost race window, last writer owns it: %w",
			pr.Head.SHA, def.Name, contracts.ErrAlreadyTaken)
	}

	// 5. Commit the lease; the executor carries it forward.
	lease := contracts.Lease{RunnerID: p.runner, ClaimedAt: claimedAt, Timeout: def.Job.Timeout}
	p.log.Info("claim acquired", "sha", pr.Head.SHA, "context", def.Name, "pr", pr.Number)
	return lease, nil
}
