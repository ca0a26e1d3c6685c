// Package queue implements the Queue component of spec.md §4.1: it
// presents a snapshot of actionable work for the current scan by
// materializing task statuses on open PRs, sweeping stale leases back to
// unassigned, and enumerating the currently claimable tasks in priority
// order.
package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/ciqueue/runner/contracts"
)

// whitelist reports whether an author is permitted to have tasks
// auto-materialized without a manual re-run.
type whitelist map[string]bool

// Queue implements contracts.Queue.
type Queue struct {
	platform  contracts.PlatformAdapter
	owner     string
	repo      string
	tasksPath string
	whitelist whitelist
	clock     func() time.Time
	log       logr.Logger
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithWhitelist restricts auto-materialization to the given author logins.
// Without it every PR requires a manual `re-run` label (spec.md §4.1).
func WithWhitelist(authors []string) Option {
	return func(q *Queue) {
		wl := make(whitelist, len(authors))
		for _, a := range authors {
			wl[a] = true
		}
		q.whitelist = wl
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.clock = now }
}

// New creates a Queue against a single configured (owner, repo).
func New(platform contracts.PlatformAdapter, owner, repo, tasksPath string, log logr.Logger, opts ...Option) *Queue {
	q := &Queue{
		platform:  platform,
		owner:     owner,
		repo:      repo,
		tasksPath: tasksPath,
		whitelist: make(whitelist),
		clock:     time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// loadDefinitions fetches and parses the task-definition document for a PR,
// following spec.md §4.1's rule for which ref to read from: the head
// commit if the tasks file was modified in the PR, the base branch
// otherwise. This repo cannot cheaply tell whether the file changed
// without a diff call, so — like the original system's "should never be
// executed" fallback — it always tries the head first and falls back to
// the base ref on fetch failure.
func (q *Queue) loadDefinitions(ctx context.Context, pr contracts.PullRequest) (contracts.TaskDefinitionDocument, error) {
	data, err := q.platform.FetchFile(ctx, q.owner, q.repo, string(pr.Head.SHA), q.tasksPath)
	if err != nil {
		data, err = q.platform.FetchFile(ctx, q.owner, q.repo, pr.BaseRef, q.tasksPath)
		if err != nil {
			return contracts.TaskDefinitionDocument{}, fmt.Errorf("pr #%d: fetching task definitions: %w", pr.Number, contracts.ErrTaskDefinitionInvalid)
		}
	}

	var raw struct {
		Jobs map[string]struct {
			Requires []string       `yaml:"requires"`
			Priority int             `yaml:"priority"`
			Job      rawJob          `yaml:"job"`
		} `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return contracts.TaskDefinitionDocument{}, fmt.Errorf("pr #%d: parsing task definitions: %w: %w", pr.Number, err, contracts.ErrTaskDefinitionInvalid)
	}

	doc := contracts.TaskDefinitionDocument{Jobs: make(map[contracts.Context]contracts.TaskDefinition, len(raw.Jobs))}
	for name, entry := range raw.Jobs {
		requires := make([]contracts.Context, len(entry.Requires))
		for i, r := range entry.Requires {
			requires[i] = contracts.Context(r)
		}
		def := contracts.TaskDefinition{
			Name:     contracts.Context(name),
			Priority: entry.Priority,
			Requires: requires,
			Job: contracts.JobSpec{
				Class:   entry.Job.Class,
				Args:    entry.Job.Args,
				Timeout: time.Duration(entry.Job.Timeout) * time.Second,
			},
		}
		if entry.Job.Topology != nil {
			def.Job.Topology = &contracts.Topology{
				Name:   entry.Job.Topology.Name,
				CPU:    entry.Job.Topology.CPU,
				Memory: entry.Job.Topology.Memory,
			}
		}
		doc.Jobs[def.Name] = def
	}

	if err := validateAcyclic(doc); err != nil {
		return contracts.TaskDefinitionDocument{}, fmt.Errorf("pr #%d: %w: %w", pr.Number, err, contracts.ErrTaskDefinitionInvalid)
	}

	return doc, nil
}

type rawJob struct {
	Class   string         `yaml:"class"`
	Args    map[string]any `yaml:"args"`
	Timeout int             `yaml:"timeout"`
	Topology *rawTopology   `yaml:"topology"`
}

type rawTopology struct {
	Name   string  `yaml:"name"`
	CPU    float64 `yaml:"cpu"`
	Memory float64 `yaml:"memory"`
}

// validateAcyclic checks the Requires graph for cycles and dangling
// references, via DFS with white/gray/black coloring — the same technique
// the teacher's dependency resolver and config validator use for step
// graphs.
func validateAcyclic(doc contracts.TaskDefinitionDocument) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[contracts.Context]int, len(doc.Jobs))
	for name := range doc.Jobs {
		colors[name] = white
	}

	var visit func(name contracts.Context) error
	visit = func(name contracts.Context) error {
		colors[name] = gray
		def, ok := doc.Jobs[name]
		if !ok {
			return fmt.Errorf("task %s: %w", name, contracts.ErrTaskDefinitionInvalid)
		}
		for _, dep := range def.Requires {
			if _, ok := doc.Jobs[dep]; !ok {
				return fmt.Errorf("task %s requires unknown task %s: %w", name, dep, contracts.ErrTaskDefinitionInvalid)
			}
			switch colors[dep] {
			case gray:
				return fmt.Errorf("cycle detected at task %s: %w", dep, contracts.ErrTaskDefinitionInvalid)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		colors[name] = black
		return nil
	}

	for name, color := range colors {
		if color == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaterializeTasks ensures every declared task exists as a status on each
// open PR's head commit (spec.md §4.1).
func (q *Queue) MaterializeTasks(ctx context.Context) error {
	prs, err := q.platform.GetPullRequests(ctx, q.owner, q.repo)
	if err != nil {
		return fmt.Errorf("materializing tasks: %w", err)
	}

	for _, pr := range prs {
		if pr.Mergeable != contracts.MergeableYes {
			continue
		}
		if pr.HasLabel(contracts.LabelBlacklisted) || pr.HasLabel(contracts.LabelPostponed) {
			continue
		}

		if err := q.materializeOne(ctx, pr); err != nil {
			q.log.Error(err, "skipping PR this scan", "pr", pr.Number)
			continue
		}
	}
	return nil
}

func (q *Queue) materializeOne(ctx context.Context, pr contracts.PullRequest) error {
	doc, err := q.loadDefinitions(ctx, pr)
	if err != nil {
		return err
	}

	rerun := pr.HasLabel(contracts.LabelReRun)
	hasAny := false
	for name := range doc.Jobs {
		if _, err := q.platform.GetStatus(ctx, q.owner, q.repo, pr.Head.SHA, name); err == nil {
			hasAny = true
			break
		}
	}

	// Gate: a PR with no existing statuses only materializes if the
	// author is whitelisted or re-run was requested.
	if !hasAny && !q.whitelist[pr.Author] && !rerun {
		return nil
	}

	if rerun {
		if err := q.platform.RemoveLabel(ctx, q.owner, q.repo, pr.Number, contracts.LabelReRun); err != nil {
			return fmt.Errorf("pr #%d: removing re-run label: %w", pr.Number, err)
		}
		for name := range doc.Jobs {
			st, err := q.platform.GetStatus(ctx, q.owner, q.repo, pr.Head.SHA, name)
			if err != nil {
				continue
			}
			if st.Failed() {
				reset := contracts.Status{Context: name, State: contracts.StatePending, Description: contracts.DescriptionUnassigned}
				if err := q.platform.CreateStatus(ctx, q.owner, q.repo, pr.Head.SHA, reset); err != nil {
					return fmt.Errorf("pr #%d: resetting %s: %w", pr.Number, name, err)
				}
			}
		}
	}

	// Create-missing pass: any declared task not yet present as a status.
	for name := range doc.Jobs {
		if _, err := q.platform.GetStatus(ctx, q.owner, q.repo, pr.Head.SHA, name); err == nil {
			continue
		}
		fresh := contracts.Status{Context: name, State: contracts.StatePending, Description: contracts.DescriptionUnassigned}
		if err := q.platform.CreateStatus(ctx, q.owner, q.repo, pr.Head.SHA, fresh); err != nil {
			return fmt.Errorf("pr #%d: materializing %s: %w", pr.Number, name, err)
		}
	}
	return nil
}

// StaleSweep resets timed-out leases back to PENDING/unassigned (spec.md
// §4.1).
func (q *Queue) StaleSweep(ctx context.Context) error {
	prs, err := q.platform.GetPullRequests(ctx, q.owner, q.repo)
	if err != nil {
		return fmt.Errorf("stale sweep: %w", err)
	}

	for _, pr := range prs {
		doc, err := q.loadDefinitions(ctx, pr)
		if err != nil {
			continue
		}
		for name, def := range doc.Jobs {
			if def.Job.Timeout == 0 {
				continue
			}
			st, err := q.platform.GetStatus(ctx, q.owner, q.repo, pr.Head.SHA, name)
			if err != nil {
				continue
			}
			runner, claimedAt, ok := contracts.ParseTaken(st.Description)
			if !ok {
				continue
			}
			lease := contracts.Lease{RunnerID: runner, ClaimedAt: claimedAt, Timeout: def.Job.Timeout}
			if lease.Stale(q.clock()) {
				reset := contracts.Status{Context: name, State: contracts.StatePending, Description: contracts.DescriptionUnassigned}
				if err := q.platform.CreateStatus(ctx, q.owner, q.repo, pr.Head.SHA, reset); err != nil {
					return fmt.Errorf("pr #%d: resetting stale %s: %w", pr.Number, name, err)
				}
				q.log.Info("reset stale lease", "pr", pr.Number, "task", name, "previous_runner", runner)
			}
		}
	}
	return nil
}

// EnumerateClaimable returns claimable tasks ordered by the composite key
// (prioritize, priority, done_on_pr) descending (spec.md §4.1, §8).
func (q *Queue) EnumerateClaimable(ctx context.Context) ([]contracts.ClaimableTask, error) {
	prs, err := q.platform.GetPullRequests(ctx, q.owner, q.repo)
	if err != nil {
		return nil, fmt.Errorf("enumerating claimable tasks: %w", err)
	}

	var out []contracts.ClaimableTask
	for _, pr := range prs {
		doc, err := q.loadDefinitions(ctx, pr)
		if err != nil {
			continue
		}

		statuses := make(map[contracts.Context]contracts.Status, len(doc.Jobs))
		doneOnPR := 0
		for name := range doc.Jobs {
			st, err := q.platform.GetStatus(ctx, q.owner, q.repo, pr.Head.SHA, name)
			if err != nil {
				continue
			}
			statuses[name] = st
			if !st.Pending() || !st.Unassigned() {
				doneOnPR++
			}
		}

		for name, def := range doc.Jobs {
			st, ok := statuses[name]
			if !ok || !st.Claimable() {
				continue
			}
			if !allRequirementsSucceeded(def, statuses) {
				continue
			}
			out = append(out, contracts.ClaimableTask{PR: pr, Definition: def, DoneOnPR: doneOnPR})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := claimKey(out[i]), claimKey(out[j])
		if ki.prioritize != kj.prioritize {
			return ki.prioritize
		}
		if ki.priority != kj.priority {
			return ki.priority > kj.priority
		}
		return ki.doneOnPR > kj.doneOnPR
	})
	return out, nil
}

func allRequirementsSucceeded(def contracts.TaskDefinition, statuses map[contracts.Context]contracts.Status) bool {
	for _, req := range def.Requires {
		st, ok := statuses[req]
		if !ok || !st.Succeeded() {
			return false
		}
	}
	return true
}

type claimOrderKey struct {
	prioritize bool
	priority   int
	doneOnPR   int
}

func claimKey(t contracts.ClaimableTask) claimOrderKey {
	return claimOrderKey{
		prioritize: t.PR.HasLabel(contracts.LabelPrioritize),
		priority:   t.Definition.Priority,
		doneOnPR:   t.DoneOnPR,
	}
}
