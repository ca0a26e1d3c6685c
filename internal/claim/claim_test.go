package claim

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/contracts"
)

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	onSleep func()
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	if c.onSleep != nil {
		c.onSleep()
	}
}

// fakePlatform implements just enough of contracts.PlatformAdapter for the
// claim protocol's two calls.
type fakePlatform struct {
	contracts.PlatformAdapter
	statuses map[contracts.SHA]map[contracts.Context]contracts.Status
	// rewriteOnCreate simulates another runner overwriting the status
	// between our write and our read-back.
	rewriteOnCreate contracts.Status
	rewrite         bool
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
	if f.rewrite {
		f.statuses[sha][s.Context] = f.rewriteOnCreate
	}
	return nil
}

func testPR(sha contracts.SHA) contracts.PullRequest {
	return contracts.PullRequest{Number: 1, Head: contracts.Commit{SHA: sha}}
}

func testDef(name contracts.Context) contracts.TaskDefinition {
	return contracts.TaskDefinition{Name: name, Job: contracts.JobSpec{Timeout: 5 * time.Minute}}
}

func TestClaim_SucceedsWhenUnassigned(t *testing.T) {
	p := newFakePlatform()
	p.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: contracts.DescriptionUnassigned},
	}

	clock := &fakeClock{now: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}
	cp := New(p, "runner-1", "freeipa", "freeipa", logr.Discard(), clock, time.Millisecond)

	lease, err := cp.Claim(context.Background(), testPR("sha1"), testDef("build"))
	require.NoError(t, err)
	require.Equal(t, contracts.RunnerID("runner-1"), lease.RunnerID)
	require.Equal(t, []time.Duration{time.Millisecond}, clock.slept)
}

func TestClaim_AlreadyTakenOnFirstRead(t *testing.T) {
	p := newFakePlatform()
	p.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StateSuccess},
	}

	cp := New(p, "runner-1", "freeipa", "freeipa", logr.Discard(), &fakeClock{}, time.Millisecond)
	_, err := cp.Claim(context.Background(), testPR("sha1"), testDef("build"))
	require.ErrorIs(t, err, contracts.ErrAlreadyTaken)
}

func TestClaim_LosesRaceWindow(t *testing.T) {
	p := newFakePlatform()
	p.statuses["sha1"] = map[contracts.Context]contracts.Status{
		"build": {Context: "build", State: contracts.StatePending, Description: contracts.DescriptionUnassigned},
	}
	p.rewrite = true
	p.rewriteOnCreate = contracts.Status{Context: "build", State: contracts.StatePending, Description: "Taken by runner-2 on 2026-07-30 12:00 UTC"}

	cp := New(p, "runner-1", "freeipa", "freeipa", logr.Discard(), &fakeClock{}, time.Millisecond)
	_, err := cp.Claim(context.Background(), testPR("sha1"), testDef("build"))
	require.ErrorIs(t, err, contracts.ErrAlreadyTaken)
}
