package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Status description literals and lease encoding, grounded in the original
// system's description-field protocol: the description string IS the lease,
// there is no side-channel store.
const (
	// DescriptionUnassigned marks a PENDING status nobody has claimed yet.
	DescriptionUnassigned = "unassigned"

	// DescriptionRerunPending marks a task explicitly reset for a re-run.
	// Status.Claimable does not accept it: only DescriptionUnassigned is
	// claimable, and the queue's re-run reset writes DescriptionUnassigned.
	DescriptionRerunPending = "pending for rerun"

	// takenFmt is the description written at claim time: "Taken by
	// <runner_id> on YYYY-MM-DD HH:MM UTC" (spec.md §6 — parsers must
	// round-trip this exact format).
	takenFmt = "Taken by %s on %s"

	// takenTimeLayout is the timestamp layout embedded in a taken
	// description.
	takenTimeLayout = "2006-01-02 15:04 MST"

	// GitHubDescriptionLimit is the platform's hard cap on a status
	// description's length; the claim protocol must never write past it.
	GitHubDescriptionLimit = 139

	// RaceWindow is how long a runner waits after writing a claim before
	// re-reading the status to detect a concurrent winner (spec.md §4.2).
	RaceWindow = 20 * time.Second

	// StaleGrace is added on top of a task's own timeout before the queue's
	// stale sweep considers a claimed-but-unfinished task abandoned.
	StaleGrace = 300 * time.Second
)

// FormatTaken renders the description written immediately after a
// successful claim.
func FormatTaken(runner RunnerID, claimedAt time.Time) string {
	return fmt.Sprintf(takenFmt, runner, claimedAt.UTC().Format(takenTimeLayout))
}

// ParseTaken extracts the runner and claim time from a "Taken by %s on %s"
// description. ok is false if the description does not match that shape,
// which callers treat as "not currently leased" rather than an error.
func ParseTaken(description string) (runner RunnerID, claimedAt time.Time, ok bool) {
	const prefix = "Taken by "
	if !strings.HasPrefix(description, prefix) {
		return "", time.Time{}, false
	}
	rest := description[len(prefix):]
	const sep = " on "
	idx := strings.Index(rest, sep)
	if idx < 0 {
		return "", time.Time{}, false
	}
	runnerPart := rest[:idx]
	timePart := rest[idx+len(sep):]
	ts, err := time.Parse(takenTimeLayout, timePart)
	if err != nil {
		return "", time.Time{}, false
	}
	return RunnerID(runnerPart), ts, true
}

// Stale reports whether a lease claimed at claimedAt has outlived its
// timeout plus the grace period, as of now.
func (l Lease) Stale(now time.Time) bool {
	return now.After(l.ClaimedAt.Add(l.Timeout).Add(StaleGrace))
}
