package jobregistry

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/ciqueue/runner/contracts"
)

// killGrace is how long the process group is given to exit after SIGTERM
// before the sweep escalates to SIGKILL.
const killGrace = 5 * time.Second

// ShellClass is the job.class literal that resolves to shellJob, the
// closest Go equivalent of the original runner's PopenTask: a single
// command line run to completion under the task's timeout, with the clone
// URL and refspec exposed as environment variables for the command to use.
const ShellClass = "shell"

// shellJob runs a single shell command line, the PopenTask analogue: it
// streams nothing back but the last line of the combined output (the
// Executor truncates it to fit a status description), and maps a nonzero exit code to FAILURE rather than
// ERROR (ERROR is reserved for the command never starting, or the process
// being killed on timeout).
type shellJob struct {
	cmd     string
	repoURL string
	refspec string
	workDir string
}

// NewShellJob constructs a Job from a task definition's job spec. The spec
// must carry a string "cmd" argument; any other argument is ignored and is
// not passed to the command. workDir, when non-empty, becomes the command's working directory and is
// also exposed as BUILD_WORKDIR.
func NewShellJob(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) {
	cmd, ok := spec.Args["cmd"].(string)
	if !ok || cmd == "" {
		return nil, fmt.Errorf("%w: shell job requires a non-empty string \"cmd\" argument", contracts.ErrInvalidInput)
	}
	return &shellJob{cmd: cmd, repoURL: repoURL, refspec: refspec, workDir: workDir}, nil
}

// Run spawns the command as the leader of its own process group, rather
// than relying on exec.CommandContext's default cancel (which only signals
// the direct "sh" PID and orphans any grandchildren it forked). On timeout
// or cancellation the whole group is sent SIGTERM, then swept with SIGKILL
// if it hasn't exited within killGrace.
func (j *shellJob) Run(ctx context.Context, deps map[contracts.Context]contracts.JobResult) (contracts.JobResult, error) {
	cmd := exec.Command("sh", "-c", j.cmd)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if j.workDir != "" {
		cmd.Dir = j.workDir
	}
	cmd.Env = append(cmd.Environ(),
		"BUILD_TARGET_URL="+j.repoURL,
		"BUILD_TARGET_REFSPEC="+j.refspec,
		"BUILD_WORKDIR="+j.workDir,
	)
	for name, result := range deps {
		cmd.Env = append(cmd.Env,
			fmt.Sprintf("DEP_%s_DESCRIPTION=%s", name, result.Description),
			fmt.Sprintf("DEP_%s_URL=%s", name, result.TargetURL),
		)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return contracts.JobResult{}, fmt.Errorf("starting shell job: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		switch {
		case err == nil:
			return contracts.JobResult{State: contracts.StateSuccess, Description: lastLine(out.String())}, nil
		default:
			return contracts.JobResult{State: contracts.StateFailure, Description: lastLine(out.String())}, nil
		}
	case <-ctx.Done():
		killGroup(cmd.Process.Pid, done)
		return contracts.JobResult{}, ctx.Err()
	}
}

// killGroup signals the process group rooted at pgid, escalating from
// SIGTERM to SIGKILL if the group hasn't exited within killGrace. It
// doesn't return until the group is confirmed gone, so no residual process
// outlives the caller's timeout handling.
func killGroup(pgid int, done <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func lastLine(s string) string {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == '\n' && i < len(s)-1 {
			return s[i+1:]
		}
	}
	return s
}
