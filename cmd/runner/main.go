// Command runner is the distributed CI task runner's entry point: a single
// positional ID argument (stable across restarts on this machine) plus
// --config, wiring the five cooperating components — Queue, Claim
// Protocol, Resource Budget, Executor, Platform Adapter — into the
// scheduler loop of spec.md §5.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/ciqueue/runner/config"
	"github.com/ciqueue/runner/contracts"
	"github.com/ciqueue/runner/internal/adminhttp"
	"github.com/ciqueue/runner/internal/audit"
	"github.com/ciqueue/runner/internal/budget"
	"github.com/ciqueue/runner/internal/claim"
	"github.com/ciqueue/runner/internal/executor"
	"github.com/ciqueue/runner/internal/jobregistry"
	"github.com/ciqueue/runner/internal/logging"
	"github.com/ciqueue/runner/internal/platform"
	"github.com/ciqueue/runner/internal/queue"
	"github.com/ciqueue/runner/internal/reboot"
	"github.com/ciqueue/runner/internal/scheduler"

	"github.com/redis/go-redis/v9"
)

const defaultRebootFile = "/root/next_reboot"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the runner configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	positional := fs.Args()
	if len(positional) != 1 {
		return fmt.Errorf("usage: runner --config <path> ID")
	}
	if *configPath == "" {
		return fmt.Errorf("--config is required")
	}
	runnerID := contracts.RunnerID(positional[0])

	cfg, err := config.NewLoader().LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrConfig, err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrConfig, err)
	}

	whitelist, err := loadWhitelist(cfg.WhitelistFile)
	if err != nil {
		return fmt.Errorf("%w: loading whitelist: %v", contracts.ErrConfig, err)
	}

	var adapter *platform.Adapter
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		cache := platform.NewRedisCache(redisClient, 10*time.Minute)
		adapter = platform.New(platform.Config{Token: cfg.Credentials.Token}, cache, log)
	} else {
		adapter = platform.New(platform.Config{Token: cfg.Credentials.Token}, nil, log)
	}

	q := queue.New(adapter, cfg.Repository.Owner, cfg.Repository.Name, cfg.TasksFile, log, queue.WithWhitelist(whitelist))
	claimProto := claim.New(adapter, runnerID, cfg.Repository.Owner, cfg.Repository.Name, log, claim.RealClock, 0)
	resourceBudget := budget.New(cfg.Budget.CPU, cfg.Budget.Memory)

	jobs := jobregistry.New()
	jobs.Register(jobregistry.ShellClass, jobregistry.NewShellJob)

	repoURL := fmt.Sprintf("https://github.com/%s/%s.git", cfg.Repository.Owner, cfg.Repository.Name)
	exec := executor.New(adapter, resourceBudget, cfg.Repository.Owner, cfg.Repository.Name, repoURL, cfg.JobsRoot, jobs.AsConstructor(), log)

	var adminSrv *adminhttp.Server
	var metrics *adminhttp.Metrics
	if cfg.Metrics.Addr != "" {
		adminSrv = adminhttp.NewServer(cfg.Metrics.Addr, func() error { return nil })
		metrics = adminSrv.Metrics
		go func() {
			if err := adminSrv.Start(); err != nil {
				log.Error(err, "admin http server stopped")
			}
		}()
	}

	sched := scheduler.New(q, claimProto, resourceBudget, exec, cfg.NoTaskBackoff, cfg.ErrorBackoff, log, metrics)

	rebootFile := cfg.RebootFile
	if rebootFile == "" {
		rebootFile = defaultRebootFile
	}
	nextReboot, err := reboot.Schedule(rebootFile, nil)
	if err != nil {
		log.Error(err, "failed to schedule next reboot, continuing without one")
	} else {
		audit.Log(log, "event=reboot_scheduled at=%s", nextReboot.Format(time.RFC3339))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOnce := handleSignals(sched, cancel, rebootFile, log)
	defer shutdownOnce()

	runErr := sched.Run(ctx)

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "admin http server shutdown error")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("scheduler loop exited: %w", runErr)
	}
	return nil
}

// handleSignals wires the two-signal shutdown model of spec.md §5: SIGINT
// requests a finish (stop taking new tasks, let running ones complete);
// SIGTERM additionally aborts running workers by cancelling ctx; a second
// signal of either kind quits immediately. SIGALRM triggers the periodic
// self-reboot check and, when the scheduled time has passed, behaves like
// SIGTERM. Returns a cleanup func that stops listening for signals.
func handleSignals(sched *scheduler.Scheduler, abort context.CancelFunc, rebootFile string, log logr.Logger) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM)

	var shuttingDown atomic.Bool

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGALRM:
				due, err := reboot.Due(rebootFile, nil)
				if err != nil {
					log.Error(err, "reboot check failed")
					continue
				}
				if !due {
					continue
				}
				log.Info("scheduled reboot time reached, aborting")
				sched.Drain()
				abort()
			case syscall.SIGINT:
				if shuttingDown.Swap(true) {
					log.Info("second signal received, quitting immediately")
					os.Exit(1)
				}
				log.Info("finish requested: no new tasks will be claimed")
				sched.Drain()
			case syscall.SIGTERM:
				if shuttingDown.Swap(true) {
					log.Info("second signal received, quitting immediately")
					os.Exit(1)
				}
				log.Info("abort requested: draining and cancelling running tasks")
				sched.Drain()
				abort()
			}
		}
	}()

	return func() { signal.Stop(sigCh); close(sigCh) }
}

// loadWhitelist parses a YAML list of author logins. An empty path is not
// an error — it means every PR requires a manual re-run label (spec.md
// §4.1, §6).
func loadWhitelist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var authors []string
	if err := yaml.Unmarshal(data, &authors); err != nil {
		return nil, err
	}
	return authors, nil
}
