// Package config loads and validates the runner's startup configuration.
package config

import "time"

// RunnerConfig is the root configuration structure (spec.md §6, ambient
// keys carried per SPEC_FULL.md §6).
type RunnerConfig struct {
	Credentials Credentials `yaml:"credentials" validate:"required"`
	Repository  Repository  `yaml:"repository" validate:"required"`

	// TasksFile is the path, inside the target repository, of the
	// task-definition document.
	TasksFile string `yaml:"tasks_file" validate:"required"`

	// WhitelistFile lists author logins permitted to have tasks
	// auto-materialized; without it every PR requires a manual `re-run`
	// label (spec.md §4.1).
	WhitelistFile string `yaml:"whitelist_file,omitempty"`

	// NoTaskBackoff is the sleep duration when a scan finds no claimable
	// task.
	NoTaskBackoff time.Duration `yaml:"no_task_backoff_time" validate:"required,gt=0"`

	// ErrorBackoff is the sleep duration after a persistent transient
	// platform failure aborts a scan (spec.md §7, ≈600s).
	ErrorBackoff time.Duration `yaml:"error_backoff_time" validate:"required,gt=0"`

	Logging Logging `yaml:"logging" validate:"required"`

	// Redis is optional: an empty Addr falls back to an in-process cache.
	Redis Redis `yaml:"redis,omitempty"`

	// Metrics is optional: an empty Addr disables the admin HTTP surface.
	Metrics Metrics `yaml:"metrics,omitempty"`

	// JobsRoot is the filesystem root under which per-task working
	// directories are created.
	JobsRoot string `yaml:"jobs_root" validate:"required"`

	// RebootFile is the path to the persisted next-reboot epoch file.
	RebootFile string `yaml:"reboot_file"`

	// Budget bounds local resource admission (internal/budget).
	Budget Budget `yaml:"budget" validate:"required"`
}

// Credentials holds the bearer token used against the code-review platform.
type Credentials struct {
	Token string `yaml:"token" validate:"required"`
}

// Repository identifies the target repository.
type Repository struct {
	Owner string `yaml:"owner" validate:"required"`
	Name  string `yaml:"name" validate:"required"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// Redis configures the Platform Adapter's response cache.
type Redis struct {
	Addr string `yaml:"addr,omitempty"`
	DB   int    `yaml:"db,omitempty"`
}

// Metrics configures the admin HTTP surface.
type Metrics struct {
	Addr string `yaml:"addr,omitempty"`
}

// Budget configures the Resource Budget's local capacity.
type Budget struct {
	CPU    float64 `yaml:"cpu" validate:"required,gt=0"`
	Memory float64 `yaml:"memory" validate:"required,gt=0"` // MiB
}
