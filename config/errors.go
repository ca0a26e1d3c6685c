package config

import "errors"

// Sentinel errors for runner configuration validation.
var (
	// ErrConfigEmpty is returned when the config data is empty (zero bytes)
	// or nil.
	ErrConfigEmpty = errors.New("runner configuration is empty")

	// ErrTokenEmpty is returned when credentials.token is empty.
	ErrTokenEmpty = errors.New("credentials.token is required")

	// ErrRepositoryEmpty is returned when repository.owner or .name is
	// empty.
	ErrRepositoryEmpty = errors.New("repository.owner and repository.name are required")

	// ErrTasksFileEmpty is returned when tasks_file is empty.
	ErrTasksFileEmpty = errors.New("tasks_file is required")

	// ErrBackoffNonPositive is returned when a backoff duration is zero or
	// negative.
	ErrBackoffNonPositive = errors.New("backoff duration must be positive")

	// ErrJobsRootEmpty is returned when jobs_root is empty.
	ErrJobsRootEmpty = errors.New("jobs_root is required")

	// ErrBudgetNonPositive is returned when budget.cpu or budget.memory is
	// zero or negative.
	ErrBudgetNonPositive = errors.New("budget.cpu and budget.memory must be positive")

	// ErrLoggingLevelInvalid is returned when logging.level is not one of
	// the recognized levels.
	ErrLoggingLevelInvalid = errors.New("logging.level must be one of debug, info, warn, error")

	// ErrLoggingFormatInvalid is returned when logging.format is not
	// json or console.
	ErrLoggingFormatInvalid = errors.New("logging.format must be json or console")
)
