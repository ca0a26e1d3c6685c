// Package logging constructs the runner's structured logger from
// config.Logging: a concrete zap.Logger sink exposed everywhere else in
// the codebase as the vendor-neutral logr.Logger interface, the same
// zap-under-logr wiring used for production services in the retrieved
// corpus.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ciqueue/runner/config"
)

// New builds a logr.Logger from the runner's logging configuration.
// level must be one of {debug, info, warn, error}; format must be one of
// {json, console} — both already enforced by config.Validator's struct
// tags, so errors here indicate a config value that bypassed validation.
func New(cfg config.Logging) (logr.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("%w: parsing logging.level %q: %v", config.ErrLoggingLevelInvalid, cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building zap logger: %w", err)
	}

	return zapr.NewLogger(zapLog), nil
}
