package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/config"
)

func TestNew_ValidConfig(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New(config.Logging{Level: "info", Format: format})
		require.NoError(t, err, "format %s", format)
		log.Info("hello")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.Logging{Level: "not-a-level", Format: "json"})
	require.ErrorIs(t, err, config.ErrLoggingLevelInvalid)
}
