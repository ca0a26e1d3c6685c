package audit

import (
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
)

func TestLog_FormatsKeyValuePairs(t *testing.T) {
	var captured string
	log := funcr.New(func(prefix, args string) {
		captured = args
	}, funcr.Options{})

	Log(log, "event=task_claimed pr=%d context=%s", 42, "fedora/build")

	require.NotEmpty(t, captured)
}
