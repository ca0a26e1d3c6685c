// Package audit provides structured logging for the runner's audit trail:
// one line per lifecycle event (claim, execution outcome, scan failure),
// in the same key=value shape the events have always been logged in, now
// carried on the configured structured logger instead of the standard
// library's log package.
package audit

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Log writes an audit event at Info level. format should use key=value
// pairs for structured grepping, e.g. "event=task_claimed pr=%d context=%s".
func Log(log logr.Logger, format string, args ...interface{}) {
	log.Info(fmt.Sprintf(format, args...))
}
