// Package common provides the logging infrastructure and the error
// taxonomy shared by every service in the collaboration backend.
//
// Logging is built on logrus. Error-level output is routed to stderr and
// everything else to stdout, so containerised deployments can treat the
// two streams differently. The global Logger instance carries the default
// configuration; services derive tagged loggers from it via ServiceLogger.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level marker. Matching is plain byte search on the "level=error"
// token logrus emits, which holds for both text and JSON formatters.
type OutputSplitter struct{}

// Write implements io.Writer, sending error-level lines to stderr and all
// other lines to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance. It is pre-wired with the
// OutputSplitter; services adjust level and format through NewLogger or
// directly at startup.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
