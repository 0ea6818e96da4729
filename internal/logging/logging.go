// Package logging centralizes the stdlib log.Logger-with-prefix
// convention used by this repo's ambient components (config, adminapi):
// one prefixed logger per subsystem,
// UTC timestamps, no structured logging framework.
package logging

import (
	"log"
	"os"
)

// New returns a logger for subsystem, writing to stdout with a
// "[SUBSYSTEM] " prefix and UTC date/time, matching the pattern the rest
// of this codebase's config and adminapi packages already use.
func New(subsystem string) *log.Logger {
	return log.New(os.Stdout, "["+subsystem+"] ", log.Ldate|log.Ltime|log.LUTC)
}
