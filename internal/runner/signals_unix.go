//go:build !windows

package runner

import (
	"os"
	"syscall"
)

// DefaultStopSignals is the termination request set handled by Run.
func DefaultStopSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM}
}
