//go:build windows

package runner

import "os"

// DefaultStopSignals is empty on windows: termination requests are not
// delivered as signals there, so only context cancellation stops a run.
func DefaultStopSignals() []os.Signal {
	return nil
}
