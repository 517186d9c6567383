package runner

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mobysignal "github.com/moby/sys/signal"
)

var ErrInvalidStopSignal = errors.New("runner: invalid stop signal")

// ParseStopSignals converts names like "SIGTERM", "TERM" or "15" into signals.
// A nil list yields nil, which selects DefaultStopSignals; an empty non-nil
// list disables stop signals.
func ParseStopSignals(names []string) ([]os.Signal, error) {
	if names == nil {
		return nil, nil
	}
	out := make([]os.Signal, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidStopSignal)
		}
		sig, err := mobysignal.ParseSignal(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidStopSignal, name, err)
		}
		out = append(out, sig)
	}
	return out, nil
}
