package unit

import (
	"time"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Option configures a unit runtime.
type Option func(*Unit)

// WithLogger sets the structured logger. Defaults to slog on stderr.
func WithLogger(logger types.Logger) Option {
	return func(u *Unit) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithRequestTimeout sets the default deadline for correlated requests.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(u *Unit) {
		if timeout > 0 {
			u.requestTimeout = timeout
		}
	}
}

// WithStoreTimeout sets the deadline for shared-store round trips.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(u *Unit) {
		if timeout > 0 {
			u.storeTimeout = timeout
		}
	}
}

// WithoutPeerGuard disables the parent liveness guard in process units.
func WithoutPeerGuard() Option {
	return func(u *Unit) {
		u.noPeerGuard = true
	}
}

func newDefaultLogger() types.Logger {
	return logging.NewSlogDefault()
}
