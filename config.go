// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"time"

	"github.com/bassosimone/runtimex"
)

// DefaultAcceptBackoff is the pause applied after an accept error
// that is neither ignorable nor terminal.
const DefaultAcceptBackoff = time.Second

// Config holds common configuration for vsock operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// AcceptBackoff is the pause used by [*AcceptRetryPolicy].
	//
	// Set by [NewConfig] to [DefaultAcceptBackoff].
	AcceptBackoff time.Duration

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to a [*VsockDialer] using this [*Config].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Reactor delivers readiness for every stream and listener.
	//
	// Set by [NewConfig] to the user-provided value.
	Reactor Reactor

	// Sleep pauses for the given duration or until ctx is done.
	//
	// Set by [NewConfig] to a [time.Timer] based implementation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Sockets creates the OS-level sockets.
	//
	// Set by [NewConfig] to [DefaultSocketLayer].
	Sockets SocketLayer

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
//
// The reactor argument is the [Reactor] shared by all the operations
// created from this config. It must not be nil.
func NewConfig(reactor Reactor) *Config {
	runtimex.Assert(reactor != nil)
	cfg := &Config{
		AcceptBackoff: DefaultAcceptBackoff,
		ErrClassifier: DefaultErrClassifier,
		Reactor:       reactor,
		Sleep:         sleepContext,
		Sockets:       DefaultSocketLayer(),
		TimeNow:       time.Now,
	}
	cfg.Dialer = NewDialer(cfg)
	return cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
