//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package vsock

// SLogger is the subset of [*slog.Logger] used by this package.
//
// Events use two levels:
//   - Info for lifecycle events such as connect, accept retries, close,
//     HTTP round trips, and DNS exchanges
//   - Debug for per-I/O events such as read, write, and deadline changes
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// DefaultSLogger returns an [SLogger] discarding every event.
//
// Pass a [*slog.Logger] to see the events.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

type discardSLogger struct{}

func (discardSLogger) Debug(msg string, args ...any) {}

func (discardSLogger) Info(msg string, args ...any) {}
