// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// A span groups the log events of one logical operation, such as dialing
// a vsock endpoint and performing one HTTP round trip over it. Attach the
// ID to a logger using [*slog.Logger.With] to correlate the events.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
