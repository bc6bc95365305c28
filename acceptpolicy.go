// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// AcceptAction is the decision taken after a failed accept.
type AcceptAction int

const (
	// AcceptIgnore retries immediately without surfacing the error.
	AcceptIgnore AcceptAction = iota

	// AcceptBackoff pauses before retrying.
	AcceptBackoff

	// AcceptStop ends accepting and surfaces the error.
	AcceptStop
)

// String implements [fmt.Stringer].
func (a AcceptAction) String() string {
	switch a {
	case AcceptIgnore:
		return "ignore"
	case AcceptBackoff:
		return "backoff"
	default:
		return "stop"
	}
}

// IsTransientAcceptError reports whether err only concerns the connection
// being accepted, so accepting again can proceed immediately.
//
// Hosting loops that call [*Listener.AcceptStream] directly use this to
// decide whether to keep going.
func IsTransientAcceptError(err error) bool {
	return errors.Is(err, errECONNREFUSED) ||
		errors.Is(err, errECONNABORTED) ||
		errors.Is(err, errECONNRESET)
}

// isListenerUnusable reports whether err means the listening descriptor
// itself can no longer accept.
func isListenerUnusable(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, errEBADF) ||
		errors.Is(err, errENOTSOCK) ||
		errors.Is(err, errEINVAL) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// NewAcceptRetryPolicy returns a new [*AcceptRetryPolicy] using the given config.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewAcceptRetryPolicy(cfg *Config, logger SLogger) *AcceptRetryPolicy {
	return &AcceptRetryPolicy{
		Backoff:       cfg.AcceptBackoff,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Sleep:         cfg.Sleep,
	}
}

// AcceptRetryPolicy decides what to do after a failed accept.
//
// All fields are safe to modify after construction but before first use.
type AcceptRetryPolicy struct {
	// Backoff is the pause applied for [AcceptBackoff] errors.
	//
	// Set by [NewAcceptRetryPolicy] from [Config.AcceptBackoff].
	Backoff time.Duration

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewAcceptRetryPolicy] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewAcceptRetryPolicy] to the user-provided logger.
	Logger SLogger

	// Sleep pauses for the given duration or until ctx is done.
	//
	// Set by [NewAcceptRetryPolicy] from [Config.Sleep].
	Sleep func(ctx context.Context, d time.Duration) error
}

// Classify maps an accept error to an [AcceptAction].
func (p *AcceptRetryPolicy) Classify(err error) AcceptAction {
	switch {
	case IsTransientAcceptError(err):
		return AcceptIgnore
	case isListenerUnusable(err):
		return AcceptStop
	default:
		return AcceptBackoff
	}
}

// Handle applies the policy to err and returns nil when accepting should
// continue or the error to surface otherwise.
//
// For [AcceptBackoff] errors, Handle sleeps for [AcceptRetryPolicy.Backoff]
// and returns the context error when ctx is done while sleeping.
func (p *AcceptRetryPolicy) Handle(ctx context.Context, address string, err error) error {
	action := p.Classify(err)
	switch action {
	case AcceptIgnore:
		p.log("acceptRetry", address, action, err)
		return nil

	case AcceptBackoff:
		p.log("acceptBackoff", address, action, err)
		return p.Sleep(ctx, p.Backoff)

	default:
		p.log("acceptStop", address, action, err)
		return err
	}
}

func (p *AcceptRetryPolicy) log(msg, address string, action AcceptAction, err error) {
	p.Logger.Info(
		msg,
		slog.String("action", action.String()),
		slog.Duration("backoff", p.Backoff),
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("localAddr", address),
		slog.String("protocol", Network),
	)
}
