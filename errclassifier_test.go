// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, errclass.ETIMEDOUT},
		{"unknown", errors.New("mocked error"), errclass.EGENERIC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultErrClassifier.Classify(tc.err))
		})
	}
}

// A custom classifier replaces the errClass field of emitted events.
func TestErrClassifierFuncInConfig(t *testing.T) {
	cfg := NewConfig(newManualReactor())
	cfg.ErrClassifier = ErrClassifierFunc(func(err error) string {
		if errors.Is(err, ErrInvalidInput) {
			return "EINVALIDINPUT"
		}
		return ""
	})

	logger, records := newCapturingLogger()
	conn := newMinimalConn()
	conn.CloseFunc = func() error { return fmt.Errorf("close: %w", ErrInvalidInput) }
	observed, err := NewObserveConnFunc(cfg, logger).Call(context.Background(), conn)
	assert.NoError(t, err)
	assert.Error(t, observed.Close())

	assert.Equal(t, "EINVALIDINPUT", recordAttrs((*records)[1])["errClass"].String())
}
