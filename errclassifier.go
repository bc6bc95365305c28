// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import "github.com/bassosimone/errclass"

// ErrClassifier maps an error to a short label such as "ECONNRESET",
// logged as errClass next to err. A nil error maps to "".
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc turns a function into an [ErrClassifier].
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier is the [ErrClassifier] set by [NewConfig].
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
