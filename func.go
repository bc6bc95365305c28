// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import "context"

// Func is a single pipeline stage turning an A into a B.
//
// Stages are chained with [Compose2] and its siblings.
//
// A stage that receives a closeable resource and fails must close that
// resource before returning, so a failing pipeline never leaks. See
// [*ConnectFunc] for a stage that creates the resource instead.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter turns a plain function into a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
