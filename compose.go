//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxcore.go
//

package vsock

import "context"

// Compose2 returns a [Func] feeding the result of first into second.
//
// When first fails, second is not called.
func Compose2[A, B, C any](first Func[A, B], second Func[B, C]) Func[A, C] {
	return FuncAdapter[A, C](func(ctx context.Context, input A) (C, error) {
		mid, err := first.Call(ctx, input)
		if err != nil {
			var zero C
			return zero, err
		}
		return second.Call(ctx, mid)
	})
}

// Compose3 is [Compose2] with three stages.
func Compose3[A, B, C, D any](f1 Func[A, B], f2 Func[B, C], f3 Func[C, D]) Func[A, D] {
	return Compose2(Compose2(f1, f2), f3)
}

// Compose4 is [Compose2] with four stages.
func Compose4[A, B, C, D, E any](f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E]) Func[A, E] {
	return Compose2(Compose3(f1, f2, f3), f4)
}

// Compose5 is [Compose2] with five stages.
func Compose5[A, B, C, D, E, F any](
	f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E], f5 Func[E, F]) Func[A, F] {
	return Compose2(Compose4(f1, f2, f3, f4), f5)
}

// Compose6 is [Compose2] with six stages.
func Compose6[A, B, C, D, E, F, G any](
	f1 Func[A, B], f2 Func[B, C], f3 Func[C, D], f4 Func[D, E], f5 Func[E, F], f6 Func[F, G]) Func[A, G] {
	return Compose2(Compose5(f1, f2, f3, f4, f5), f6)
}

// Apply fixes the input of fn, so that a pipeline starting from an [Addr]
// can run where a [Func] taking [Unit] is expected.
func Apply[A, B any](fn Func[A, B], input A) Func[Unit, B] {
	return FuncAdapter[Unit, B](func(ctx context.Context, _ Unit) (B, error) {
		return fn.Call(ctx, input)
	})
}

// ConstFunc returns a [Func] that ignores its input and returns value.
func ConstFunc[B any](value B) Func[Unit, B] {
	return FuncAdapter[Unit, B](func(ctx context.Context, _ Unit) (B, error) {
		return value, nil
	})
}
