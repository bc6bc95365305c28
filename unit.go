// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

// Unit is the type with a single, empty value.
//
// Use it as the input of a [Func] that takes no argument.
type Unit struct{}
