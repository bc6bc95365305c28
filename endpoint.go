// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

// NewEndpointFunc returns a [Func] that always returns the given [Addr].
//
// Use it as the first stage of a pipeline dialing a fixed vsock endpoint,
// for example the host at [CIDHost].
func NewEndpointFunc(endpoint Addr) Func[Unit, Addr] {
	return ConstFunc(endpoint)
}
