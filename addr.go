// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Well-known context identifiers.
const (
	// CIDHypervisor is the context id reserved for the hypervisor.
	CIDHypervisor uint32 = 0

	// CIDLocal is the context id for local (loopback) communication.
	//
	// Only Linux kernels with the vsock_loopback transport support it.
	CIDLocal uint32 = 1

	// CIDHost is the context id of the host system.
	CIDHost uint32 = 2

	// CIDAny is the wildcard context id used when binding.
	CIDAny uint32 = 0xFFFFFFFF
)

// PortAny is the wildcard port used when binding.
const PortAny uint32 = 0xFFFFFFFF

// Network is the network name returned by [Addr.Network].
const Network = "vsock"

// URIScheme is the scheme used by [FormatURI] and [ParseURI].
const URIScheme = "vsock"

// ErrInvalidInput indicates a malformed destination. Errors returned by
// [ParseAddr], [ParseURI], and [*VsockDialer] wrap it.
var ErrInvalidInput = errors.New("vsock: invalid input")

// Addr is a vsock endpoint address.
//
// The zero value addresses port 0 of the hypervisor. Addr values are
// comparable and equality is structural.
type Addr struct {
	// ContextID identifies the virtual machine or the host.
	ContextID uint32

	// Port identifies the service within the context.
	Port uint32
}

var _ net.Addr = Addr{}

// Network implements [net.Addr].
func (a Addr) Network() string {
	return Network
}

// String implements [net.Addr].
//
// The format is "<cid>:<port>" using decimal integers, which
// [ParseAddr] accepts back.
func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.ContextID, a.Port)
}

// ParseAddr parses an address in the "<cid>:<port>" format.
//
// The returned error wraps [ErrInvalidInput] on failure.
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q: %s", ErrInvalidInput, s, err.Error())
	}
	return parseHostPort(s, host, port)
}

func parseHostPort(orig, host, port string) (Addr, error) {
	cid, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q: context id must be a 32-bit unsigned integer", ErrInvalidInput, orig)
	}
	pnum, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q: port must be a 32-bit unsigned integer", ErrInvalidInput, orig)
	}
	return Addr{ContextID: uint32(cid), Port: uint32(pnum)}, nil
}

// FormatURI returns a "vsock://<cid>:<port><path>" URI.
//
// A path not starting with "/" gets one prepended.
func FormatURI(addr Addr, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", URIScheme, addr.String(), path)
}

// ParseURI parses a "vsock://<cid>:<port>[/path]" URI and returns the
// address and the path (with query, if any).
//
// The returned error wraps [ErrInvalidInput] when the scheme is not
// [URIScheme] or when the host or port is missing or malformed.
func ParseURI(s string) (Addr, string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Addr{}, "", fmt.Errorf("%w: %q: %s", ErrInvalidInput, s, err.Error())
	}
	return addrFromURL(u)
}

func addrFromURL(u *url.URL) (Addr, string, error) {
	if u.Scheme != URIScheme {
		return Addr{}, "", fmt.Errorf("%w: %q: scheme must be %q", ErrInvalidInput, u.String(), URIScheme)
	}
	if u.Port() == "" {
		return Addr{}, "", fmt.Errorf("%w: %q: missing port", ErrInvalidInput, u.String())
	}
	addr, err := parseHostPort(u.String(), u.Hostname(), u.Port())
	if err != nil {
		return Addr{}, "", err
	}
	return addr, u.RequestURI(), nil
}
