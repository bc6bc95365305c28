// SPDX-License-Identifier: GPL-3.0-or-later

// Package vsock implements asynchronous AF_VSOCK stream sockets for
// communication between virtual machines and their hypervisor.
//
// # Addressing
//
// An endpoint is an [Addr] made of a 32-bit context id (CID) and a 32-bit
// port. Well-known CIDs are [CIDHypervisor], [CIDLocal], [CIDHost], and
// the wildcard [CIDAny]. The textual form is "<cid>:<port>" (see
// [ParseAddr]) and the URI form is "vsock://<cid>:<port>/path" (see
// [ParseURI] and [FormatURI]).
//
// # Readiness
//
// Every socket is non-blocking and registered with a [Reactor] (on Linux,
// the edge-triggered epoll reactor returned by [NewReactor]). A [Readiness]
// records which directions are ready and parks the goroutines waiting
// for them. The poll methods ([*Stream.PollRead], [*Stream.PollWritev],
// [*Listener.PollAccept], [*Connecting.Poll]) never block: they return
// [iox.ErrWouldBlock] when the operation cannot progress yet. The direct
// methods ([*Stream.ReadDirect], [*Stream.WriteDirect]) bypass readiness
// and surface EAGAIN as is.
//
// # Streams
//
// A [*Stream] is a connected socket implementing [net.Conn]. Read and Write
// park on readiness and honor the deadlines set via SetDeadline and friends.
// A stream can be split into borrowed halves ([*Stream.Split]) or into
// owned halves ([*Stream.SplitOwned]) that can travel to distinct goroutines
// and later be reunited with [*OwnedReadHalf.Unsplit].
//
// # Listening
//
// [Listen] returns a [*Listener]. [*Listener.Incoming] yields accepted
// streams and routes accept failures through an [*AcceptRetryPolicy]:
// transient errors are skipped, resource exhaustion backs off, and errors
// meaning the listener is unusable end the sequence. [*Listener.IncomingPeers]
// also yields the peer [Addr] of each stream. A [*Listener] also
// implements [net.Listener], so [net/http.Server] can serve over vsock,
// with [WithConnectInfo] exposing the peer [Addr] to handlers.
//
// # Pipelines
//
// Client-side operations are [Func] stages chained with [Compose2] and its
// siblings, for example:
//
//	pipeline := vsock.Compose5(
//		vsock.NewEndpointFunc(vsock.Addr{ContextID: vsock.CIDHost, Port: 8000}),
//		vsock.NewConnectFunc(cfg, logger),
//		vsock.NewObserveConnFunc(cfg, logger),
//		vsock.NewCancelWatchFunc(),
//		vsock.NewHTTPConnFunc(cfg, logger),
//	)
//
// A stage that creates a resource hands its ownership to the next stage.
// Wrapper types ([*HTTPConn], [*DNSOverVsockConn], [*DNSOverHTTPConn]) own
// their connection and the caller must Close them.
//
// # Observability
//
// Operations log through an [SLogger], which [*slog.Logger] satisfies.
// Logging is disabled by default. Lifecycle events come in *Start/*Done
// pairs at [slog.LevelInfo], while per-I/O events use [slog.LevelDebug].
// Events share the localAddr, remoteAddr, protocol, and t fields, and
// *Done events add t0, err, and errClass. Use [NewSpanID] with
// [*slog.Logger.With] to correlate the events of one operation.
//
// The package never modifies the context it receives: the caller owns
// timeouts and cancellation. Include [CancelWatchFunc] in a pipeline
// to interrupt pending I/O as soon as the context is done.
package vsock
