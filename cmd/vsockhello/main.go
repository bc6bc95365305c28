// SPDX-License-Identifier: GPL-3.0-or-later

// Command vsockhello is a smoke test for vsock connectivity.
//
// On the host, serve "Hello World!" on port 8000:
//
//	vsockhello -listen 8000
//
// In the guest, fetch it (CID 2 is the host):
//
//	vsockhello -get vsock://2:8000/
//
// The server speaks HTTP/1.1 and cleartext HTTP/2. Use -protocol h2c to
// make the client use the latter. Settings may also come from a TOML file
// passed with -config, with explicit flags taking precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/vsock"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes vsockhello and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	s, err := parseSettings(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	logger := newLogger(stderr, s)

	reactor, err := vsock.NewReactor()
	if err != nil {
		logger.Error("cannot create reactor", slog.Any("err", err))
		return 1
	}
	defer reactor.Close()
	cfg := vsock.NewConfig(reactor)
	cfg.AcceptBackoff = s.AcceptBackoff

	if s.Listen != 0 {
		err = serve(ctx, cfg, logger, s.Listen)
	} else {
		err = get(ctx, cfg, logger, s, stdout)
	}
	if err != nil {
		logger.Error("vsockhello failed", slog.Any("err", err))
		return 1
	}
	return 0
}

// helloHandler answers every request with "Hello World!".
func helloHandler(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := "unknown"
		if info, ok := vsock.ConnectInfoFromContext(r.Context()); ok {
			if addr, ok := info.PeerAddr(); ok {
				peer = addr.String()
			}
		}
		logger.Info("httpRequest",
			slog.String("httpMethod", r.Method),
			slog.String("httpProto", r.Proto),
			slog.String("httpUrl", r.URL.String()),
			slog.String("remoteAddr", peer),
		)
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "Hello World!")
	})
}

// serve answers HTTP requests on (CIDAny, port) until ctx is done.
func serve(ctx context.Context, cfg *vsock.Config, logger *slog.Logger, port uint32) error {
	listener, err := vsock.Listen(cfg, vsock.Addr{ContextID: vsock.CIDAny, Port: port}, logger)
	if err != nil {
		return err
	}
	logger.Info("listening", slog.String("localAddr", listener.Addr().String()))

	srv := &http.Server{
		Handler:     h2c.NewHandler(helloHandler(logger), &http2.Server{}),
		ConnContext: vsock.WithConnectInfo,
		ErrorLog:    slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	err = srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// get fetches s.Get and copies the response body to stdout.
func get(ctx context.Context, cfg *vsock.Config, logger *slog.Logger, s settings, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	addr, _, err := vsock.ParseURI(s.Get)
	if err != nil {
		return err
	}
	logger = logger.With("spanID", vsock.NewSpanID())

	httpOp := vsock.NewHTTPConnFunc(cfg, logger)
	httpOp.Protocol = s.Protocol
	pipeline := vsock.Compose5(
		vsock.NewEndpointFunc(addr),
		vsock.NewConnectFunc(cfg, logger),
		vsock.NewObserveConnFunc(cfg, logger),
		vsock.NewCancelWatchFunc(),
		httpOp,
	)
	httpConn, err := pipeline.Call(ctx, vsock.Unit{})
	if err != nil {
		return err
	}
	defer httpConn.Close()

	req, err := http.NewRequestWithContext(ctx, "GET", s.Get, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := httpConn.RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vsockhello: unexpected status %s", resp.Status)
	}
	_, err = io.Copy(stdout, resp.Body)
	return err
}
