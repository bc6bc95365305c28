// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bassosimone/vsock"
)

// settings controls a single vsockhello run.
type settings struct {
	// AcceptBackoff is the pause after a non-transient accept failure.
	AcceptBackoff time.Duration

	// Get is the vsock URI to fetch in client mode.
	Get string

	// Listen is the port to serve on in server mode.
	Listen uint32

	// LogFormat is "text" or "json".
	LogFormat string

	// LogLevel is a [slog.Level] name such as "info" or "debug".
	LogLevel string

	// Protocol is the HTTP version used by the client.
	Protocol vsock.HTTPProtocol

	// Timeout bounds the whole client run.
	Timeout time.Duration
}

func defaultSettings() settings {
	return settings{
		AcceptBackoff: vsock.DefaultAcceptBackoff,
		LogFormat:     "text",
		LogLevel:      "info",
		Protocol:      vsock.HTTPProtocolHTTP1,
		Timeout:       30 * time.Second,
	}
}

var (
	errNoMode   = errors.New("vsockhello: one of -listen or -get is required")
	errTwoModes = errors.New("vsockhello: -listen and -get are mutually exclusive")
)

// validate checks that exactly one mode is selected and that the values
// are well formed.
func (s settings) validate() error {
	switch {
	case s.Listen == 0 && s.Get == "":
		return errNoMode
	case s.Listen != 0 && s.Get != "":
		return errTwoModes
	}
	if s.Get != "" {
		if _, _, err := vsock.ParseURI(s.Get); err != nil {
			return err
		}
	}
	switch s.Protocol {
	case vsock.HTTPProtocolHTTP1, vsock.HTTPProtocolH2C:
	default:
		return fmt.Errorf("vsockhello: unknown protocol %q", s.Protocol)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("vsockhello: unknown log format %q", s.LogFormat)
	}
	var level slog.Level
	return level.UnmarshalText([]byte(s.LogLevel))
}

type fileConfig struct {
	AcceptBackoff string `toml:"accept_backoff"`
	Get           string `toml:"get"`
	Listen        uint32 `toml:"listen"`
	LogFormat     string `toml:"log_format"`
	LogLevel      string `toml:"log_level"`
	Protocol      string `toml:"protocol"`
	Timeout       string `toml:"timeout"`
}

// loadFile overrides s with the keys defined in the TOML file at path.
func loadFile(path string, s *settings) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("accept_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.AcceptBackoff))
		if err != nil {
			return fmt.Errorf("parse accept_backoff: %w", err)
		}
		s.AcceptBackoff = d
	}
	if meta.IsDefined("get") {
		s.Get = strings.TrimSpace(raw.Get)
	}
	if meta.IsDefined("listen") {
		s.Listen = raw.Listen
	}
	if meta.IsDefined("log_format") {
		s.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("log_level") {
		s.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("protocol") {
		s.Protocol = vsock.HTTPProtocol(strings.TrimSpace(raw.Protocol))
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		s.Timeout = d
	}
	return nil
}

// parseSettings parses the command line. Values from -config are applied
// first and explicit flags override them.
func parseSettings(args []string, stderr io.Writer) (settings, error) {
	s := defaultSettings()
	fs := flag.NewFlagSet("vsockhello", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath string
		listen     uint64
		protocol   string
		flagged    settings
	)
	fs.StringVar(&configPath, "config", "", "load settings from the given TOML `file`")
	fs.StringVar(&flagged.Get, "get", "", "fetch the given vsock://cid:port/path `URI`")
	fs.Uint64Var(&listen, "listen", 0, "serve Hello World! on the given vsock `port`")
	fs.StringVar(&protocol, "protocol", string(s.Protocol), "client HTTP protocol: http/1.1 or h2c")
	fs.StringVar(&flagged.LogFormat, "log-format", s.LogFormat, "log format: text or json")
	fs.StringVar(&flagged.LogLevel, "log-level", s.LogLevel, "minimum log level")
	fs.DurationVar(&flagged.Timeout, "timeout", s.Timeout, "client timeout")
	fs.DurationVar(&flagged.AcceptBackoff, "accept-backoff", s.AcceptBackoff, "pause after accept failures")
	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}
	if fs.NArg() > 0 {
		return settings{}, fmt.Errorf("vsockhello: unexpected argument %q", fs.Arg(0))
	}
	if listen > math.MaxUint32 {
		return settings{}, fmt.Errorf("vsockhello: port %d out of range", listen)
	}

	if configPath != "" {
		if err := loadFile(configPath, &s); err != nil {
			return settings{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "get":
			s.Get = flagged.Get
		case "listen":
			s.Listen = uint32(listen)
		case "protocol":
			s.Protocol = vsock.HTTPProtocol(protocol)
		case "log-format":
			s.LogFormat = flagged.LogFormat
		case "log-level":
			s.LogLevel = flagged.LogLevel
		case "timeout":
			s.Timeout = flagged.Timeout
		case "accept-backoff":
			s.AcceptBackoff = flagged.AcceptBackoff
		}
	})
	return s, s.validate()
}

// newLogger returns the logger selected by s writing to w.
func newLogger(w io.Writer, s settings) *slog.Logger {
	var level slog.Level
	level.UnmarshalText([]byte(s.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
