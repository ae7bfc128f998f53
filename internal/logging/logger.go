// Package logging builds the process's structured logger and wires it
// into the gateway package's ErrorSink and DebugSink seams.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format for New.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New builds a structured logger. JSON output is Loki-compatible; console
// output is for local development.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "fixgw").
		Logger()
}

// GatewaySink implements gateway.ErrorSink and gateway.DebugSink over a
// zerolog.Logger. Every call is synchronous, matching the contract those
// interfaces document.
type GatewaySink struct {
	log zerolog.Logger
}

// NewGatewaySink wraps logger for use as a gateway endpoint's error/debug
// sink.
func NewGatewaySink(logger zerolog.Logger) *GatewaySink {
	return &GatewaySink{log: logger}
}

func (s *GatewaySink) OnIOError(connectionID uint64, err error) {
	s.log.Debug().Uint64("connection_id", connectionID).Err(err).Msg("socket write failed")
}

func (s *GatewaySink) OnInvariantViolation(connectionID uint64, msg string) {
	s.log.Error().Uint64("connection_id", connectionID).Msg("invariant violation: " + msg)
}

func (s *GatewaySink) OnConfigError(connectionID uint64, msg string) {
	s.log.Warn().Uint64("connection_id", connectionID).Msg("config error: " + msg)
}

func (s *GatewaySink) OnBackPressure(connectionID uint64, replay bool, written, bodyLen int) {
	s.log.Debug().
		Uint64("connection_id", connectionID).
		Bool("replay", replay).
		Int("written", written).
		Int("body_len", bodyLen).
		Msg("partial write, buffering remainder")
}

func (s *GatewaySink) OnValidResendRequest(connectionID uint64, correlationID int64) {
	s.log.Debug().
		Uint64("connection_id", connectionID).
		Int64("correlation_id", correlationID).
		Msg("valid resend request")
}
