// Custom logging utility used internally all over Shipper.

package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Output of Logger based on what environment Shipper is being run on.
var output io.Writer

func init() {
	// setting configurations for logger
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("ENV") == "DEV" {
		// Set output of Logger to prettified ConsoleOutput for local environment
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	} else {
		// ConsoleWriter prettifies log, inefficient in prod
		output = os.Stdout
	}
	// Per-frame delivery logs are Debug, LOG_LEVEL=debug turns them on
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}
}

// Context keys read by WithCtx, set by the gin middlewares of Shipper.
const (
	RequestIDKey     = "ReqID"
	CorrelationIDKey = "correlation_id"
)

// Logger acts as a wrapper for zerolog with custom features.
type Logger interface {
	// WithCtx returns a sub-logger based of root logger with added context.
	WithCtx(context.Context) Logger
	// Component returns a sub-logger tagged with the name of a Shipper component.
	Component(name string) Logger
	// Info level log starts a log message with INFO level.
	Info() *zerolog.Event
	// Debug level log starts a log message with DEBUG level.
	Debug() *zerolog.Event
	// Warn level log starts a log message with WARNING level.
	Warn() *zerolog.Event
	// Error level log starts a log message with ERROR level.
	Error() *zerolog.Event
	// Fatal level log starts a log message with FATAL level.
	Fatal() *zerolog.Event
}

type logger struct {
	zerolog.Logger
}

// Creates a new logger instance for other packages to use the internal zerolog.
func New(version string) Logger {
	return NewWithOutput(version, output)
}

// NewWithOutput is New with an explicit sink, used by tests to silence or capture logs.
func NewWithOutput(version string, w io.Writer) Logger {
	return &logger{zerolog.New(w).With().Str("Version", version).Timestamp().Caller().Stack().Logger()}
}

// Nop returns a Logger which discards everything.
func Nop() Logger {
	return &logger{zerolog.Nop()}
}

// Returns a sub-logger by adding the requestID and correlationID of ctx to it.
// Helps in following a published event from the API call down to delivery.
func (l *logger) WithCtx(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	requestID, _ := ctx.Value(RequestIDKey).(string)
	correlationID, _ := ctx.Value(CorrelationIDKey).(string)
	if requestID == "" && correlationID == "" {
		return l
	}
	sub := l.With()
	if requestID != "" {
		sub = sub.Str(RequestIDKey, requestID)
	}
	if correlationID != "" {
		sub = sub.Str("CorrelationID", correlationID)
	}
	return &logger{sub.Logger()}
}

func (l *logger) Component(name string) Logger {
	return &logger{l.With().Str("component", name).Logger()}
}
