package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the process-wide structured logger.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger. Development mode pretty-prints to the console.
func Init(service string, development bool, level string, extra ...io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if development {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}

	Logger = zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	zlog.Logger = Logger
}

// SetOutput swaps the sink; tests use it to capture entries.
func SetOutput(w io.Writer) {
	Logger = Logger.Output(w)
	zlog.Logger = Logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithContext returns a logger carrying the trace and span ids of ctx, if any.
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Logger.With().Logger()
	if ctx == nil {
		return &l
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		l = l.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}
	return &l
}

func write(level zerolog.Level, kind string, c *fiber.Ctx, action string, err error, fields map[string]any) {
	var e *zerolog.Event
	if c != nil {
		e = WithContext(c.UserContext()).WithLevel(level)
		e = e.Str("ip", c.IP()).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode())
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			e = e.Str("req_id", rid)
		}
	} else {
		e = Logger.WithLevel(level)
	}
	if kind != "" {
		e = e.Str("kind", kind)
	}
	if err != nil {
		e = e.Err(err)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Str("action", action).Send()
}

func Info(c *fiber.Ctx, action string, fields map[string]any) {
	write(zerolog.InfoLevel, "", c, action, nil, fields)
}

// Audit records a state-changing user action.
func Audit(c *fiber.Ctx, action string, fields map[string]any) {
	write(zerolog.InfoLevel, "audit", c, action, nil, fields)
}

func Security(c *fiber.Ctx, action string, fields map[string]any) {
	write(zerolog.WarnLevel, "security", c, action, nil, fields)
}

func Error(c *fiber.Ctx, action string, err error, fields map[string]any) {
	write(zerolog.ErrorLevel, "", c, action, err, fields)
}
