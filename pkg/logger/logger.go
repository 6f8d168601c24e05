package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with the booking engine's structured helpers
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New() *Logger {
	level := getLogLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Text for local development, JSON everywhere else
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewWithHandler wraps an arbitrary handler; tests use it to capture output.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{Logger: slog.New(h)}
}

func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

// HTTP

func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("user_agent", c.Request.UserAgent()),
		slog.Int("size", c.Writer.Size()),
	)
}

func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Booking lifecycle

func (l *Logger) LogBookingTransition(ctx context.Context, bookingID, from, to, reason, actorID string) {
	l.Logger.InfoContext(ctx,
		"Booking Transition",
		slog.String("booking_id", bookingID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
		slog.String("actor_id", actorID),
	)
}

func (l *Logger) LogHoldAcquired(ctx context.Context, holdID, bookingID, unitID string, expiresAt time.Time) {
	l.Logger.InfoContext(ctx,
		"Hold Acquired",
		slog.String("hold_id", holdID),
		slog.String("booking_id", bookingID),
		slog.String("unit_id", unitID),
		slog.Time("expires_at", expiresAt),
	)
}

func (l *Logger) LogHoldExpired(ctx context.Context, holdID, bookingID, unitID string) {
	l.Logger.InfoContext(ctx,
		"Hold Expired",
		slog.String("hold_id", holdID),
		slog.String("booking_id", bookingID),
		slog.String("unit_id", unitID),
	)
}

// Payments

func (l *Logger) LogPaymentCallback(ctx context.Context, reference, status, outcome string) {
	l.Logger.InfoContext(ctx,
		"Payment Callback",
		slog.String("reference", reference),
		slog.String("status", status),
		slog.String("outcome", outcome),
	)
}

// LogStaleCallback records a callback that lost the race to an earlier
// terminal result.
func (l *Logger) LogStaleCallback(ctx context.Context, reference, bookingID, status, reason string) {
	l.Logger.WarnContext(ctx,
		"Stale Payment Callback",
		slog.String("reference", reference),
		slog.String("booking_id", bookingID),
		slog.String("status", status),
		slog.String("reason", reason),
	)
}

func (l *Logger) LogUnmatchedCallback(ctx context.Context, reference, status string) {
	l.Logger.WarnContext(ctx,
		"Unmatched Payment Callback",
		slog.String("reference", reference),
		slog.String("status", status),
	)
}

// Admin

func (l *Logger) LogAdminOverride(ctx context.Context, actorID, action, target, reason, outcome string) {
	l.Logger.WarnContext(ctx,
		"Admin Override",
		slog.String("actor_id", actorID),
		slog.String("action", action),
		slog.String("target", target),
		slog.String("reason", reason),
		slog.String("outcome", outcome),
	)
}

// LogInvariantViolation is for states that must never happen. The caller
// aborts the operation.
func (l *Logger) LogInvariantViolation(ctx context.Context, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, slog.Bool("invariant_violation", true))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

// Security

func (l *Logger) LogSignatureRejected(ctx context.Context, provider, ip string) {
	l.Logger.WarnContext(ctx,
		"Webhook Signature Rejected",
		slog.String("provider", provider),
		slog.String("ip", ip),
	)
}

func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.InfoContext(ctx, msg, args...)
}

func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, slog.String("error", err.Error()))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

var defaultLogger = New()

func GetDefault() *Logger {
	return defaultLogger
}

func SetDefault(logger *Logger) {
	defaultLogger = logger
}
