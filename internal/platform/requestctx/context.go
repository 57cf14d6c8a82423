package requestctx

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/sfykart/api/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "github.com/sfykart/api/internal/platform/requestctx/trace"
	deviceContextKey  contextKey = "github.com/sfykart/api/internal/platform/requestctx/device"
	subjectContextKey contextKey = "github.com/sfykart/api/internal/platform/requestctx/subject"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithDeviceID stores the calling device identifier. Device ids namespace cart storage.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(deviceID)
	if subject := subjectFrom(ctx); subject != nil {
		subject.mu.Lock()
		subject.deviceID = id
		subject.mu.Unlock()
	}
	return context.WithValue(ctx, deviceContextKey, id)
}

// DeviceID returns the device identifier stored on the context.
func DeviceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(deviceContextKey).(string)
	return id
}

// Subject collects the caller ids that route-level middlewares resolve after the request
// logger has already wrapped the request.
type Subject struct {
	mu       sync.Mutex
	userID   string
	deviceID string
}

// WithSubject attaches an empty Subject that later WithDeviceID and SetUserID calls fill in.
func WithSubject(ctx context.Context) (context.Context, *Subject) {
	if ctx == nil {
		ctx = context.Background()
	}
	subject := &Subject{}
	return context.WithValue(ctx, subjectContextKey, subject), subject
}

// SetUserID records the authenticated user on the request's Subject, if any.
func SetUserID(ctx context.Context, userID string) {
	if subject := subjectFrom(ctx); subject != nil {
		subject.mu.Lock()
		subject.userID = strings.TrimSpace(userID)
		subject.mu.Unlock()
	}
}

// IDs returns the user and device ids recorded so far.
func (s *Subject) IDs() (userID, deviceID string) {
	if s == nil {
		return "", ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.deviceID
}

func subjectFrom(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectContextKey).(*Subject)
	return subject
}
