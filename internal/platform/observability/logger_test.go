package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sfykart/api/internal/platform/requestctx"
)

func TestEventLoggerUsesContextLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	logEvent := NewEventLogger(zap.New(baseCore))
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))

	logEvent(ctx, "checkout.order_placed", map[string]any{"orderId": "ORD1", "amount": int64(33900)})

	if baseLogs.Len() != 0 {
		t.Fatalf("expected base logger unused, got %d entries", baseLogs.Len())
	}
	entries := reqLogs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "checkout.order_placed" || fields["orderId"] != "ORD1" {
		t.Fatalf("unexpected fields %#v", fields)
	}
}

func TestEventLoggerWarnsOnFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := NewEventLogger(zap.New(core))

	logEvent(context.Background(), "cart.load_failed", map[string]any{"error": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["error"] != "boom" {
		t.Fatalf("expected error field, got %#v", entries[0].ContextMap())
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	if got := sanitizeString("dev\nice\x00-1", 64); got != "device-1" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := sanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}
