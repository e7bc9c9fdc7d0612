// Package auth authenticates the three kinds of callers: the storefront
// (shared-secret HMAC signatures), Google workloads (OIDC) and staff
// (Firebase ID tokens).
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/ledgersync/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

// Logger receives structured auth events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

func noopLogger(context.Context, string, map[string]any) {}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
