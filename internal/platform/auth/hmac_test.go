package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSecret      = "storefront-secret"
	testWebhookPath = "/api/v1/webhooks/storefront/orders"
)

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("firestore unavailable")
}

func signedRequest(t *testing.T, body []byte, at time.Time, nonce string) *http.Request {
	t.Helper()
	signature, ts := Sign(testSecret, http.MethodPost, testWebhookPath, body, at, nonce)
	req := httptest.NewRequest(http.MethodPost, testWebhookPath, bytes.NewReader(body))
	req.Header.Set(defaultSignatureHeader, signature)
	req.Header.Set(defaultTimestampHeader, ts)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func TestRequireHMAC_Success(t *testing.T) {
	now := time.Unix(1_709_640_000, 0).UTC()
	metrics := &recordingMetrics{}
	validator := NewHMACValidator(testSecret, NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)

	body := []byte(`{"orderId":"501"}`)
	var gotBody string
	var identity *Identity
	rec := httptest.NewRecorder()
	validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, signedRequest(t, body, now, "nonce-1"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotBody != string(body) {
		t.Fatalf("expected body to be restored, got %q", gotBody)
	}
	if identity == nil || identity.Principal() != "storefront:storefront" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if got := metrics.last(); !got.success || got.kind != "hmac" {
		t.Fatalf("unexpected metric %+v", got)
	}
}

func TestRequireHMAC_AcceptsBase64AndPrefixedSignatures(t *testing.T) {
	now := time.Unix(1_709_640_000, 0).UTC()
	body := []byte(`{}`)
	validator := NewHMACValidator(testSecret, NewInMemoryNonceStore(), WithHMACClock(func() time.Time { return now }))

	for i, encode := range []func([]byte) string{
		func(mac []byte) string { return base64.StdEncoding.EncodeToString(mac) },
		func(mac []byte) string { return "sha256=" + base64.StdEncoding.EncodeToString(mac) },
	} {
		nonce := []string{"n-a", "n-b"}[i]
		req := signedRequest(t, body, now, nonce)
		mac := computeHMAC([]byte(testSecret), buildCanonicalString(req, body, req.Header.Get(defaultTimestampHeader), nonce))
		req.Header.Set(defaultSignatureHeader, encode(mac))

		rec := httptest.NewRecorder()
		validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("case %d: expected 204, got %d", i, rec.Code)
		}
	}
}

func TestRequireHMAC_ReplayRejected(t *testing.T) {
	now := time.Unix(1_709_640_000, 0).UTC()
	metrics := &recordingMetrics{}
	validator := NewHMACValidator(testSecret, NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)
	handler := validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	body := []byte(`{"orderId":"501"}`)
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, signedRequest(t, body, now, "nonce-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, signedRequest(t, body, now, "nonce-1"))

	if first.Code != http.StatusAccepted || second.Code != http.StatusUnauthorized {
		t.Fatalf("expected 202 then 401, got %d then %d", first.Code, second.Code)
	}
	if metrics.last().reason != "nonce_replay" {
		t.Fatalf("expected nonce_replay, got %+v", metrics.last())
	}
}

func TestRequireHMAC_Rejections(t *testing.T) {
	now := time.Unix(1_709_640_000, 0).UTC()
	body := []byte(`{"orderId":"501"}`)

	cases := []struct {
		name   string
		mutate func(*http.Request)
		store  NonceStore
		status int
		reason string
	}{
		{
			name:   "tampered body",
			mutate: func(r *http.Request) { r.Body = httptestBody(`{"orderId":"502"}`) },
			status: http.StatusUnauthorized,
			reason: "signature_mismatch",
		},
		{
			name:   "missing signature",
			mutate: func(r *http.Request) { r.Header.Del(defaultSignatureHeader) },
			status: http.StatusUnauthorized,
			reason: "signature_missing",
		},
		{
			name:   "missing nonce",
			mutate: func(r *http.Request) { r.Header.Del(defaultNonceHeader) },
			status: http.StatusUnauthorized,
			reason: "nonce_missing",
		},
		{
			name: "stale timestamp",
			mutate: func(r *http.Request) {
				r.Header.Set(defaultTimestampHeader, "1709630000")
			},
			status: http.StatusUnauthorized,
			reason: "timestamp_skew",
		},
		{
			name:   "bad encoding",
			mutate: func(r *http.Request) { r.Header.Set(defaultSignatureHeader, "%%%") },
			status: http.StatusUnauthorized,
			reason: "signature_invalid",
		},
		{
			name:   "nonce store failure",
			mutate: func(*http.Request) {},
			store:  failingNonceStore{},
			status: http.StatusServiceUnavailable,
			reason: "verification_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := tc.store
			if store == nil {
				store = NewInMemoryNonceStore()
			}
			metrics := &recordingMetrics{}
			validator := NewHMACValidator(testSecret, store,
				WithHMACClock(func() time.Time { return now }),
				WithHMACMetrics(metrics),
			)
			req := signedRequest(t, body, now, "nonce-x")
			tc.mutate(req)

			rec := httptest.NewRecorder()
			validator.RequireHMAC()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if metrics.last().reason != tc.reason {
				t.Fatalf("expected reason %s, got %+v", tc.reason, metrics.last())
			}
		})
	}
}

func TestRequireHMAC_UnconfiguredSecret(t *testing.T) {
	validator := NewHMACValidator("", NewInMemoryNonceStore())
	rec := httptest.NewRecorder()
	validator.RequireHMAC()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, testWebhookPath, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestInMemoryNonceStoreExpires(t *testing.T) {
	now := time.Unix(1_000, 0)
	store := NewInMemoryNonceStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := store.UseNonce(ctx, "s", "n", now.Add(time.Minute)); !ok {
		t.Fatal("expected first use to succeed")
	}
	if ok, _ := store.UseNonce(ctx, "s", "n", now.Add(time.Minute)); ok {
		t.Fatal("expected replay to be rejected")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := store.UseNonce(ctx, "s", "n", now.Add(time.Minute)); !ok {
		t.Fatal("expected nonce to be usable after expiry")
	}
}

func httptestBody(s string) *readCloser {
	return &readCloser{Reader: bytes.NewReader([]byte(s))}
}

type readCloser struct {
	*bytes.Reader
}

func (readCloser) Close() error { return nil }
