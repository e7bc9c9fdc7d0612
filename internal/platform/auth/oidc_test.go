package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

type oidcFixture struct {
	validator *OIDCValidator
	metrics   *recordingMetrics
	key       *rsa.PrivateKey
	now       time.Time
	requests  *int
	server    *httptest.Server
}

func newOIDCFixture(t *testing.T, opts ...OIDCOption) *oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	var (
		mu       sync.Mutex
		requests int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	metrics := &recordingMetrics{}
	clock := func() time.Time { return now }
	opts = append([]OIDCOption{WithOIDCMetrics(metrics), WithOIDCClock(clock)}, opts...)
	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSClock(clock)), opts...)

	return &oidcFixture{validator: validator, metrics: metrics, key: key, now: now, requests: &requests, server: server}
}

func (f *oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":            "https://ledgersync.example.com",
		"iss":            "https://accounts.google.com",
		"sub":            "1234567890",
		"email":          "scheduler@demo.iam.gserviceaccount.com",
		"email_verified": true,
		"exp":            float64(f.now.Add(time.Hour).Unix()),
		"iat":            float64(f.now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func serveOIDC(f *oidcFixture, token string, next http.HandlerFunc) *httptest.ResponseRecorder {
	mw := f.validator.RequireOIDC("https://ledgersync.example.com", []string{"https://accounts.google.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/orders/501:sync", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func TestJWKSCacheReusesKeys(t *testing.T) {
	f := newOIDCFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		key, err := f.validator.cache.Key(ctx, "svc-key")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if *f.requests != 1 {
		t.Fatalf("expected one JWKS fetch, got %d", *f.requests)
	}
}

func TestRequireOIDC_Success(t *testing.T) {
	f := newOIDCFixture(t)
	var identity *Identity
	rec := serveOIDC(f, f.sign(t, nil), func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if identity == nil || identity.Kind != KindService {
		t.Fatalf("expected service identity, got %+v", identity)
	}
	if identity.Principal() != "service:scheduler@demo.iam.gserviceaccount.com" {
		t.Fatalf("unexpected principal %q", identity.Principal())
	}
	if got := f.metrics.last(); !got.success || got.kind != "oidc" {
		t.Fatalf("unexpected metric %+v", got)
	}
}

func TestRequireOIDC_AudienceMismatch(t *testing.T) {
	f := newOIDCFixture(t)
	token := f.sign(t, func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" })
	rec := serveOIDC(f, token, func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if f.metrics.last().reason != "audience_mismatch" {
		t.Fatalf("unexpected metric %+v", f.metrics.last())
	}
}

func TestRequireOIDC_IssuerMismatch(t *testing.T) {
	f := newOIDCFixture(t)
	token := f.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" })
	rec := serveOIDC(f, token, func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })

	if rec.Code != http.StatusUnauthorized || f.metrics.last().reason != "issuer_mismatch" {
		t.Fatalf("expected issuer_mismatch, got %d %+v", rec.Code, f.metrics.last())
	}
}

func TestRequireOIDC_ExpiredToken(t *testing.T) {
	f := newOIDCFixture(t)
	token := f.sign(t, func(c jwt.MapClaims) { c["exp"] = float64(f.now.Add(-time.Minute).Unix()) })
	rec := serveOIDC(f, token, func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })

	if rec.Code != http.StatusUnauthorized || f.metrics.last().reason != "token_invalid" {
		t.Fatalf("expected token_invalid, got %d %+v", rec.Code, f.metrics.last())
	}
}

func TestRequireOIDC_AllowedServiceAccounts(t *testing.T) {
	f := newOIDCFixture(t, WithAllowedServiceAccounts("tasks@demo.iam.gserviceaccount.com"))
	rec := serveOIDC(f, f.sign(t, nil), func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })

	if rec.Code != http.StatusForbidden || f.metrics.last().reason != "caller_not_allowed" {
		t.Fatalf("expected caller_not_allowed, got %d %+v", rec.Code, f.metrics.last())
	}
}

func TestRequireOIDC_MissingToken(t *testing.T) {
	f := newOIDCFixture(t)
	rec := serveOIDC(f, "", func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })
	if rec.Code != http.StatusUnauthorized || f.metrics.last().reason != "token_missing" {
		t.Fatalf("expected token_missing, got %d", rec.Code)
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	f := newOIDCFixture(t)
	token := f.sign(t, nil)
	f.server.Close()

	rec := serveOIDC(f, token, func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") })
	if rec.Code != http.StatusServiceUnavailable || f.metrics.last().reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %d %+v", rec.Code, f.metrics.last())
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=600, must-revalidate"); got != 10*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}
