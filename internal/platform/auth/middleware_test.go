package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireStaff_AllowsStaffToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-123",
		Issuer: "https://securetoken.google.com/demo",
		Claims: map[string]any{
			"role":  []any{"Staff", "staff"},
			"email": "ops@example.com",
		},
	}}
	metrics := &recordingMetrics{}
	authn := NewAuthenticator(verifier, WithMetrics(metrics))

	var identity *Identity
	handler := authn.RequireStaff()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/ledger/businesses", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
	if identity == nil || identity.Kind != KindStaff || identity.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || !identity.HasRole("STAFF") {
		t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
	}
	if identity.Principal() != "staff:uid-123" {
		t.Fatalf("unexpected principal %q", identity.Principal())
	}
	if len(metrics.records) != 1 || !metrics.records[0].success || metrics.records[0].kind != "firebase" {
		t.Fatalf("unexpected metrics %+v", metrics.records)
	}
}

func TestRequireStaff_RejectsMissingRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-1",
		Claims: map[string]any{"role": map[string]any{"customer": true, "admin": false}},
	}}
	handler := NewAuthenticator(verifier).RequireStaff()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "insufficient_role" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRequireStaff_AdminOnlyRoute(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-1",
		Claims: map[string]any{"role": "staff"},
	}}
	handler := NewAuthenticator(verifier).RequireStaff(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireStaff_MissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{}).RequireStaff()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "unauthenticated" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRequireStaff_ExpiredToken(t *testing.T) {
	var events []string
	verifier := &stubTokenVerifier{err: ErrTokenExpired}
	authn := NewAuthenticator(verifier, WithLogger(func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}))
	handler := authn.RequireStaff()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "token_expired" {
		t.Fatalf("unexpected error code %q", code)
	}
	if len(events) != 1 || events[0] != "auth.firebase.verify_failed" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestRequireStaff_UnknownVerificationError(t *testing.T) {
	verifier := &stubTokenVerifier{err: errors.New("boom")}
	handler := NewAuthenticator(verifier).RequireStaff()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if code := decodeError(t, rec); code != "invalid_token" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":  true,
		"bearer  abc": true,
		"Basic abc":   false,
		"Bearer ":     false,
		"":            false,
	}
	for header, want := range cases {
		if _, ok := extractBearerToken(header); ok != want {
			t.Fatalf("extractBearerToken(%q) = %v, want %v", header, ok, want)
		}
	}
}
