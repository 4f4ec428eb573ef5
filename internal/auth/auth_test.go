package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeAPIKey,
		Keys: []KeyConfig{
			{Name: "wallet", Key: "k-wallet", Permissions: []string{PermissionParse, PermissionTurnsWrite, PermissionTurnsRead}},
			{Name: "dashboard", KeySHA256: HashKey("k-dash"), Permissions: []string{PermissionTurnsRead}},
			{Name: "retired", Key: "k-old", Permissions: []string{PermissionAll}, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		key  string
		name string
		err  error
	}{
		{"k-wallet", "wallet", nil},
		{"k-dash", "dashboard", nil},
		{"", "", ErrMissingToken},
		{"nope", "", ErrInvalidToken},
		{"k-old", "", ErrSubjectRevoked},
	}
	for _, tc := range cases {
		subject, err := svc.Authenticate(tc.key)
		if !errors.Is(err, tc.err) {
			t.Fatalf("key %q: err = %v, want %v", tc.key, err, tc.err)
		}
		if tc.err == nil && subject.Name != tc.name {
			t.Fatalf("key %q: subject = %s", tc.key, subject.Name)
		}
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeAPIKey}); err == nil {
		t.Fatal("expected error without keys")
	}
	if _, err := NewService(Config{Mode: ModeAPIKey, Keys: []KeyConfig{{Name: "x"}}}); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Enabled() {
		t.Fatalf("empty config should disable auth: %v", err)
	}
}

func TestKeyFromHeaders(t *testing.T) {
	if got := KeyFromHeaders(" a ", "Bearer b"); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := KeyFromHeaders("", "bearer b"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := KeyFromHeaders("", "Basic b"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	h := svc.Middleware(MiddlewareConfig{Permissions: []string{PermissionTurnsWrite}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"unknown", "X-API-Key", "bad", http.StatusUnauthorized},
		{"read only", "X-API-Key", "k-dash", http.StatusForbidden},
		{"bearer", "Authorization", "Bearer k-wallet", http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
		})
	}
	if seen == nil || seen.Name != "wallet" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	var svc *Service
	h := svc.Middleware(MiddlewareConfig{Permissions: []string{PermissionParse}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
