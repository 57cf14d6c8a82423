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

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubUserGetter struct {
	record *firebaseauth.UserRecord
	calls  int
}

func (s *stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	s.calls++
	return s.record, nil
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRequireUserPopulatesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"email":        "asha@example.com",
			"phone_number": "+919876543210",
			"name":         "Asha",
		},
	}}
	users := &stubUserGetter{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "uid-123"}}}
	authn := NewAuthenticator(verifier, WithUserGetter(users))

	called := false
	handler := authn.RequireUser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Phone != "+919876543210" || identity.Name != "Asha" {
			t.Fatalf("unexpected identity %#v", identity)
		}
		if !identity.HasRole(RoleShopper) {
			t.Fatalf("expected default shopper role, got %v", identity.Roles)
		}
		if _, err := identity.User(r.Context()); err != nil {
			t.Fatalf("user load: %v", err)
		}
		if _, err := identity.User(r.Context()); err != nil {
			t.Fatalf("user load: %v", err)
		}
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearerRequest("token-abc"))

	if !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected verifier to receive token, got %q", verifier.received)
	}
	if users.calls != 1 {
		t.Fatalf("expected memoised user load, got %d calls", users.calls)
	}
}

func TestRequireUserRejectsMissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	rr := httptest.NewRecorder()
	authn.RequireUser()(http.NotFoundHandler()).ServeHTTP(rr, bearerRequest(""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRequireUserEnforcesRoles(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{"role": []any{"shopper"}}}}
	authn := NewAuthenticator(verifier)

	rr := httptest.NewRecorder()
	authn.RequireUser(RoleStaff, RoleAdmin)(http.NotFoundHandler()).ServeHTTP(rr, bearerRequest("t"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	verifier.token.Claims["role"] = map[string]any{"admin": true, "staff": false}
	rr = httptest.NewRecorder()
	authn.RequireUser(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, bearerRequest("t"))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected admin to pass, got %d", rr.Code)
	}
}

func TestOptionalUserPassesAnonymousRequests(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("should not be called")})

	rr := httptest.NewRecorder()
	authn.OptionalUser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatalf("expected anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, bearerRequest(""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	authn.OptionalUser()(http.NotFoundHandler()).ServeHTTP(rr, bearerRequest("bad"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rr.Code)
	}
}

func TestRequireUserMapsExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	rr := httptest.NewRecorder()
	authn.RequireUser()(http.NotFoundHandler()).ServeHTTP(rr, bearerRequest("t"))

	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if rr.Code != http.StatusUnauthorized || body["error"] != "token_expired" {
		t.Fatalf("expected token_expired 401, got %d %v", rr.Code, body)
	}
}
