package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lifeline/internal/domain"
)

func TestSignAndVerifyJWT(t *testing.T) {
	u := domain.User{ID: "user-123", Email: "a@b.c", Role: domain.UserRoleVolunteer, Status: domain.UserStatusActive}
	token, err := SignJWT("test-secret", u, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	claims, err := VerifyJWT("test-secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	got := claims.User()
	if got.ID != u.ID || got.Role != u.Role || got.Status != u.Status {
		t.Fatalf("VerifyJWT() returned %+v, want %+v", got, u)
	}
}

func TestVerifyJWTInvalidSignature(t *testing.T) {
	token, err := SignJWT("secret-a", domain.User{ID: "u"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret-b", token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("VerifyJWT() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	token, err := SignJWT("secret", domain.User{ID: "u"}, -time.Minute, time.Now())
	if err != nil {
		t.Fatalf("SignJWT() error: %v", err)
	}
	if _, err := VerifyJWT("secret", token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("VerifyJWT() error = %v, want ErrTokenExpired", err)
	}
}

func TestAuthJWT(t *testing.T) {
	accounts := map[string]domain.User{
		"active":  {ID: "active", Role: domain.UserRoleDonor, Status: domain.UserStatusActive},
		"blocked": {ID: "blocked", Role: domain.UserRoleDonor, Status: domain.UserStatusBlocked},
	}
	lookup := func(id string) (domain.User, bool) {
		u, ok := accounts[id]
		return u, ok
	}
	sign := func(id string) string {
		// Claims say active; the live account decides.
		tok, err := SignJWT("s", domain.User{ID: id, Status: domain.UserStatusActive}, time.Hour, time.Now())
		if err != nil {
			t.Fatalf("SignJWT() error: %v", err)
		}
		return tok
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "unknown account", header: "Bearer " + sign("ghost"), want: http.StatusUnauthorized},
		{name: "blocked account", header: "Bearer " + sign("blocked"), want: http.StatusForbidden},
		{name: "active account", header: "Bearer " + sign("active"), want: http.StatusNoContent},
	}

	h := AuthJWT("s", lookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			t.Errorf("user missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(domain.UserRoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for role, want := range map[domain.UserRole]int{
		domain.UserRoleAdmin: http.StatusNoContent,
		domain.UserRoleDonor: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithUser(req.Context(), domain.User{ID: "x", Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %s status = %d, want %d", role, rec.Code, want)
		}
	}
}
