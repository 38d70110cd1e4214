package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lifeline/internal/domain"
)

type userKey string

const (
	claimsKey userKey = "claims"
)

// SignJWT issues an HS256 token for u valid for ttl. A negative ttl yields an
// already expired token.
func SignJWT(secret string, u domain.User, ttl time.Duration, now time.Time) (string, error) {
	claims := domain.Claims{
		UserID:     u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		Status:     u.Status,
		BloodGroup: u.BloodGroup,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    "lifeline",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT checks signature and expiry and returns the embedded claims.
func VerifyJWT(secret, token string) (*domain.Claims, error) {
	claims := &domain.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// AccountLookup resolves the live account behind a token subject. The second
// return is false when the account no longer exists.
type AccountLookup func(id string) (domain.User, bool)

// AuthJWT rejects requests without a valid bearer token with 401 and
// requests from blocked accounts with 403. The live account, not the token
// claims, decides the blocked state.
func AuthJWT(secret string, lookup AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				WriteError(w, http.StatusUnauthorized, "invalid authorization")
				return
			}
			claims, err := VerifyJWT(secret, parts[1])
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			user := claims.User()
			if lookup != nil {
				live, ok := lookup(user.ID)
				if !ok {
					WriteError(w, http.StatusUnauthorized, "account not found")
					return
				}
				user = live
			}
			if user.Status == domain.UserStatusBlocked {
				WriteJSON(w, http.StatusForbidden, map[string]any{
					"success": false,
					"message": "Your account has been blocked",
					"blocked": true,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireRole answers 403 unless the authenticated user holds one of roles.
func RequireRole(roles ...domain.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "missing authorization")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(claimsKey).(domain.User)
	return u, ok
}

func ContextWithUser(ctx context.Context, u domain.User) context.Context {
	if strings.TrimSpace(u.ID) == "" {
		return ctx
	}
	return context.WithValue(ctx, claimsKey, u)
}
