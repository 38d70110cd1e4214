package api

import (
	"context"
	"encoding/json"
	"net/http"

	"lifeline/internal/domain"
)

// AuthResult is what login, registration and profile updates return. Token
// is empty when a profile update did not rotate the credential.
type AuthResult struct {
	Token string
	User  domain.User
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. It never attaches a token and
// never triggers session teardown.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	env, err := c.do(ctx, call{
		op:     "auth.login",
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Password: password},
		public: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAuth(env, true)
}

// Register creates a donor account and signs it in.
func (c *Client) Register(ctx context.Context, profile domain.Profile) (*AuthResult, error) {
	env, err := c.do(ctx, call{
		op:     "auth.register",
		method: http.MethodPost,
		path:   "/auth/register",
		body:   profile,
		public: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAuth(env, true)
}

// Verify asks the backend whether the current token is still valid and
// returns the identity it belongs to.
func (c *Client) Verify(ctx context.Context) (*domain.User, error) {
	env, err := c.do(ctx, call{op: "auth.verify", method: http.MethodGet, path: "/auth/verify"})
	if err != nil {
		return nil, err
	}
	res, err := decodeAuth(env, false)
	if err != nil {
		return nil, err
	}
	return &res.User, nil
}

// UpdateProfile patches the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, patch domain.Profile) (*AuthResult, error) {
	env, err := c.do(ctx, call{
		op:     "auth.update_profile",
		method: http.MethodPut,
		path:   "/auth/profile",
		body:   patch,
	})
	if err != nil {
		return nil, err
	}
	return decodeAuth(env, false)
}

// decodeAuth accepts both `{token, user}` at the top level and the same pair
// nested under data, or a bare user as data.
func decodeAuth(env *envelope, requireToken bool) (*AuthResult, error) {
	res := &AuthResult{Token: env.Token}
	userRaw := env.User
	if len(env.Data) > 0 && string(env.Data) != "null" {
		var nested struct {
			Token string          `json:"token"`
			User  json.RawMessage `json:"user"`
		}
		if err := json.Unmarshal(env.Data, &nested); err == nil {
			if res.Token == "" {
				res.Token = nested.Token
			}
			if len(userRaw) == 0 && len(nested.User) > 0 {
				userRaw = nested.User
			}
		}
		if len(userRaw) == 0 {
			userRaw = env.Data
		}
	}
	if len(userRaw) == 0 || string(userRaw) == "null" {
		return nil, &domain.ServerError{Status: http.StatusOK, Message: "missing user in response"}
	}
	if err := json.Unmarshal(userRaw, &res.User); err != nil || res.User.ID == "" {
		return nil, &domain.ServerError{Status: http.StatusOK, Message: "missing user in response"}
	}
	if requireToken && res.Token == "" {
		return nil, &domain.ServerError{Status: http.StatusOK, Message: "missing token in response"}
	}
	return res, nil
}
