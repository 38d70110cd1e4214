package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"lifeline/internal/domain"
)

const usersPath = "/users"

func (c *Client) ListUsers(ctx context.Context, q domain.Query) (domain.Page[domain.User], error) {
	env, err := c.do(ctx, call{op: "users.list", method: http.MethodGet, path: usersPath, query: q.Values()})
	if err != nil {
		return domain.Page[domain.User]{}, err
	}
	return decodePage[domain.User](env)
}

func (c *Client) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return c.userCall(ctx, call{op: "users.get", method: http.MethodGet, path: idPath(usersPath, id)})
}

func (c *Client) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	return c.userCall(ctx, call{op: "users.update", method: http.MethodPut, path: idPath(usersPath, id), body: patch})
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "users.delete", method: http.MethodDelete, path: idPath(usersPath, id)})
	return err
}

// SearchUsers runs a server-side search across all pages.
func (c *Client) SearchUsers(ctx context.Context, text string, limit int) ([]domain.User, error) {
	q := url.Values{"q": {text}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	env, err := c.do(ctx, call{op: "users.search", method: http.MethodGet, path: usersPath + "/search", query: q})
	if err != nil {
		return nil, err
	}
	page, err := decodePage[domain.User](env)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) UserActivity(ctx context.Context, id string) ([]domain.UserActivity, error) {
	env, err := c.do(ctx, call{op: "users.activity", method: http.MethodGet, path: idPath(usersPath, id, "activity")})
	if err != nil {
		return nil, err
	}
	page, err := decodePage[domain.UserActivity](env)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ExportUsers streams the CSV export for q into w.
func (c *Client) ExportUsers(ctx context.Context, q domain.Query, w io.Writer) error {
	return c.export(ctx, "users.export", usersPath+"/export", q.Values(), w)
}

func (c *Client) userCall(ctx context.Context, cl call) (*domain.User, error) {
	env, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	var out domain.User
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
