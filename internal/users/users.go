// Package users is the admin-facing user collection.
package users

import (
	"context"
	"io"
	"strings"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/collection"
	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/toast"
)

type Session interface {
	domain.Authenticator
	API() *api.Client
}

type Options struct {
	Toasts   toast.Sink
	Logger   *infra.Logger
	Limit    int
	Debounce time.Duration
}

// Manager wraps the user collection with the admin operations. Every
// operation except Search requires an admin session.
type Manager struct {
	*collection.Manager[domain.User]
	sess   Session
	client *api.Client
	toasts toast.Sink
	logger infra.Logger
}

func NewManager(sess Session, opts Options) *Manager {
	client := sess.API()
	guarded := func(ctx context.Context, q domain.Query) (domain.Page[domain.User], error) {
		if err := requireRole(sess, domain.UserRoleAdmin); err != nil {
			return domain.Page[domain.User]{}, err
		}
		return client.ListUsers(ctx, q)
	}
	return &Manager{
		Manager: collection.New[domain.User](collection.ListFunc[domain.User](guarded), collection.Options{
			Name:     "users",
			Auth:     sess,
			Toasts:   opts.Toasts,
			Logger:   opts.Logger,
			Limit:    opts.Limit,
			Debounce: opts.Debounce,
		}),
		sess:   sess,
		client: client,
		toasts: toast.OrDiscard(opts.Toasts),
		logger: infra.Component(opts.Logger, "users"),
	}
}

func (m *Manager) Block(ctx context.Context, id string) (domain.User, error) {
	return m.patch(ctx, id, domain.UserPatch{Status: domain.UserStatusBlocked}, "User blocked", func(u domain.User) error {
		if u.Status == domain.UserStatusBlocked {
			return &domain.EligibilityError{Reason: "User is already blocked."}
		}
		return nil
	})
}

func (m *Manager) Unblock(ctx context.Context, id string) (domain.User, error) {
	return m.patch(ctx, id, domain.UserPatch{Status: domain.UserStatusActive}, "User unblocked", func(u domain.User) error {
		if u.Status == domain.UserStatusActive {
			return &domain.EligibilityError{Reason: "User is already active."}
		}
		return nil
	})
}

// SetRole changes another user's role.
func (m *Manager) SetRole(ctx context.Context, id string, role domain.UserRole) (domain.User, error) {
	if !role.Valid() {
		return domain.User{}, m.fail("Role not changed", &domain.ValidationError{Fields: map[string]string{"role": "must be donor, volunteer or admin"}})
	}
	return m.patch(ctx, id, domain.UserPatch{Role: role}, "Role updated", func(u domain.User) error {
		if u.Role == role {
			return &domain.EligibilityError{Reason: "User already has that role."}
		}
		return nil
	})
}

func (m *Manager) patch(ctx context.Context, id string, p domain.UserPatch, title string, check func(domain.User) error) (domain.User, error) {
	if err := m.guard(id); err != nil {
		return domain.User{}, m.fail("Not allowed", err)
	}
	updated, err := m.Apply(ctx, id, check, func(ctx context.Context) (domain.User, error) {
		u, err := m.client.UpdateUser(ctx, id, p)
		if err != nil {
			return domain.User{}, err
		}
		return *u, nil
	})
	if err != nil {
		return updated, err
	}
	m.logger.Info().Str("target", id).Str("role", string(updated.Role)).Str("status", string(updated.Status)).Msg("user updated")
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: title, Message: displayName(updated)})
	return updated, nil
}

// Delete removes another user's account.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.guard(id); err != nil {
		return m.fail("Not allowed", err)
	}
	err := m.Remove(ctx, id, func(ctx context.Context) error { return m.client.DeleteUser(ctx, id) })
	if err == nil {
		m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "User deleted"})
	}
	return err
}

func (m *Manager) Get(ctx context.Context, id string) (domain.User, error) {
	if err := requireRole(m.sess, domain.UserRoleAdmin); err != nil {
		return domain.User{}, m.fail("Not allowed", err)
	}
	u, err := m.client.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, m.fail("Could not load user", err)
	}
	return *u, nil
}

// Search runs a server-side search. Volunteers use it to find donors to
// assign.
func (m *Manager) Search(ctx context.Context, text string, limit int) ([]domain.User, error) {
	if err := requireRole(m.sess, domain.UserRoleVolunteer, domain.UserRoleAdmin); err != nil {
		return nil, m.fail("Not allowed", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.User{}, nil
	}
	found, err := m.client.SearchUsers(ctx, text, limit)
	if err != nil {
		return nil, m.fail("Search failed", err)
	}
	return found, nil
}

func (m *Manager) Activity(ctx context.Context, id string) ([]domain.UserActivity, error) {
	if err := requireRole(m.sess, domain.UserRoleAdmin); err != nil {
		return nil, m.fail("Not allowed", err)
	}
	list, err := m.client.UserActivity(ctx, id)
	if err != nil {
		return nil, m.fail("Could not load activity", err)
	}
	return list, nil
}

// Export writes the CSV export of the current query to w.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	if err := requireRole(m.sess, domain.UserRoleAdmin); err != nil {
		return m.fail("Not allowed", err)
	}
	q := m.Snapshot().Query
	q.Page, q.Limit = 0, 0
	if err := m.client.ExportUsers(ctx, q, w); err != nil {
		return m.fail("Export failed", err)
	}
	return nil
}

// guard allows admins to act on accounts other than their own.
func (m *Manager) guard(target string) error {
	if err := requireRole(m.sess, domain.UserRoleAdmin); err != nil {
		return err
	}
	if me, _ := m.sess.CurrentUser(); me.ID == target {
		return &domain.EligibilityError{Reason: "You cannot change your own account here."}
	}
	return nil
}

func (m *Manager) fail(title string, err error) error {
	m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: title, Message: domain.UserMessage(err)})
	return err
}

func requireRole(sess domain.Authenticator, roles ...domain.UserRole) error {
	me, ok := sess.CurrentUser()
	if !ok {
		return &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	for _, r := range roles {
		if me.Role == r {
			return nil
		}
	}
	return &domain.EligibilityError{Reason: "Only administrators can do that."}
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
