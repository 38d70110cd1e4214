package users

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeline/internal/api"
	"lifeline/internal/apitest"
	"lifeline/internal/domain"
	"lifeline/internal/session"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
)

type fixture struct {
	backend *apitest.Backend
	session *session.Manager
	toasts  *toast.Recorder
	users   *Manager
	admin   domain.User
	vol     domain.User
	donors  []domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := apitest.New(apitest.Options{})
	client, err := api.NewClient(api.Options{BaseURL: b.Start(t)})
	require.NoError(t, err)
	sess, err := session.New(session.Options{Client: client, Store: storage.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	f := &fixture{backend: b, session: sess, toasts: &toast.Recorder{}}
	f.admin = b.AddUser(domain.User{Email: "admin@x.io", Name: "Admin", Role: domain.UserRoleAdmin}, "secret1")
	f.vol = b.AddUser(domain.User{Email: "vol@x.io", Name: "Nadia", Role: domain.UserRoleVolunteer}, "secret1")
	for _, d := range []domain.User{
		{Email: "rafi@x.io", Name: "Rafi", BloodGroup: "O+", District: "Dhaka"},
		{Email: "sumi@x.io", Name: "Sumi", BloodGroup: "B+", District: "Khulna"},
		{Email: "tanvir@x.io", Name: "Tanvir", BloodGroup: "O+", District: "Dhaka", Status: domain.UserStatusBlocked},
	} {
		f.donors = append(f.donors, b.AddUser(d, "secret1"))
	}
	f.users = NewManager(sess, Options{Toasts: f.toasts})
	t.Cleanup(f.users.Close)
	return f
}

func (f *fixture) loginAs(t *testing.T, u domain.User) {
	t.Helper()
	_, err := f.session.Login(context.Background(), u.Email, "secret1")
	require.NoError(t, err)
}

func TestListIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.vol)

	err := f.users.Fetch(context.Background())
	var eErr *domain.EligibilityError
	require.ErrorAs(t, err, &eErr)
	assert.Zero(t, f.backend.Hits("GET /users"))
}

func TestListWithRoleAndStatusFilters(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()

	require.NoError(t, f.users.SetFilter(ctx, "role", "donor"))
	st := f.users.Snapshot()
	assert.Len(t, st.Items, 3)
	assert.Equal(t, 2, st.Counts["active"])
	assert.Equal(t, 1, st.Counts["blocked"])

	require.NoError(t, f.users.SetFilter(ctx, "status", "active"))
	for _, u := range f.users.Items() {
		assert.Equal(t, domain.UserRoleDonor, u.Role)
		assert.Equal(t, domain.UserStatusActive, u.Status)
	}
	assert.Len(t, f.users.Items(), 2)
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()
	require.NoError(t, f.users.Fetch(ctx))
	active := f.users.Count("active")

	blocked, err := f.users.Block(ctx, f.donors[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStatusBlocked, blocked.Status)
	assert.Equal(t, active-1, f.users.Count("active"))
	stored, _ := f.backend.User(f.donors[0].ID)
	assert.Equal(t, domain.UserStatusBlocked, stored.Status)

	// Already blocked: refused locally.
	_, err = f.users.Block(ctx, f.donors[0].ID)
	var eErr *domain.EligibilityError
	require.ErrorAs(t, err, &eErr)

	_, err = f.users.Unblock(ctx, f.donors[0].ID)
	require.NoError(t, err)
	assert.Equal(t, active, f.users.Count("active"))

	notes := f.backend.Notifications(f.donors[0].ID)
	assert.Len(t, notes, 2)
}

func TestCannotChangeOwnAccount(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()

	_, err := f.users.Block(ctx, f.admin.ID)
	var eErr *domain.EligibilityError
	require.ErrorAs(t, err, &eErr)
	require.ErrorAs(t, f.users.Delete(ctx, f.admin.ID), &eErr)
	assert.Zero(t, f.backend.Hits("PUT /users/{id}"))
	assert.Zero(t, f.backend.Hits("DELETE /users/{id}"))
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()

	_, err := f.users.SetRole(ctx, f.donors[1].ID, "superuser")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	u, err := f.users.SetRole(ctx, f.donors[1].ID, domain.UserRoleVolunteer)
	require.NoError(t, err)
	assert.Equal(t, domain.UserRoleVolunteer, u.Role)

	activity, err := f.users.Activity(ctx, f.donors[1].ID)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, "role_changed", activity[0].Action)
}

func TestDeleteRemovesUser(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()
	require.NoError(t, f.users.Fetch(ctx))
	total := f.users.Snapshot().Pagination.TotalItems

	require.NoError(t, f.users.Delete(ctx, f.donors[2].ID))
	_, found := f.users.Find(f.donors[2].ID)
	assert.False(t, found)
	assert.Equal(t, total-1, f.users.Snapshot().Pagination.TotalItems)
	assert.Equal(t, 0, f.users.Count("blocked"))
}

func TestSearchForVolunteers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.loginAs(t, f.donors[0])
	_, err := f.users.Search(ctx, "dhaka", 10)
	var eErr *domain.EligibilityError
	require.ErrorAs(t, err, &eErr)

	f.loginAs(t, f.vol)
	found, err := f.users.Search(ctx, "dhaka", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Rafi", found[0].Name)

	empty, err := f.users.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, f.backend.Hits("GET /users/search"))
}

func TestExportUsesCurrentFilters(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)
	ctx := context.Background()
	require.NoError(t, f.users.SetFilter(ctx, "status", "blocked"))

	var buf bytes.Buffer
	require.NoError(t, f.users.Export(ctx, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "tanvir@x.io")
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, f.admin)

	u, err := f.users.Get(context.Background(), f.donors[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Sumi", u.Name)

	_, err = f.users.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
