package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lifeline/internal/api"
	"lifeline/internal/apitest"
	"lifeline/internal/domain"
	"lifeline/internal/session"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(hour, minute int) {
	c.mu.Lock()
	c.t = at(hour, minute)
	c.mu.Unlock()
}

type fixture struct {
	backend *apitest.Backend
	srv     *httptest.Server
	store   *storage.MemoryStore
	toasts  *toast.Recorder
	clock   *clock
	session *session.Manager
	notify  *Manager
	user    domain.User
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		backend: apitest.New(apitest.Options{}),
		store:   storage.NewMemoryStore(),
		toasts:  &toast.Recorder{},
		clock:   &clock{t: at(12, 0)},
	}
	f.srv = httptest.NewServer(f.backend.Handler())
	client, err := api.NewClient(api.Options{
		BaseURL:    f.srv.URL,
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	f.session, err = session.New(session.Options{Client: client, Store: f.store})
	require.NoError(t, err)
	f.notify, err = New(context.Background(), f.session, Options{
		Store:    f.store,
		Toasts:   f.toasts,
		Interval: interval,
		Now:      f.clock.now,
	})
	require.NoError(t, err)
	f.user = f.backend.AddUser(domain.User{Email: "donor@x.io", Name: "Rafi", BloodGroup: "O+"}, "secret1")
	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.notify.Close()
	f.session.Close()
	f.srv.Close()
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	_, err := f.session.Login(context.Background(), "donor@x.io", "secret1")
	require.NoError(t, err)
	require.Eventually(t, f.notify.loaded, 2*time.Second, 5*time.Millisecond)
}

func (m *Manager) loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primed
}

func (f *fixture) popups() []toast.Toast {
	var out []toast.Toast
	for _, tt := range f.toasts.Toasts() {
		if tt.Level == toast.LevelInfo {
			out = append(out, tt)
		}
	}
	return out
}

func assertUnreadConsistent(t *testing.T, m *Manager) {
	t.Helper()
	assert.Equal(t, domain.CountUnread(m.Items()), m.Unread())
}

func TestInitialLoadDoesNotPopUp(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.backend.Notify(f.user.ID, domain.Notification{Title: "old news"})

	f.login(t)

	assert.Len(t, f.notify.Items(), 1)
	assert.Equal(t, 1, f.notify.Unread())
	assert.Empty(t, f.popups())
}

func TestNewUnreadNotificationPopsUpOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.login(t)

	f.backend.Notify(f.user.ID, domain.Notification{Type: domain.NotificationDonationRequest, Title: "O+ needed", Message: "Dhaka Medical"})
	f.backend.Notify(f.user.ID, domain.Notification{Title: "already seen elsewhere", Read: true})
	require.NoError(t, f.notify.Fetch(context.Background()))
	require.NoError(t, f.notify.Fetch(context.Background()))

	popups := f.popups()
	require.Len(t, popups, 1)
	assert.Equal(t, "O+ needed", popups[0].Title)
	assert.True(t, popups[0].Sound)
	assert.Equal(t, 1, f.notify.Unread())
}

func TestQuietHoursSuppressPopups(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.notify.SetQuietHours(ctx, QuietHours{Enabled: true, Start: 22 * 60, End: 8 * 60}))
	f.login(t)

	f.clock.set(23, 0)
	f.backend.Notify(f.user.ID, domain.Notification{Title: "at night"})
	require.NoError(t, f.notify.Fetch(ctx))
	assert.Empty(t, f.popups())

	f.clock.set(9, 0)
	f.backend.Notify(f.user.ID, domain.Notification{Title: "in the morning"})
	require.NoError(t, f.notify.Fetch(ctx))
	popups := f.popups()
	require.Len(t, popups, 1)
	assert.Equal(t, "in the morning", popups[0].Title)
}

func TestDaytimeQuietHours(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.notify.SetQuietHours(ctx, QuietHours{Enabled: true, Start: 8 * 60, End: 22 * 60}))
	f.login(t)

	f.clock.set(10, 0)
	f.backend.Notify(f.user.ID, domain.Notification{Title: "at work"})
	require.NoError(t, f.notify.Fetch(ctx))
	assert.Empty(t, f.popups())

	f.clock.set(23, 0)
	f.backend.Notify(f.user.ID, domain.Notification{Title: "late"})
	require.NoError(t, f.notify.Fetch(ctx))
	assert.Len(t, f.popups(), 1)
}

func TestDisabledChannelSuppressesPopup(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.notify.SetChannel(ctx, domain.NotificationStatusUpdate, false))
	require.NoError(t, f.notify.SetSound(ctx, false))
	f.login(t)

	f.backend.Notify(f.user.ID, domain.Notification{Type: domain.NotificationStatusUpdate, Title: "muted"})
	f.backend.Notify(f.user.ID, domain.Notification{Type: domain.NotificationAccount, Title: "loud"})
	require.NoError(t, f.notify.Fetch(ctx))

	popups := f.popups()
	require.Len(t, popups, 1)
	assert.Equal(t, "loud", popups[0].Title)
	assert.False(t, popups[0].Sound)
	// Suppressed items still land in the list.
	assert.Equal(t, 2, f.notify.Unread())
}

func TestUnreadMatchesListAfterEveryOperation(t *testing.T) {
	f := newFixture(t, time.Hour)
	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		ids = append(ids, f.backend.Notify(f.user.ID, domain.Notification{Title: title}).ID)
	}
	f.login(t)
	ctx := context.Background()
	assert.Equal(t, 4, f.notify.Unread())
	assertUnreadConsistent(t, f.notify)

	require.NoError(t, f.notify.MarkAsRead(ctx, ids[0]))
	assert.Equal(t, 3, f.notify.Unread())
	assertUnreadConsistent(t, f.notify)

	// Marking the same one again is harmless.
	require.NoError(t, f.notify.MarkAsRead(ctx, ids[0]))
	assert.Equal(t, 3, f.notify.Unread())

	require.NoError(t, f.notify.Delete(ctx, ids[1]))
	assert.Len(t, f.notify.Items(), 3)
	assert.Equal(t, 2, f.notify.Unread())
	assertUnreadConsistent(t, f.notify)

	require.NoError(t, f.notify.Delete(ctx, ids[0]))
	assert.Equal(t, 2, f.notify.Unread())
	assertUnreadConsistent(t, f.notify)

	require.NoError(t, f.notify.MarkAllAsRead(ctx))
	assert.Equal(t, 0, f.notify.Unread())
	assertUnreadConsistent(t, f.notify)

	require.NoError(t, f.notify.Fetch(ctx))
	assert.Equal(t, 0, f.notify.Unread())
	assert.Len(t, f.notify.Items(), 2)

	require.NoError(t, f.notify.DeleteAll(ctx))
	assert.Empty(t, f.notify.Items())
	assert.Equal(t, 0, f.notify.Unread())
	assert.Empty(t, f.backend.Notifications(f.user.ID))
}

func TestFailedMutationLeavesList(t *testing.T) {
	f := newFixture(t, time.Hour)
	n := f.backend.Notify(f.user.ID, domain.Notification{Title: "a"})
	f.login(t)

	f.backend.FailNext("PATCH /notifications/{id}/read", http.StatusInternalServerError, "database unavailable")
	err := f.notify.MarkAsRead(context.Background(), n.ID)
	require.Error(t, err)
	assert.Equal(t, 1, f.notify.Unread())

	last := f.toasts.Toasts()[f.toasts.Len()-1]
	assert.Equal(t, toast.LevelError, last.Level)
	assert.Equal(t, "database unavailable", last.Message)
}

func TestOperationsRequireSession(t *testing.T) {
	f := newFixture(t, time.Hour)
	err := f.notify.MarkAllAsRead(context.Background())
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.ErrorAs(t, f.notify.SyncSettings(context.Background()), &authErr)
	assert.Zero(t, f.backend.Hits("PATCH /notifications/read-all"))
}

func TestLogoutClearsListButKeepsPreferences(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.backend.Notify(f.user.ID, domain.Notification{Title: "a"})
	f.login(t)
	require.NoError(t, f.notify.SetChannel(ctx, domain.NotificationSystem, false))
	require.NoError(t, f.notify.SetQuietHours(ctx, QuietHours{Enabled: true, Start: 60, End: 120}))
	require.NoError(t, f.notify.SetSound(ctx, false))

	f.session.Logout(ctx)
	assert.Empty(t, f.notify.Items())
	assert.Equal(t, 0, f.notify.Unread())
	assert.False(t, f.notify.Polling())

	reloaded, err := New(ctx, f.session, Options{Store: f.store, Interval: time.Hour})
	require.NoError(t, err)
	defer reloaded.Close()
	p := reloaded.Preferences()
	assert.False(t, p.Enabled(domain.NotificationSystem))
	assert.True(t, p.Enabled(domain.NotificationAccount))
	assert.Equal(t, QuietHours{Enabled: true, Start: 60, End: 120}, p.QuietHours)
	assert.False(t, reloaded.SoundEnabled())

	// Nothing reached the backend without an explicit sync.
	_, synced := f.backend.Preferences(f.user.ID)
	assert.False(t, synced)
}

func TestSyncSettingsPushesPreferences(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.login(t)
	require.NoError(t, f.notify.SetChannel(ctx, domain.NotificationSystem, false))
	require.NoError(t, f.notify.SyncSettings(ctx))

	raw, ok := f.backend.Preferences(f.user.ID)
	require.True(t, ok)
	var got struct {
		Channels map[string]bool `json:"channels"`
		Sound    bool            `json:"sound"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.False(t, got.Channels["system"])
	assert.True(t, got.Channels["account"])
	assert.True(t, got.Sound)
}

func TestInvalidQuietHoursRejected(t *testing.T) {
	f := newFixture(t, time.Hour)
	err := f.notify.SetQuietHours(context.Background(), QuietHours{Enabled: true, Start: 23 * 60, End: 25 * 60})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 8*60, f.notify.Preferences().QuietHours.End)
}

func TestCreateIsAdminOnly(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.login(t)
	_, err := f.notify.Create(context.Background(), domain.NotificationInput{Type: domain.NotificationSystem, Title: "hi", Message: "all"})
	var eErr *domain.EligibilityError
	require.ErrorAs(t, err, &eErr)
	assert.Zero(t, f.backend.Hits("POST /notifications"))
}

func TestCreateBroadcastsToRole(t *testing.T) {
	f := newFixture(t, time.Hour)
	admin := f.backend.AddUser(domain.User{Email: "admin@x.io", Role: domain.UserRoleAdmin}, "secret1")
	_, err := f.session.Login(context.Background(), "admin@x.io", "secret1")
	require.NoError(t, err)

	n, err := f.notify.Create(context.Background(), domain.NotificationInput{
		Role: domain.UserRoleDonor, Type: domain.NotificationSystem, Title: "Drive", Message: "Saturday camp",
	})
	require.NoError(t, err)
	assert.Equal(t, "Drive", n.Title)
	assert.Len(t, f.backend.Notifications(f.user.ID), 1)
	assert.Empty(t, f.backend.Notifications(admin.ID))
}

func TestPollingFollowsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, 10*time.Millisecond)
	assert.False(t, f.notify.Polling())

	f.login(t)
	assert.True(t, f.notify.Polling())
	require.Eventually(t, func() bool { return f.backend.Hits("GET /notifications") >= 3 }, 2*time.Second, 5*time.Millisecond)

	f.session.Logout(context.Background())
	assert.False(t, f.notify.Polling())

	f.close()
}

func TestUnauthorizedPollEndsPolling(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, 10*time.Millisecond)
	f.backend.FailNext("GET /notifications", http.StatusUnauthorized, "Token expired")
	_, err := f.session.Login(context.Background(), "donor@x.io", "secret1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.notify.Polling() }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.session.Authenticated())
	assert.Empty(t, f.notify.Items())

	f.close()
}

func TestCloseStopsPolling(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, 10*time.Millisecond)
	f.login(t)
	f.close()
	assert.False(t, f.notify.Polling())

	// A late login event does not restart the task.
	f.notify.onSession(session.Event{Kind: session.EventLogin, User: f.user})
	assert.False(t, f.notify.Polling())
}
