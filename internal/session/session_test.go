package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeline/internal/api"
	"lifeline/internal/apitest"
	"lifeline/internal/domain"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
)

type fixture struct {
	backend *apitest.Backend
	store   *storage.MemoryStore
	toasts  *toast.Recorder
	session *Manager
	events  *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := apitest.New(apitest.Options{})
	client, err := api.NewClient(api.Options{BaseURL: b.Start(t)})
	require.NoError(t, err)
	f := &fixture{backend: b, store: storage.NewMemoryStore(), toasts: &toast.Recorder{}, events: &eventLog{}}
	f.session, err = New(Options{Client: client, Store: f.store, Toasts: f.toasts})
	require.NoError(t, err)
	f.session.Subscribe(f.events.add)
	t.Cleanup(f.session.Close)
	return f
}

func storedToken(t *testing.T, s storage.Store) (string, bool) {
	t.Helper()
	raw, err := s.Get(context.Background(), storage.KeyToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return string(raw), true
}

func TestLoginPersistsTokenAndIdentity(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "vol@x.io", Name: "Nadia", Role: domain.UserRoleVolunteer}, "secret1")

	u, err := f.session.Login(context.Background(), "vol@x.io", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Nadia", u.Name)
	assert.True(t, f.session.Authenticated())
	assert.True(t, f.session.IsVolunteer())
	assert.False(t, f.session.IsAdmin())
	assert.False(t, f.session.IsDonor())
	assert.True(t, f.session.IsActive())

	tok, ok := storedToken(t, f.store)
	require.True(t, ok)
	assert.Equal(t, f.session.Token(), tok)
	assert.Equal(t, []EventKind{EventLogin}, f.events.kinds())
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")

	_, err := f.session.Login(context.Background(), "a@x.io", "nope00")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, f.session.Authenticated())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)
	require.Equal(t, 1, f.toasts.Len())
	assert.Equal(t, toast.LevelError, f.toasts.Toasts()[0].Level)
}

func TestLoginValidationSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Login(context.Background(), "not-an-email", "")
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields, "email")
	assert.Equal(t, 0, f.backend.Hits("POST /auth/login"))
}

func TestLoginNetworkFailureIsAuthError(t *testing.T) {
	client, err := api.NewClient(api.Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)
	s, err := New(Options{Client: client, Store: storage.NewMemoryStore()})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Login(context.Background(), "a@x.io", "secret1")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestRegisterSignsIn(t *testing.T) {
	f := newFixture(t)
	u, err := f.session.Register(context.Background(), domain.Profile{
		Name: "Sumi", Email: "sumi@x.io", Password: "secret1", ConfirmPassword: "secret1",
		BloodGroup: "B+", District: "Dhaka", Upazila: "Mirpur",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UserRoleDonor, u.Role)
	assert.True(t, f.session.IsDonor())
	_, ok := storedToken(t, f.store)
	assert.True(t, ok)
}

func TestRegisterPasswordMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Register(context.Background(), domain.Profile{
		Name: "Sumi", Email: "sumi@x.io", Password: "secret1", ConfirmPassword: "secret2",
		BloodGroup: "B+", District: "Dhaka", Upazila: "Mirpur",
	})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields, "confirmPassword")
	assert.Equal(t, 0, f.backend.Hits("POST /auth/register"))
}

func TestLogoutClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")
	_, err := f.session.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)

	f.session.Logout(context.Background())
	assert.False(t, f.session.Authenticated())
	assert.Empty(t, f.session.Token())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)

	// A second logout is a silent no-op.
	f.session.Logout(context.Background())
	assert.Equal(t, []EventKind{EventLogin, EventLogout}, f.events.kinds())
}

func TestRestoreValidToken(t *testing.T) {
	f := newFixture(t)
	u := f.backend.AddUser(domain.User{Email: "adm@x.io", Role: domain.UserRoleAdmin}, "secret1")
	token := f.backend.IssueToken(u.ID, time.Hour)
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(token)))

	require.NoError(t, f.session.Restore(context.Background()))
	got, ok := f.session.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, domain.UserRoleAdmin, got.Role)
	assert.Equal(t, domain.UserStatusActive, got.Status)
	assert.True(t, f.session.IsAdmin())

	f.session.Wait()
	assert.True(t, f.session.Authenticated())
	assert.Equal(t, 1, f.backend.Hits("GET /auth/verify"))
}

func TestRestoreIdentityMatchesClaims(t *testing.T) {
	roles := []domain.UserRole{domain.UserRoleDonor, domain.UserRoleVolunteer, domain.UserRoleAdmin}
	statuses := []domain.UserStatus{domain.UserStatusActive, domain.UserStatusBlocked}
	for _, role := range roles {
		for _, status := range statuses {
			f := newFixture(t)
			u := f.backend.AddUser(domain.User{Email: string(role) + string(status) + "@x.io", Role: role, Status: status}, "secret1")
			token := f.backend.IssueToken(u.ID, time.Hour)
			require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(token)))
			// Keep re-validation parked so the claims-derived identity is observed.
			release := f.backend.Hold("GET /auth/verify")

			require.NoError(t, f.session.Restore(context.Background()))
			got, ok := f.session.CurrentUser()
			require.True(t, ok)
			assert.Equal(t, role, got.Role)
			assert.Equal(t, status, got.Status)
			assert.Equal(t, status == domain.UserStatusActive, f.session.IsActive())
			f.session.Close()
			release()
		}
	}
}

func TestRestoreExpiredToken(t *testing.T) {
	f := newFixture(t)
	u := f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")
	token := f.backend.IssueToken(u.ID, -time.Minute)
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(token)))

	require.NoError(t, f.session.Restore(context.Background()))
	assert.False(t, f.session.Authenticated())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventExpired}, f.events.kinds())
	assert.Equal(t, 0, f.backend.Hits("GET /auth/verify"))
}

func TestRestoreTokenWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	claims := domain.Claims{
		UserID:           "u-1",
		Email:            "a@x.io",
		Role:             domain.UserRoleDonor,
		Status:           domain.UserStatusActive,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", IssuedAt: jwt.NewNumericDate(time.Now())},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret"))
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(token)))

	require.NoError(t, f.session.Restore(context.Background()))
	assert.False(t, f.session.Authenticated())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventExpired}, f.events.kinds())
	assert.Equal(t, 0, f.backend.Hits("GET /auth/verify"))
}

func TestRestoreGarbageToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte("not.a.jwt")))
	require.NoError(t, f.session.Restore(context.Background()))
	assert.False(t, f.session.Authenticated())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)
	assert.Empty(t, f.events.kinds())
}

func TestRestoreWithoutToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Restore(context.Background()))
	assert.False(t, f.session.Authenticated())
	assert.False(t, f.session.IsAdmin())
	assert.False(t, f.session.IsActive())
}

func TestRestoreRevalidationFailureLogsOut(t *testing.T) {
	f := newFixture(t)
	u := f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")
	token := f.backend.IssueToken(u.ID, time.Hour)
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(token)))
	f.backend.FailNext("GET /auth/verify", http.StatusUnauthorized, "token revoked")

	require.NoError(t, f.session.Restore(context.Background()))
	assert.True(t, f.session.Authenticated(), "identity is set optimistically")
	f.session.Wait()
	assert.False(t, f.session.Authenticated())
	_, ok := storedToken(t, f.store)
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventLogin, EventUnauthorized}, f.events.kinds())
}

func TestRevalidationDoesNotClobberNewerLogin(t *testing.T) {
	f := newFixture(t)
	old := f.backend.AddUser(domain.User{Email: "old@x.io"}, "secret1")
	f.backend.AddUser(domain.User{Email: "new@x.io"}, "secret1")
	require.NoError(t, f.store.Set(context.Background(), storage.KeyToken, []byte(f.backend.IssueToken(old.ID, time.Hour))))

	release := f.backend.Hold("GET /auth/verify")
	f.backend.FailNext("GET /auth/verify", http.StatusUnauthorized, "token revoked")
	require.NoError(t, f.session.Restore(context.Background()))

	_, err := f.session.Login(context.Background(), "new@x.io", "secret1")
	require.NoError(t, err)
	release()
	f.session.Wait()

	got, ok := f.session.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "new@x.io", got.Email)
}

func TestUnauthorizedTearsDownOnlyCurrentToken(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")
	_, err := f.session.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)

	f.session.Unauthorized("some-older-token")
	assert.True(t, f.session.Authenticated())

	f.session.Unauthorized(f.session.Token())
	assert.False(t, f.session.Authenticated())
	assert.Equal(t, []EventKind{EventLogin, EventUnauthorized}, f.events.kinds())
}

func TestBlockedDuringCallTearsDown(t *testing.T) {
	f := newFixture(t)
	u := f.backend.AddUser(domain.User{Email: "a@x.io"}, "secret1")
	_, err := f.session.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)
	f.backend.SetUserStatus(u.ID, domain.UserStatusBlocked)

	_, err = f.session.API().ListNotifications(context.Background())
	var srvErr *domain.ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.True(t, srvErr.Blocked)
	assert.False(t, f.session.Authenticated())
	assert.Equal(t, []EventKind{EventLogin, EventBlocked}, f.events.kinds())
}

func TestUpdateProfileReplacesToken(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "a@x.io", Name: "Old"}, "secret1")
	_, err := f.session.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)
	before := f.session.Token()

	u, err := f.session.UpdateProfile(context.Background(), domain.Profile{Name: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, "New Name", u.Name)
	assert.NotEqual(t, before, f.session.Token())

	tok, _ := storedToken(t, f.store)
	assert.Equal(t, f.session.Token(), tok)
	claims, err := decodeToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "New Name", claims.Name)
}

func TestUpdateProfileWithoutNewToken(t *testing.T) {
	f := newFixture(t)
	f.backend.AddUser(domain.User{Email: "a@x.io", Name: "Old"}, "secret1")
	_, err := f.session.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)
	before := f.session.Token()

	u, err := f.session.UpdateProfile(context.Background(), domain.Profile{Phone: "01700000000"})
	require.NoError(t, err)
	assert.Equal(t, "01700000000", u.Phone)
	assert.Equal(t, before, f.session.Token())
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.UpdateProfile(context.Background(), domain.Profile{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestDecodeTokenRejectsMissingSubject(t *testing.T) {
	_, err := decodeToken("eyJhbGciOiJIUzI1NiJ9.e30.sig")
	assert.Error(t, err)
}
