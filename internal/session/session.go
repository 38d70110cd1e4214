// Package session owns the authenticated identity and the credential token
// slot. It is the only writer of the slot; the api client reads the token
// through the Credentials methods and reports rejections back here.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lifeline/internal/api"
	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
	"lifeline/internal/validation"
)

// EventKind names a session transition.
type EventKind string

const (
	EventLogin        EventKind = "login"
	EventLogout       EventKind = "logout"
	EventExpired      EventKind = "expired"
	EventUnauthorized EventKind = "unauthorized"
	EventBlocked      EventKind = "blocked"
	EventUpdated      EventKind = "updated"
)

// Event is delivered to subscribers after the transition has been applied.
type Event struct {
	Kind EventKind
	User domain.User
	// Restored is set on the login event raised by Restore.
	Restored bool
}

// Ends reports whether the event leaves the session unauthenticated.
func (e Event) Ends() bool {
	switch e.Kind {
	case EventLogout, EventExpired, EventUnauthorized, EventBlocked:
		return true
	}
	return false
}

// Options configures a Manager.
type Options struct {
	Client *api.Client
	Store  storage.Store
	Logger *infra.Logger
	Toasts toast.Sink
	Now    func() time.Time
	// StoreTimeout bounds slot writes that happen outside a caller context.
	StoreTimeout time.Duration
}

// Manager is the session. Use New; the zero value is not usable.
type Manager struct {
	client       *api.Client
	store        storage.Store
	logger       infra.Logger
	toasts       toast.Sink
	now          func() time.Time
	storeTimeout time.Duration

	// opMu serializes the user-level operations (login, register, update,
	// logout, restore).
	opMu sync.Mutex
	// slotMu is the single writer lock of the token slot. It is held only
	// for the write itself, never across a backend call.
	slotMu sync.Mutex

	mu      sync.RWMutex
	token   string
	user    *domain.User
	subs    map[int]func(Event)
	nextSub int

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a session bound to store. The returned manager's API() is the
// credential-bound client every other manager should use.
func New(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, errors.New("session: api client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	m := &Manager{
		store:        opts.Store,
		logger:       infra.Component(opts.Logger, "session"),
		toasts:       toast.OrDiscard(opts.Toasts),
		now:          opts.Now,
		storeTimeout: opts.StoreTimeout,
		subs:         make(map[int]func(Event)),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.storeTimeout <= 0 {
		m.storeTimeout = 5 * time.Second
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	m.client = opts.Client.WithCredentials(m)
	return m, nil
}

// API returns the client bound to this session's credentials.
func (m *Manager) API() *api.Client { return m.client }

// Token implements api.Credentials.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Unauthorized implements api.Credentials. The session is torn down only if
// token is still the current one.
func (m *Manager) Unauthorized(token string) {
	if u, ok := m.clearIf(token); ok {
		m.logger.Info().Str("user_id", u.ID).Msg("token rejected by backend, session cleared")
		m.toasts.Show(toast.Toast{Level: toast.LevelWarning, Title: "Signed out", Message: "Your session has expired. Please sign in again."})
		m.emit(Event{Kind: EventUnauthorized, User: u})
	}
}

// Blocked implements api.Credentials.
func (m *Manager) Blocked(token string) {
	if u, ok := m.clearIf(token); ok {
		u.Status = domain.UserStatusBlocked
		m.logger.Warn().Str("user_id", u.ID).Msg("account blocked, session cleared")
		m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: "Account blocked", Message: "Your account has been blocked. Contact an administrator."})
		m.emit(Event{Kind: EventBlocked, User: u})
	}
}

// CurrentUser returns a copy of the identity.
func (m *Manager) CurrentUser() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return domain.User{}, false
	}
	return *m.user, true
}

func (m *Manager) Authenticated() bool {
	_, ok := m.CurrentUser()
	return ok
}

func (m *Manager) IsAdmin() bool     { return m.hasRole(domain.UserRoleAdmin) }
func (m *Manager) IsVolunteer() bool { return m.hasRole(domain.UserRoleVolunteer) }
func (m *Manager) IsDonor() bool     { return m.hasRole(domain.UserRoleDonor) }

func (m *Manager) IsActive() bool {
	u, ok := m.CurrentUser()
	return ok && u.IsActive()
}

func (m *Manager) hasRole(role domain.UserRole) bool {
	u, ok := m.CurrentUser()
	return ok && u.Role == role
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the goroutine that caused the transition and
// must not block.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Login authenticates against the backend and persists the issued token.
func (m *Manager) Login(ctx context.Context, email, password string) (*domain.User, error) {
	if err := validation.Login(email, password); err != nil {
		return nil, m.fail("Sign in failed", err)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	res, err := m.client.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, m.fail("Sign in failed", authFailure(err))
	}
	u, err := m.begin(ctx, res)
	if err != nil {
		return nil, m.fail("Sign in failed", err)
	}
	m.logger.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("signed in")
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Signed in", Message: "Welcome back, " + displayName(u) + "."})
	m.emit(Event{Kind: EventLogin, User: u})
	return &u, nil
}

// Register creates a donor account and signs it in.
func (m *Manager) Register(ctx context.Context, profile domain.Profile) (*domain.User, error) {
	if err := validation.Registration(profile); err != nil {
		return nil, m.fail("Registration failed", err)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	res, err := m.client.Register(ctx, profile)
	if err != nil {
		return nil, m.fail("Registration failed", authFailure(err))
	}
	u, err := m.begin(ctx, res)
	if err != nil {
		return nil, m.fail("Registration failed", err)
	}
	m.logger.Info().Str("user_id", u.ID).Msg("registered")
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Welcome", Message: "Your account is ready, " + displayName(u) + "."})
	m.emit(Event{Kind: EventLogin, User: u})
	return &u, nil
}

// begin decodes a freshly issued token and installs it with the identity.
func (m *Manager) begin(ctx context.Context, res *api.AuthResult) (domain.User, error) {
	claims, err := decodeToken(res.Token)
	if err != nil || claims.Expired(m.now()) {
		return domain.User{}, &domain.AuthError{Message: "The server issued an unusable token.", Err: domain.ErrInvalidToken}
	}
	u := mergeIdentity(claims.User(), res.User)
	m.install(ctx, res.Token, u)
	return u, nil
}

// Logout clears the token slot and the identity. It cannot fail; a storage
// error is logged and the in-memory session is cleared regardless.
func (m *Manager) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	u, was := m.clear(ctx)
	if was {
		m.logger.Info().Str("user_id", u.ID).Msg("signed out")
		m.emit(Event{Kind: EventLogout, User: u})
	}
}

// Restore loads the persisted token. An absent, undecodable or expired token
// leaves the session unauthenticated and is removed from storage. A usable
// token installs the identity from its claims immediately and re-validates
// it with the backend in the background; see Wait.
func (m *Manager) Restore(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	raw, err := m.store.Get(ctx, storage.KeyToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		m.clear(ctx)
		return nil
	}
	claims, err := decodeToken(token)
	if err != nil {
		m.logger.Debug().Err(err).Msg("stored token is not decodable, clearing")
		m.clear(ctx)
		return nil
	}
	u := claims.User()
	if claims.Expired(m.now()) {
		m.logger.Info().Str("user_id", u.ID).Msg("stored token expired, clearing")
		m.clear(ctx)
		m.emit(Event{Kind: EventExpired, User: u})
		return nil
	}

	m.slotMu.Lock()
	m.mu.Lock()
	m.token = token
	m.user = &u
	m.mu.Unlock()
	m.slotMu.Unlock()

	m.emit(Event{Kind: EventLogin, User: u, Restored: true})
	m.revalidate(token)
	return nil
}

func (m *Manager) revalidate(token string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		verified, err := m.client.Verify(m.bgCtx)
		if err != nil {
			if m.bgCtx.Err() != nil {
				return
			}
			if u, ok := m.clearIf(token); ok {
				m.logger.Info().Err(err).Str("user_id", u.ID).Msg("session re-validation failed, signed out")
				m.emit(Event{Kind: EventLogout, User: u})
			}
			return
		}
		if u, ok := m.mergeIf(token, *verified); ok {
			m.emit(Event{Kind: EventUpdated, User: u})
		}
	}()
}

// UpdateProfile sends patch to the backend and merges the response into the
// identity. A re-issued token replaces the stored one.
func (m *Manager) UpdateProfile(ctx context.Context, patch domain.Profile) (*domain.User, error) {
	if !m.Authenticated() {
		return nil, m.fail("Profile not saved", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	if err := validation.ProfilePatch(patch); err != nil {
		return nil, m.fail("Profile not saved", err)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	token := m.Token()
	res, err := m.client.UpdateProfile(ctx, patch)
	if err != nil {
		return nil, m.fail("Profile not saved", err)
	}
	var u domain.User
	if res.Token != "" && res.Token != token {
		if u, err = m.begin(ctx, res); err != nil {
			return nil, m.fail("Profile not saved", err)
		}
	} else {
		merged, ok := m.mergeIf(token, res.User)
		if !ok {
			return nil, m.fail("Profile not saved", &domain.AuthError{Err: domain.ErrUnauthenticated})
		}
		u = merged
	}
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Profile saved"})
	m.emit(Event{Kind: EventUpdated, User: u})
	return &u, nil
}

// Wait blocks until background re-validation has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// Close cancels background work and waits for it. The session state is left
// as is.
func (m *Manager) Close() {
	m.bgCancel()
	m.wg.Wait()
}

func (m *Manager) install(ctx context.Context, token string, u domain.User) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if err := m.store.Set(ctx, storage.KeyToken, []byte(token)); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist token")
	}
	m.mu.Lock()
	m.token = token
	m.user = &u
	m.mu.Unlock()
}

func (m *Manager) clear(ctx context.Context) (domain.User, bool) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.clearLocked(ctx)
}

// clearIf tears the session down only if token is still installed.
func (m *Manager) clearIf(token string) (domain.User, bool) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if token == "" || m.Token() != token {
		return domain.User{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	return m.clearLocked(ctx)
}

func (m *Manager) clearLocked(ctx context.Context) (domain.User, bool) {
	if err := m.store.Delete(ctx, storage.KeyToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn().Err(err).Msg("failed to clear stored token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.user
	m.token = ""
	m.user = nil
	if prev == nil {
		return domain.User{}, false
	}
	return *prev, true
}

// mergeIf folds profile into the identity if token is still installed.
func (m *Manager) mergeIf(token string, profile domain.User) (domain.User, bool) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil || m.token != token {
		return domain.User{}, false
	}
	merged := mergeIdentity(*m.user, profile)
	m.user = &merged
	return merged, true
}

func (m *Manager) fail(title string, err error) error {
	m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: title, Message: domain.UserMessage(err)})
	return err
}

// authFailure maps a transport failure on a credential exchange to an
// AuthError; other errors pass through.
func authFailure(err error) error {
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		return &domain.AuthError{Message: "Unable to reach the server. Check your connection.", Err: netErr}
	}
	return err
}

// decodeToken reads the claims without verifying the signature; the backend
// verifies on every call.
func decodeToken(token string) (domain.Claims, error) {
	var claims domain.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return domain.Claims{}, err
	}
	if claims.User().ID == "" {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	return claims, nil
}

// mergeIdentity overlays the non-empty fields of profile onto base.
func mergeIdentity(base, profile domain.User) domain.User {
	out := base
	if profile.ID != "" && out.ID == "" {
		out.ID = profile.ID
	}
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&out.Email, profile.Email)
	overlay(&out.Name, profile.Name)
	overlay(&out.BloodGroup, profile.BloodGroup)
	overlay(&out.Phone, profile.Phone)
	overlay(&out.District, profile.District)
	overlay(&out.Upazila, profile.Upazila)
	overlay(&out.Avatar, profile.Avatar)
	if profile.Role != "" {
		out.Role = profile.Role
	}
	if profile.Status != "" {
		out.Status = profile.Status
	}
	if !profile.CreatedAt.IsZero() {
		out.CreatedAt = profile.CreatedAt
	}
	if !profile.UpdatedAt.IsZero() {
		out.UpdatedAt = profile.UpdatedAt
	}
	return out
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
