// Package notify owns the notification list of the signed-in user: the
// polling task, read/delete operations, and pop-up filtering by local
// preferences.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/session"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
	"lifeline/internal/validation"
)

// DefaultInterval is the polling period when Options.Interval is unset.
const DefaultInterval = 30 * time.Second

// Session is the part of the session manager the notification manager uses.
type Session interface {
	domain.Authenticator
	API() *api.Client
	Subscribe(func(session.Event)) (unsubscribe func())
}

type Options struct {
	Store    storage.Store
	Toasts   toast.Sink
	Logger   *infra.Logger
	Interval time.Duration
	Now      func() time.Time
	// Manual disables the poll task; the caller drives Fetch.
	Manual bool
}

// Manager is safe for concurrent use. Polling runs while the session is
// authenticated; Close stops it and waits for it.
type Manager struct {
	sess     Session
	client   *api.Client
	store    storage.Store
	toasts   toast.Sink
	logger   infra.Logger
	interval time.Duration
	now      func() time.Time
	manual   bool

	mu     sync.Mutex
	items  []domain.Notification
	unread int
	seen   map[string]struct{}
	primed bool
	seq    uint64
	prefs  Preferences
	sound  bool

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	closed     bool

	bgCtx       context.Context
	bgCancel    context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// New loads the persisted preferences and starts following sess. Polling
// starts right away when sess is already authenticated.
func New(ctx context.Context, sess Session, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("notify: store is required")
	}
	logger := infra.Component(opts.Logger, "notify")
	prefs, sound := loadSettings(ctx, opts.Store, logger)
	m := &Manager{
		sess:     sess,
		client:   sess.API(),
		store:    opts.Store,
		toasts:   toast.OrDiscard(opts.Toasts),
		logger:   logger,
		interval: opts.Interval,
		now:      opts.Now,
		seen:     make(map[string]struct{}),
		prefs:    prefs,
		sound:    sound,
		manual:   opts.Manual,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	m.unsubscribe = sess.Subscribe(m.onSession)
	if sess.Authenticated() {
		m.startPolling()
	}
	return m, nil
}

func (m *Manager) onSession(ev session.Event) {
	switch {
	case ev.Kind == session.EventLogin:
		m.stopPolling()
		m.reset()
		m.startPolling()
	case ev.Ends():
		m.stopPolling()
		m.reset()
	}
}

// startPolling launches the poll task unless one is running or the manager
// is closed.
func (m *Manager) startPolling() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if m.manual || m.closed || m.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.bgCtx)
	m.pollCancel = cancel
	m.wg.Add(1)
	go m.poll(ctx)
	m.logger.Debug().Dur("interval", m.interval).Msg("polling started")
}

// stopPolling cancels the poll task without waiting for it, so it is safe to
// call from the poll goroutine itself (a 401 seen by a poll ends the
// session, which lands here).
func (m *Manager) stopPolling() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
		m.logger.Debug().Msg("polling stopped")
	}
}

// Polling reports whether the poll task is running.
func (m *Manager) Polling() bool {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.pollCancel != nil
}

func (m *Manager) poll(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.fetch(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("notification poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.items = nil
	m.unread = 0
	m.seen = make(map[string]struct{})
	m.primed = false
}

// Close stops polling, detaches from the session and waits for the poll
// goroutine to exit. In-flight responses are discarded.
func (m *Manager) Close() {
	m.pollMu.Lock()
	m.closed = true
	m.pollMu.Unlock()
	m.unsubscribe()
	m.stopPolling()
	m.bgCancel()
	m.wg.Wait()
	m.mu.Lock()
	m.seq++
	m.mu.Unlock()
}

// Items returns a copy of the current list, newest first as served.
func (m *Manager) Items() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.items))
	copy(out, m.items)
	return out
}

// Unread is the number of unread notifications in Items.
func (m *Manager) Unread() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}

// Fetch reloads the list. Notifications that were not in any earlier
// response and are unread pop up, subject to the preferences; the first
// load after sign-in only marks everything as seen.
func (m *Manager) Fetch(ctx context.Context) error {
	if err := m.fetch(ctx); err != nil {
		return m.fail("Could not load notifications", err)
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context) error {
	if !m.sess.Authenticated() {
		return &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	list, err := m.client.ListNotifications(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if seq != m.seq {
		m.mu.Unlock()
		return nil
	}
	var fresh []domain.Notification
	for _, n := range list {
		if _, ok := m.seen[n.ID]; ok {
			continue
		}
		m.seen[n.ID] = struct{}{}
		if m.primed && !n.Read {
			fresh = append(fresh, n)
		}
	}
	m.primed = true
	m.items = list
	m.unread = domain.CountUnread(m.items)
	prefs, sound := m.prefs, m.sound
	m.mu.Unlock()

	now := m.now()
	for _, n := range fresh {
		if !prefs.Allows(n, now) {
			m.logger.Debug().Str("notification_id", n.ID).Str("type", string(n.Type)).Msg("pop-up suppressed")
			continue
		}
		m.toasts.Show(toast.Toast{Level: toast.LevelInfo, Title: n.Title, Message: n.Message, Sound: sound})
	}
	return nil
}

// MarkAsRead marks one notification read on the backend, then locally.
func (m *Manager) MarkAsRead(ctx context.Context, id string) error {
	if err := m.mutate(ctx, func(ctx context.Context) error { return m.client.MarkNotificationRead(ctx, id) }); err != nil {
		return m.fail("Could not mark as read", err)
	}
	m.update(func(items []domain.Notification) []domain.Notification {
		at := m.now()
		for i := range items {
			if items[i].ID == id && !items[i].Read {
				items[i].Read = true
				items[i].ReadAt = &at
			}
		}
		return items
	})
	return nil
}

func (m *Manager) MarkAllAsRead(ctx context.Context) error {
	if err := m.mutate(ctx, m.client.MarkAllNotificationsRead); err != nil {
		return m.fail("Could not mark all as read", err)
	}
	m.update(func(items []domain.Notification) []domain.Notification {
		at := m.now()
		for i := range items {
			if !items[i].Read {
				items[i].Read = true
				items[i].ReadAt = &at
			}
		}
		return items
	})
	return nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.mutate(ctx, func(ctx context.Context) error { return m.client.DeleteNotification(ctx, id) }); err != nil {
		return m.fail("Could not delete notification", err)
	}
	m.update(func(items []domain.Notification) []domain.Notification {
		out := items[:0]
		for _, n := range items {
			if n.ID != id {
				out = append(out, n)
			}
		}
		return out
	})
	return nil
}

func (m *Manager) DeleteAll(ctx context.Context) error {
	if err := m.mutate(ctx, m.client.DeleteAllNotifications); err != nil {
		return m.fail("Could not delete notifications", err)
	}
	m.update(func([]domain.Notification) []domain.Notification { return []domain.Notification{} })
	return nil
}

// Create sends a notification to a user, a role, or everyone. Admins only.
func (m *Manager) Create(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	me, ok := m.sess.CurrentUser()
	if !ok {
		return nil, m.fail("Not sent", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	if me.Role != domain.UserRoleAdmin {
		return nil, m.fail("Not sent", &domain.EligibilityError{Reason: "Only administrators can send notifications."})
	}
	if err := validation.Notification(in); err != nil {
		return nil, m.fail("Not sent", err)
	}
	n, err := m.client.CreateNotification(ctx, in)
	if err != nil {
		return nil, m.fail("Not sent", err)
	}
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Notification sent"})
	return n, nil
}

func (m *Manager) mutate(ctx context.Context, call func(context.Context) error) error {
	if !m.sess.Authenticated() {
		return &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	return call(ctx)
}

// update edits the list in place and recounts unread from the result. It
// bumps seq so an older poll in flight cannot undo the change.
func (m *Manager) update(fn func([]domain.Notification) []domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.items = fn(m.items)
	m.unread = domain.CountUnread(m.items)
}

// Preferences returns a copy of the current preferences.
func (m *Manager) Preferences() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs.clone()
}

// SoundEnabled reports whether pop-ups ask for the alert sound.
func (m *Manager) SoundEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sound
}

// SetPreferences validates and persists p. It does not talk to the backend.
func (m *Manager) SetPreferences(ctx context.Context, p Preferences) error {
	if err := p.QuietHours.validate(); err != nil {
		return m.fail("Preferences not saved", err)
	}
	p = p.clone()
	if err := storage.SetJSON(ctx, m.store, storage.KeyNotificationPreferences, p); err != nil {
		return m.fail("Preferences not saved", err)
	}
	m.mu.Lock()
	m.prefs = p
	m.mu.Unlock()
	return nil
}

// SetChannel toggles pop-ups for one notification type.
func (m *Manager) SetChannel(ctx context.Context, t domain.NotificationType, enabled bool) error {
	p := m.Preferences()
	p.Channels[t] = enabled
	return m.SetPreferences(ctx, p)
}

func (m *Manager) SetQuietHours(ctx context.Context, q QuietHours) error {
	p := m.Preferences()
	p.QuietHours = q
	return m.SetPreferences(ctx, p)
}

func (m *Manager) SetSound(ctx context.Context, enabled bool) error {
	if err := storage.SetJSON(ctx, m.store, storage.KeySoundEnabled, enabled); err != nil {
		return m.fail("Preferences not saved", err)
	}
	m.mu.Lock()
	m.sound = enabled
	m.mu.Unlock()
	return nil
}

// syncPayload is what SyncSettings sends.
type syncPayload struct {
	Preferences
	Sound bool `json:"sound"`
}

// SyncSettings pushes the local preferences to the backend. This is the
// only path by which they leave the device.
func (m *Manager) SyncSettings(ctx context.Context) error {
	if !m.sess.Authenticated() {
		return m.fail("Preferences not synced", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	m.mu.Lock()
	payload := syncPayload{Preferences: m.prefs.clone(), Sound: m.sound}
	m.mu.Unlock()
	if err := m.client.SyncNotificationPreferences(ctx, payload); err != nil {
		return m.fail("Preferences not synced", err)
	}
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Preferences synced"})
	return nil
}

func (m *Manager) fail(title string, err error) error {
	if !errors.Is(err, context.Canceled) {
		m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: title, Message: domain.UserMessage(err)})
	}
	return err
}
