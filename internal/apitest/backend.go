// Package apitest is an in-memory implementation of the lifeline REST
// backend. The manager tests run against it and cmd/mockapi serves it for
// local demos.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/middleware"
)

// DefaultSecret signs tokens when Options.Secret is empty.
const DefaultSecret = "lifeline-mock-secret"

// Options configures a Backend.
type Options struct {
	Secret    string
	TokenTTL  time.Duration
	Logger    *infra.Logger
	Locale    string
	RateLimit int
	Now       func() time.Time
}

type account struct {
	user     domain.User
	password []byte
}

type fault struct {
	status  int
	message string
	body    map[string]any
}

// Backend holds all server-side state behind a mutex.
type Backend struct {
	secret   string
	ttl      time.Duration
	now      func() time.Time
	logger   infra.Logger
	locale   string
	limit    int
	handler  http.Handler
	mu       sync.Mutex
	accounts map[string]*account
	byEmail  map[string]string
	requests map[string]*domain.DonationRequest
	notes    map[string][]*domain.Notification
	prefs    map[string]json.RawMessage
	activity map[string][]domain.UserActivity
	faults   map[string][]fault
	hits     map[string]int
	gates    map[string]chan struct{}
}

// New constructs an empty backend.
func New(opts Options) *Backend {
	b := &Backend{
		secret:   opts.Secret,
		ttl:      opts.TokenTTL,
		now:      opts.Now,
		logger:   infra.Component(opts.Logger, "mockapi"),
		locale:   opts.Locale,
		limit:    opts.RateLimit,
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		requests: make(map[string]*domain.DonationRequest),
		notes:    make(map[string][]*domain.Notification),
		prefs:    make(map[string]json.RawMessage),
		activity: make(map[string][]domain.UserActivity),
		faults:   make(map[string][]fault),
		hits:     make(map[string]int),
		gates:    make(map[string]chan struct{}),
	}
	if b.secret == "" {
		b.secret = DefaultSecret
	}
	if b.ttl <= 0 {
		b.ttl = 24 * time.Hour
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.handler = b.routes()
	return b
}

// Handler returns the routed HTTP handler.
func (b *Backend) Handler() http.Handler { return b.handler }

// Start serves b on a loopback listener until the test ends and returns the
// base URL.
func (b *Backend) Start(t interface{ Cleanup(func()) }) string {
	srv := httptest.NewServer(b.handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

// Secret returns the signing secret.
func (b *Backend) Secret() string { return b.secret }

// AddUser registers an account with password and returns the stored user.
// Empty ID, role and status get defaults.
func (b *Backend) AddUser(u domain.User, password string) domain.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.UserRoleDonor
	}
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := b.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	b.accounts[u.ID] = &account{user: u, password: hash}
	b.byEmail[u.Email] = u.ID
	return u
}

// User returns the stored account.
func (b *Backend) User(id string) (domain.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[id]
	if !ok {
		return domain.User{}, false
	}
	return acc.user, true
}

// UserByEmail looks an account up by its (case-insensitive) email.
func (b *Backend) UserByEmail(email string) (domain.User, bool) {
	b.mu.Lock()
	id, ok := b.byEmail[strings.ToLower(strings.TrimSpace(email))]
	b.mu.Unlock()
	if !ok {
		return domain.User{}, false
	}
	return b.User(id)
}

// SetUserStatus changes an account's status behind the client's back.
func (b *Backend) SetUserStatus(id string, status domain.UserStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[id]; ok {
		acc.user.Status = status
		acc.user.UpdatedAt = b.now()
	}
}

// AddRequest stores a donation request. Empty ID and status get defaults.
func (b *Backend) AddRequest(r domain.DonationRequest) domain.DonationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.RequestStatusPending
	}
	now := b.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if acc, ok := b.accounts[r.RequesterID]; ok {
		r.RequesterName = acc.user.Name
		r.RequesterEmail = acc.user.Email
	}
	stored := r
	b.requests[r.ID] = &stored
	return r
}

// Request returns the stored request.
func (b *Backend) Request(id string) (domain.DonationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.requests[id]
	if !ok {
		return domain.DonationRequest{}, false
	}
	return *r, true
}

// Notify appends a notification for userID and returns it.
func (b *Backend) Notify(userID string, n domain.Notification) domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifyLocked(userID, n)
}

func (b *Backend) notifyLocked(userID string, n domain.Notification) domain.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = b.now()
	}
	if n.Type == "" {
		n.Type = domain.NotificationSystem
	}
	stored := n
	b.notes[userID] = append(b.notes[userID], &stored)
	return n
}

// Notifications returns userID's notifications, newest first.
func (b *Backend) Notifications(userID string) []domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notificationsLocked(userID)
}

func (b *Backend) notificationsLocked(userID string) []domain.Notification {
	list := b.notes[userID]
	out := make([]domain.Notification, 0, len(list))
	for _, n := range list {
		out = append(out, *n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Preferences returns the last preferences userID synced, if any.
func (b *Backend) Preferences(userID string) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prefs[userID]
	return p, ok
}

// IssueToken signs a token for the stored account id valid for ttl.
func (b *Backend) IssueToken(id string, ttl time.Duration) string {
	u, ok := b.User(id)
	if !ok {
		u = domain.User{ID: id}
	}
	tok, err := middleware.SignJWT(b.secret, u, ttl, b.now())
	if err != nil {
		panic(err)
	}
	return tok
}

// FailNext makes the next call matching route ("GET /donation-requests",
// "PATCH /donation-requests/{id}/assign-donor") answer status with message.
func (b *Backend) FailNext(route string, status int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[route] = append(b.faults[route], fault{status: status, message: message})
}

// Hold blocks calls matching route until the returned release is called.
func (b *Backend) Hold(route string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[route] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gates[route] == ch {
				delete(b.gates, route)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Hits reports how many calls matched route.
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

func (b *Backend) lookupAccount(id string) (domain.User, bool) {
	return b.User(id)
}

func (b *Backend) recordActivity(userID, action, detail string) {
	b.activity[userID] = append(b.activity[userID], domain.UserActivity{
		ID:        uuid.NewString(),
		Action:    action,
		Detail:    detail,
		CreatedAt: b.now(),
	})
}
