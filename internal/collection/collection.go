// Package collection keeps a server-backed, paginated list together with a
// local filter/search/sort projection of the last fetched page.
package collection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/toast"
)

// Record is what a collection holds.
type Record interface {
	Key() string
	StatusKey() string
	// Value returns the field's value by its wire name, or nil.
	Value(field string) any
	SearchText() string
}

// Lister fetches one page of records.
type Lister[T Record] interface {
	List(ctx context.Context, q domain.Query) (domain.Page[T], error)
}

// ListFunc adapts a function to Lister.
type ListFunc[T Record] func(ctx context.Context, q domain.Query) (domain.Page[T], error)

func (f ListFunc[T]) List(ctx context.Context, q domain.Query) (domain.Page[T], error) {
	return f(ctx, q)
}

// Options configures a Manager.
type Options struct {
	// Name is the plural noun used in notices, e.g. "donation requests".
	Name     string
	Auth     domain.Authenticator
	Toasts   toast.Sink
	Logger   *infra.Logger
	Limit    int
	Debounce time.Duration
	Filters  domain.Filters
}

// State is a snapshot of a Manager.
type State[T Record] struct {
	// Items is the projection of Fetched.
	Items      []T
	Fetched    []T
	Pagination domain.Pagination
	// Counts holds per-status totals. They are replaced by the server's
	// figures on every fetch and adjusted by delta on every mutation in
	// between, so they may drift until the next fetch.
	Counts  map[string]int
	Query   domain.Query
	Loading bool
	Err     error
}

// Manager is safe for concurrent use. Responses that resolve after a newer
// fetch was issued, or after Close, are discarded.
type Manager[T Record] struct {
	lister   Lister[T]
	name     string
	auth     domain.Authenticator
	toasts   toast.Sink
	logger   infra.Logger
	debounce time.Duration

	bgCtx    context.Context
	bgCancel context.CancelFunc

	mu         sync.Mutex
	seq        uint64
	closed     bool
	query      domain.Query
	fetched    []T
	items      []T
	pagination domain.Pagination
	counts     map[string]int
	loading    bool
	err        error
	timer      *time.Timer

	// gen numbers confirmed mutations. While a fetch is in flight they are
	// journaled so its response can be rebased onto them.
	gen      uint64
	inflight int
	journal  []edit[T]
}

type editKind int

const (
	editCreated editKind = iota
	editUpdated
	editRemoved
)

// edit is one confirmed mutation of the local page.
type edit[T Record] struct {
	gen  uint64
	kind editKind
	key  string
	rec  T
}

// New constructs a Manager over lister. Nothing is fetched until Fetch or a
// query setter is called.
func New[T Record](lister Lister[T], opts Options) *Manager[T] {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 400 * time.Millisecond
	}
	name := opts.Name
	if name == "" {
		name = "records"
	}
	m := &Manager[T]{
		lister:   lister,
		name:     name,
		auth:     opts.Auth,
		toasts:   toast.OrDiscard(opts.Toasts),
		logger:   infra.Component(opts.Logger, "collection").With().Str("collection", name).Logger(),
		debounce: debounce,
		query:    domain.Query{Page: 1, Limit: limit, Filters: opts.Filters.Clone()},
		counts:   map[string]int{},
		items:    []T{},
		fetched:  []T{},
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	return m
}

// Snapshot returns a copy of the current state.
func (m *Manager[T]) Snapshot() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	q := m.query
	q.Filters = q.Filters.Clone()
	return State[T]{
		Items:      append([]T(nil), m.items...),
		Fetched:    append([]T(nil), m.fetched...),
		Pagination: m.pagination,
		Counts:     counts,
		Query:      q,
		Loading:    m.loading,
		Err:        m.err,
	}
}

// Items returns the current projection.
func (m *Manager[T]) Items() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]T(nil), m.items...)
}

// Find returns the fetched record with key id.
func (m *Manager[T]) Find(id string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.fetched[i], true
	}
	var zero T
	return zero, false
}

// Count returns the aggregate for status.
func (m *Manager[T]) Count(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[status]
}

// Fetch loads the page described by the current query. A response that has
// been superseded by a newer Fetch is dropped and Fetch returns nil.
func (m *Manager[T]) Fetch(ctx context.Context) error {
	if err := m.requireSession(); err != nil {
		return m.fail("Could not load "+m.name, err)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	m.seq++
	seq := m.seq
	gen := m.gen
	m.inflight++
	q := m.query
	q.Filters = q.Filters.Clone()
	m.loading = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.seq == seq || m.closed {
			m.loading = false
		}
		m.inflight--
		if m.inflight == 0 {
			m.journal = nil
		}
		m.mu.Unlock()
	}()

	page, err := m.lister.List(ctx, q)

	m.mu.Lock()
	if m.closed || seq != m.seq {
		m.mu.Unlock()
		m.logger.Debug().Uint64("seq", seq).Msg("discarding stale response")
		return nil
	}
	if err != nil {
		m.err = err
		m.mu.Unlock()
		return m.fail("Could not load "+m.name, err)
	}
	m.err = nil
	m.fetched = append([]T(nil), page.Items...)
	m.pagination = page.Pagination
	if m.pagination.Page == 0 {
		m.pagination.Page = q.Page
	}
	if m.pagination.Limit == 0 {
		m.pagination.Limit = q.Limit
	}
	if page.Stats != nil {
		m.counts = make(map[string]int, len(page.Stats))
		for k, v := range page.Stats {
			m.counts[k] = v
		}
	} else {
		m.counts = make(map[string]int)
		for _, it := range m.fetched {
			m.counts[it.StatusKey()]++
		}
	}
	// The page may predate mutations confirmed while it was in flight.
	for _, e := range m.journal {
		if e.gen > gen {
			m.applyLocked(e)
		}
	}
	m.projectLocked()
	m.mu.Unlock()
	return nil
}

// SetQuery replaces the whole query and fetches. A change of filters or
// search starts over at page 1.
func (m *Manager[T]) SetQuery(ctx context.Context, q domain.Query) error {
	m.mu.Lock()
	if q.Page < 1 || !q.Filters.Equal(m.query.Filters) || strings.TrimSpace(q.Search) != strings.TrimSpace(m.query.Search) {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = m.query.Limit
	}
	q.Filters = q.Filters.Clone()
	m.query = q
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// SetFilter sets the accepted values of field. An unchanged value is a
// no-op; a change resets to page 1 and fetches. No values clears the field.
func (m *Manager[T]) SetFilter(ctx context.Context, field string, values ...string) error {
	m.mu.Lock()
	next := m.query.Filters.Clone()
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		delete(next, field)
	} else {
		next[field] = clean
	}
	if next.Equal(m.query.Filters) {
		m.mu.Unlock()
		return nil
	}
	m.query.Filters = next
	m.query.Page = 1
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// ClearFilters removes every filter and the search text.
func (m *Manager[T]) ClearFilters(ctx context.Context) error {
	m.mu.Lock()
	if m.query.Filters.Equal(nil) && m.query.Search == "" {
		m.mu.Unlock()
		return nil
	}
	m.query.Filters = domain.Filters{}
	m.query.Search = ""
	m.query.Page = 1
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// SetSearch sets the free-text search immediately.
func (m *Manager[T]) SetSearch(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if text == m.query.Search {
		m.mu.Unlock()
		return nil
	}
	m.query.Search = text
	m.query.Page = 1
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// SetSearchDebounced applies text once no further call has arrived for the
// debounce interval. The pending timer is owned by the manager and stopped
// by Close.
func (m *Manager[T]) SetSearchDebounced(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		if m.timer != t {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		_ = m.SetSearch(m.bgCtx, text)
	})
	m.timer = t
}

// SetPage moves to page n and fetches.
func (m *Manager[T]) SetPage(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.query.Page = n
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// SetLimit changes the page size, returns to page 1 and fetches.
func (m *Manager[T]) SetLimit(ctx context.Context, n int) error {
	if n < 1 {
		return m.fail("Could not load "+m.name, &domain.ValidationError{Fields: map[string]string{"limit": "must be at least 1"}})
	}
	m.mu.Lock()
	m.query.Limit = n
	m.query.Page = 1
	m.mu.Unlock()
	return m.Fetch(ctx)
}

// SetSort re-orders the current page locally without fetching. Later
// fetches send the sort to the backend.
func (m *Manager[T]) SetSort(field string, order domain.SortOrder) {
	if order != domain.SortDesc {
		order = domain.SortAsc
	}
	m.mu.Lock()
	m.query.SortField = field
	m.query.SortOrder = order
	m.projectLocked()
	m.mu.Unlock()
}

// Create runs call and, on success, adds the returned record to the local
// page and bumps its status count. Nothing changes locally on failure.
func (m *Manager[T]) Create(ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := m.requireSession(); err != nil {
		return zero, m.fail("Could not create", err)
	}
	rec, err := call(ctx)
	if err != nil {
		return zero, m.fail("Could not create", err)
	}
	m.commit(edit[T]{kind: editCreated, key: rec.Key(), rec: rec})
	return rec, nil
}

// Update runs call and replaces the local copy of id with its result.
func (m *Manager[T]) Update(ctx context.Context, id string, call func(context.Context) (T, error)) (T, error) {
	return m.Apply(ctx, id, nil, call)
}

// Apply is Update with a precondition. check runs against the local copy of
// id, when there is one, before any network call; a failing check aborts
// the operation. check is a shortcut only: the backend stays the authority.
func (m *Manager[T]) Apply(ctx context.Context, id string, check func(T) error, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := m.requireSession(); err != nil {
		return zero, m.fail("Could not update", err)
	}
	if check != nil {
		if cur, ok := m.Find(id); ok {
			if err := check(cur); err != nil {
				return zero, m.fail("Not allowed", err)
			}
		}
	}
	rec, err := call(ctx)
	if err != nil {
		return zero, m.fail("Could not update", err)
	}
	m.commit(edit[T]{kind: editUpdated, key: id, rec: rec})
	return rec, nil
}

// Remove runs call and drops id from the local page.
func (m *Manager[T]) Remove(ctx context.Context, id string, call func(context.Context) error) error {
	if err := m.requireSession(); err != nil {
		return m.fail("Could not delete", err)
	}
	if err := call(ctx); err != nil {
		return m.fail("Could not delete", err)
	}
	m.commit(edit[T]{kind: editRemoved, key: id})
	return nil
}

// commit applies a confirmed mutation and journals it for fetches still in
// flight.
func (m *Manager[T]) commit(e edit[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.gen++
	e.gen = m.gen
	if m.inflight > 0 {
		m.journal = append(m.journal, e)
	}
	m.applyLocked(e)
	m.projectLocked()
}

// applyLocked is idempotent: replaying an edit over a page that already
// reflects it changes nothing.
func (m *Manager[T]) applyLocked(e edit[T]) {
	i := m.indexLocked(e.key)
	switch e.kind {
	case editCreated:
		if i >= 0 {
			m.adjustLocked(m.fetched[i].StatusKey(), -1)
			m.fetched[i] = e.rec
		} else {
			m.fetched = append([]T{e.rec}, m.fetched...)
			m.pagination.TotalItems++
		}
		m.adjustLocked(e.rec.StatusKey(), 1)
	case editUpdated:
		if i >= 0 {
			m.adjustLocked(m.fetched[i].StatusKey(), -1)
			m.adjustLocked(e.rec.StatusKey(), 1)
			m.fetched[i] = e.rec
		}
	case editRemoved:
		if i >= 0 {
			m.adjustLocked(m.fetched[i].StatusKey(), -1)
			m.fetched = append(m.fetched[:i:i], m.fetched[i+1:]...)
			if m.pagination.TotalItems > 0 {
				m.pagination.TotalItems--
			}
		}
	}
}

// Close stops the debounce timer and turns every later resolution into a
// no-op.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.loading = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.bgCancel()
}

func (m *Manager[T]) requireSession() error {
	if m.auth == nil || !m.auth.Authenticated() {
		return &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	return nil
}

func (m *Manager[T]) fail(title string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	m.logger.Warn().Err(err).Msg(title)
	m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: title, Message: domain.UserMessage(err)})
	return err
}

func (m *Manager[T]) indexLocked(id string) int {
	for i, it := range m.fetched {
		if it.Key() == id {
			return i
		}
	}
	return -1
}

func (m *Manager[T]) adjustLocked(status string, delta int) {
	n := m.counts[status] + delta
	if n < 0 {
		n = 0
	}
	m.counts[status] = n
}

func (m *Manager[T]) projectLocked() {
	m.items = Project(m.fetched, m.query.Filters, m.query.Search, m.query.SortField, m.query.SortOrder)
}
