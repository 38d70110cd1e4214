package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lifeline/internal/domain"
	"lifeline/internal/toast"
)

type authStub bool

func (a authStub) Authenticated() bool              { return bool(a) }
func (a authStub) CurrentUser() (domain.User, bool) { return domain.User{ID: "me"}, bool(a) }

// fakeLister serves pages from a fixed dataset, filtering server-side the
// way the backend does. Calls can be parked with hold.
type fakeLister struct {
	mu      sync.Mutex
	data    []domain.DonationRequest
	stats   map[string]int
	err     error
	queries []domain.Query
	gates   []chan struct{}
}

func (f *fakeLister) List(ctx context.Context, q domain.Query) (domain.Page[domain.DonationRequest], error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	var gate chan struct{}
	if len(f.gates) > 0 {
		gate = f.gates[0]
		f.gates = f.gates[1:]
	}
	data := append([]domain.DonationRequest(nil), f.data...)
	stats := f.stats
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Page[domain.DonationRequest]{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Page[domain.DonationRequest]{}, err
	}
	var items []domain.DonationRequest
	for _, d := range data {
		if Matches(d, q.Filters) {
			items = append(items, d)
		}
	}
	total := len(items)
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return domain.Page[domain.DonationRequest]{
		Items:      items,
		Pagination: domain.Pagination{Page: q.Page, Limit: q.Limit, TotalItems: total, TotalPages: (total + q.Limit - 1) / q.Limit},
		Stats:      stats,
	}, nil
}

func (f *fakeLister) hold() chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates = append(f.gates, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeLister) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeLister) lastQuery() domain.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func sampleRequests() []domain.DonationRequest {
	base := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	specs := []struct {
		status domain.RequestStatus
		group  string
		name   string
	}{
		{domain.RequestStatusPending, "O+", "Ayesha"},
		{domain.RequestStatusPending, "A+", "Babul"},
		{domain.RequestStatusInProgress, "O+", "Chandni"},
		{domain.RequestStatusPending, "O+", "Dipu"},
		{domain.RequestStatusDone, "B-", "Esha"},
		{domain.RequestStatusCanceled, "O+", "Farhan"},
	}
	out := make([]domain.DonationRequest, 0, len(specs))
	for i, s := range specs {
		out = append(out, domain.DonationRequest{
			ID:            fmt.Sprintf("r%d", i+1),
			Status:        s.status,
			BloodGroup:    s.group,
			RecipientName: s.name,
			Hospital:      "Dhaka Medical",
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		})
	}
	return out
}

func newManager(l Lister[domain.DonationRequest], rec *toast.Recorder) *Manager[domain.DonationRequest] {
	return New[domain.DonationRequest](l, Options{Name: "donation requests", Auth: authStub(true), Toasts: rec, Limit: 10, Debounce: 20 * time.Millisecond})
}

func TestFetchWithFiltersScenario(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SetFilter(ctx, "status", "pending"))
	require.NoError(t, m.SetFilter(ctx, "bloodGroup", "O+"))

	st := m.Snapshot()
	assert.Equal(t, 1, st.Pagination.Page)
	assert.Equal(t, 10, l.lastQuery().Limit)
	require.Len(t, st.Items, 2)
	for _, it := range st.Items {
		assert.Equal(t, domain.RequestStatusPending, it.Status)
		assert.Equal(t, "O+", it.BloodGroup)
	}
	assert.False(t, st.Loading)
}

func TestFilterChangeResetsPage(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SetPage(ctx, 3))
	assert.Equal(t, 3, l.lastQuery().Page)

	require.NoError(t, m.SetFilter(ctx, "status", "pending"))
	assert.Equal(t, 1, l.lastQuery().Page)
	assert.Equal(t, 1, m.Snapshot().Query.Page)
}

func TestUnchangedFilterDoesNotFetch(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SetFilter(ctx, "status", "pending", "done"))
	require.NoError(t, m.SetPage(ctx, 2))
	calls := l.calls()

	require.NoError(t, m.SetFilter(ctx, "status", "done", "pending"))
	assert.Equal(t, calls, l.calls())
	assert.Equal(t, 2, m.Snapshot().Query.Page)
}

func TestSetLimitResetsPage(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SetPage(ctx, 2))
	require.NoError(t, m.SetLimit(ctx, 25))
	q := l.lastQuery()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 25, q.Limit)
}

func TestSortIsLocalUntilNextFetch(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()
	require.NoError(t, m.Fetch(ctx))
	calls := l.calls()

	m.SetSort("recipientName", domain.SortDesc)
	assert.Equal(t, calls, l.calls())
	items := m.Items()
	require.Len(t, items, 6)
	assert.Equal(t, "Farhan", items[0].RecipientName)
	assert.Equal(t, "Ayesha", items[5].RecipientName)

	require.NoError(t, m.SetPage(ctx, 2))
	q := l.lastQuery()
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, "recipientName", q.SortField)
	assert.Equal(t, domain.SortDesc, q.SortOrder)
}

func TestSetQueryResetsPageWhenFiltersChange(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SetQuery(ctx, domain.Query{Page: 3, Filters: domain.Filters{}}))
	assert.Equal(t, 3, l.lastQuery().Page)

	require.NoError(t, m.SetQuery(ctx, domain.Query{Page: 3, Filters: domain.Filters{"status": {"pending"}}}))
	assert.Equal(t, 1, l.lastQuery().Page)
	assert.Equal(t, 1, m.Snapshot().Query.Page)

	require.NoError(t, m.SetQuery(ctx, domain.Query{Page: 2, Filters: domain.Filters{"status": {"pending"}}}))
	assert.Equal(t, 2, l.lastQuery().Page, "same filters keep the requested page")

	require.NoError(t, m.SetQuery(ctx, domain.Query{Page: 2, Filters: domain.Filters{"status": {"pending"}}, Search: "dipu"}))
	assert.Equal(t, 1, l.lastQuery().Page)
}

func TestFetchInFlightKeepsConfirmedMutations(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()
	require.NoError(t, m.Fetch(ctx))

	gate := l.hold()
	done := make(chan error, 1)
	go func() { done <- m.Fetch(ctx) }()
	require.Eventually(t, func() bool { return l.calls() == 2 }, time.Second, time.Millisecond)

	_, err := m.Update(ctx, "r1", func(context.Context) (domain.DonationRequest, error) {
		r, _ := m.Find("r1")
		r.Status = domain.RequestStatusInProgress
		return r, nil
	})
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, "r6", func(context.Context) error { return nil }))

	close(gate)
	require.NoError(t, <-done)

	got, ok := m.Find("r1")
	require.True(t, ok)
	assert.Equal(t, domain.RequestStatusInProgress, got.Status)
	_, ok = m.Find("r6")
	assert.False(t, ok, "deleted record came back with the older page")
	assert.Equal(t, 2, m.Count("pending"))
	assert.Equal(t, 2, m.Count("inprogress"))
	assert.Equal(t, 0, m.Count("cancelled"))

	// Once nothing is in flight the next page is taken as is.
	require.NoError(t, m.Fetch(ctx))
	got, _ = m.Find("r1")
	assert.Equal(t, domain.RequestStatusPending, got.Status)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	ctx := context.Background()

	slow := l.hold()
	done := make(chan error, 1)
	go func() { done <- m.Fetch(ctx) }()
	require.Eventually(t, func() bool { return l.calls() == 1 }, time.Second, time.Millisecond)

	// The newer fetch filters to done; it resolves first.
	require.NoError(t, m.SetFilter(ctx, "status", "done"))
	close(slow)
	require.NoError(t, <-done)

	items := m.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.RequestStatusDone, items[0].Status)
	assert.Len(t, m.Snapshot().Fetched, 1, "stale page must not overwrite the fresher one")
}

func TestResponseAfterCloseIsNoop(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})

	gate := l.hold()
	done := make(chan error, 1)
	go func() { done <- m.Fetch(context.Background()) }()
	require.Eventually(t, func() bool { return l.calls() == 1 }, time.Second, time.Millisecond)

	m.Close()
	close(gate)
	require.NoError(t, <-done)
	st := m.Snapshot()
	assert.Empty(t, st.Fetched)
	assert.False(t, st.Loading)
	assert.ErrorIs(t, m.Fetch(context.Background()), domain.ErrClosed)
}

func TestFetchErrorClearsLoadingAndToasts(t *testing.T) {
	rec := &toast.Recorder{}
	l := &fakeLister{err: &domain.ServerError{Status: 500, Message: "database down"}}
	m := newManager(l, rec)
	defer m.Close()

	err := m.Fetch(context.Background())
	require.Error(t, err)
	st := m.Snapshot()
	assert.False(t, st.Loading)
	assert.Equal(t, err, st.Err)
	require.Equal(t, 1, rec.Len())
	assert.Equal(t, "database down", rec.Toasts()[0].Message)
}

func TestRequiresSession(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := New[domain.DonationRequest](l, Options{Auth: authStub(false)})
	defer m.Close()

	err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, 0, l.calls())
}

func TestCreateRejectedLeavesStateUnchanged(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	rec := &toast.Recorder{}
	m := newManager(l, rec)
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))
	before := m.Snapshot()

	_, err := m.Create(context.Background(), func(context.Context) (domain.DonationRequest, error) {
		return domain.DonationRequest{}, &domain.ServerError{Status: 400, Message: "hospital is required"}
	})
	require.Error(t, err)
	after := m.Snapshot()
	assert.Len(t, after.Fetched, len(before.Fetched))
	assert.Equal(t, before.Counts, after.Counts)
	assert.Equal(t, before.Pagination, after.Pagination)
	assert.Equal(t, 1, rec.Len())
}

func TestCreateAddsRecordAndCount(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))
	pending := m.Count("pending")
	calls := l.calls()

	created, err := m.Create(context.Background(), func(context.Context) (domain.DonationRequest, error) {
		return domain.DonationRequest{ID: "new", Status: domain.RequestStatusPending, BloodGroup: "AB+"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	assert.Equal(t, pending+1, m.Count("pending"))
	assert.Equal(t, "new", m.Items()[0].ID)
	assert.Equal(t, 7, m.Snapshot().Pagination.TotalItems)
	assert.Equal(t, calls, l.calls(), "no re-fetch")
}

func TestAssignTransitionAdjustsCounts(t *testing.T) {
	l := &fakeLister{data: sampleRequests(), stats: map[string]int{"pending": 30, "inprogress": 5, "done": 2, "cancelled": 1}}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))
	calls := l.calls()

	updated, err := m.Apply(context.Background(), "r1", nil, func(context.Context) (domain.DonationRequest, error) {
		r, _ := m.Find("r1")
		r.Status = domain.RequestStatusInProgress
		r.DonorID = "d1"
		return r, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusInProgress, updated.Status)
	assert.Equal(t, 29, m.Count("pending"))
	assert.Equal(t, 6, m.Count("inprogress"))
	got, _ := m.Find("r1")
	assert.Equal(t, domain.RequestStatusInProgress, got.Status)
	assert.Equal(t, calls, l.calls())

	// The next fetch replaces the approximated counts with the server's.
	require.NoError(t, m.Fetch(context.Background()))
	assert.Equal(t, 30, m.Count("pending"))
}

func TestApplyCheckBlocksNetwork(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	rec := &toast.Recorder{}
	m := newManager(l, rec)
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))

	called := false
	_, err := m.Apply(context.Background(), "r1",
		func(domain.DonationRequest) error { return &domain.EligibilityError{Reason: "blood group does not match"} },
		func(context.Context) (domain.DonationRequest, error) {
			called = true
			return domain.DonationRequest{}, nil
		})
	var elig *domain.EligibilityError
	require.ErrorAs(t, err, &elig)
	assert.False(t, called)
	assert.Equal(t, "blood group does not match", rec.Toasts()[0].Message)
}

func TestFailedTransitionLeavesRecord(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))
	counts := m.Snapshot().Counts

	_, err := m.Update(context.Background(), "r1", func(context.Context) (domain.DonationRequest, error) {
		return domain.DonationRequest{}, &domain.ServerError{Status: 409, Message: "Request is no longer pending"}
	})
	require.Error(t, err)
	got, _ := m.Find("r1")
	assert.Equal(t, domain.RequestStatusPending, got.Status)
	assert.Equal(t, counts, m.Snapshot().Counts)
}

func TestRemove(t *testing.T) {
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()
	require.NoError(t, m.Fetch(context.Background()))

	require.NoError(t, m.Remove(context.Background(), "r2", func(context.Context) error { return nil }))
	_, found := m.Find("r2")
	assert.False(t, found)
	assert.Equal(t, 2, m.Count("pending"))
	assert.Equal(t, 5, m.Snapshot().Pagination.TotalItems)

	err := m.Remove(context.Background(), "r1", func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	_, found = m.Find("r1")
	assert.True(t, found)
}

func TestDebouncedSearch(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})
	defer m.Close()

	m.SetSearchDebounced("a")
	m.SetSearchDebounced("ay")
	m.SetSearchDebounced("ayesha")
	require.Eventually(t, func() bool { return l.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ayesha", l.lastQuery().Search)
	require.Eventually(t, func() bool { return len(m.Items()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCloseStopsPendingDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := &fakeLister{data: sampleRequests()}
	m := newManager(l, &toast.Recorder{})

	m.SetSearchDebounced("ayesha")
	m.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, l.calls())
}
