package apitest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/domain"
)

type staticToken string

func (s staticToken) Token() string        { return string(s) }
func (s staticToken) Unauthorized(string) {}
func (s staticToken) Blocked(string)      {}

func newClient(t *testing.T, b *Backend, token string) *api.Client {
	t.Helper()
	c, err := api.NewClient(api.Options{BaseURL: b.Start(t)})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c.WithCredentials(staticToken(token))
}

func TestLoginAndVerify(t *testing.T) {
	b := New(Options{})
	u := b.AddUser(domain.User{Email: "Donor@Example.com", Name: "Rahim", BloodGroup: "O+"}, "secret1")
	c := newClient(t, b, "")
	ctx := context.Background()

	if _, err := c.Login(ctx, "donor@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Login(wrong) error = %v", err)
	}
	res, err := c.Login(ctx, "donor@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.User.ID != u.ID || res.Token == "" {
		t.Fatalf("Login() = %+v", res)
	}

	me, err := c.WithCredentials(staticToken(res.Token)).Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if me.ID != u.ID || me.Role != domain.UserRoleDonor {
		t.Fatalf("Verify() = %+v", me)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	b := New(Options{})
	u := b.AddUser(domain.User{Email: "a@b.c"}, "secret1")
	c := newClient(t, b, b.IssueToken(u.ID, -time.Minute))
	if _, err := c.Verify(context.Background()); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestListFiltersAndStats(t *testing.T) {
	b := New(Options{})
	admin := b.AddUser(domain.User{Email: "admin@x.io", Role: domain.UserRoleAdmin}, "secret1")
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		status domain.RequestStatus
		group  string
	}{
		{domain.RequestStatusPending, "O+"},
		{domain.RequestStatusPending, "O+"},
		{domain.RequestStatusPending, "A+"},
		{domain.RequestStatusInProgress, "O+"},
		{domain.RequestStatusDone, "O+"},
	} {
		b.AddRequest(domain.DonationRequest{
			RequesterID: admin.ID, RecipientName: "R", Status: spec.status, BloodGroup: spec.group,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	c := newClient(t, b, b.IssueToken(admin.ID, time.Hour))

	page, err := c.ListDonationRequests(context.Background(), domain.Query{
		Page: 1, Limit: 10,
		Filters: domain.Filters{"status": {"pending"}, "bloodGroup": {"O+"}},
	})
	if err != nil {
		t.Fatalf("ListDonationRequests() error: %v", err)
	}
	if len(page.Items) != 2 || page.Pagination.TotalItems != 2 || page.Pagination.Page != 1 {
		t.Fatalf("page = %+v", page)
	}
	for _, it := range page.Items {
		if it.Status != domain.RequestStatusPending || it.BloodGroup != "O+" {
			t.Fatalf("unexpected item %+v", it)
		}
	}
	if page.Stats["pending"] != 2 || page.Stats["inprogress"] != 1 || page.Stats["done"] != 1 {
		t.Fatalf("stats = %v", page.Stats)
	}
}

func TestRespondEnforcesEligibility(t *testing.T) {
	b := New(Options{})
	requester := b.AddUser(domain.User{Email: "req@x.io", BloodGroup: "O+"}, "secret1")
	donor := b.AddUser(domain.User{Email: "don@x.io", Name: "Karim", BloodGroup: "A+"}, "secret1")
	req := b.AddRequest(domain.DonationRequest{RequesterID: requester.ID, RecipientName: "R", BloodGroup: "O+"})
	ctx := context.Background()

	_, err := newClient(t, b, b.IssueToken(donor.ID, time.Hour)).RespondToRequest(ctx, req.ID)
	var srvErr *domain.ServerError
	if !errors.As(err, &srvErr) || srvErr.Status != http.StatusConflict {
		t.Fatalf("mismatched group error = %v", err)
	}
	_, err = newClient(t, b, b.IssueToken(requester.ID, time.Hour)).RespondToRequest(ctx, req.ID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("own request error = %v", err)
	}
	if got, _ := b.Request(req.ID); got.Status != domain.RequestStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestBlockedUserGetsForbidden(t *testing.T) {
	b := New(Options{})
	u := b.AddUser(domain.User{Email: "a@b.c"}, "secret1")
	token := b.IssueToken(u.ID, time.Hour)
	b.SetUserStatus(u.ID, domain.UserStatusBlocked)

	_, err := newClient(t, b, token).ListNotifications(context.Background())
	var srvErr *domain.ServerError
	if !errors.As(err, &srvErr) || !srvErr.Blocked {
		t.Fatalf("error = %v, want blocked", err)
	}
}

func TestFailNextAndHits(t *testing.T) {
	b := New(Options{})
	u := b.AddUser(domain.User{Email: "a@b.c"}, "secret1")
	c := newClient(t, b, b.IssueToken(u.ID, time.Hour))
	b.FailNext("GET /notifications", http.StatusServiceUnavailable, "maintenance")

	if _, err := c.ListNotifications(context.Background()); err == nil {
		t.Fatalf("expected injected failure")
	}
	if _, err := c.ListNotifications(context.Background()); err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if got := b.Hits("GET /notifications"); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}
}

func TestExportUsersCSV(t *testing.T) {
	b := New(Options{})
	admin := b.AddUser(domain.User{Email: "admin@x.io", Name: "Admin", Role: domain.UserRoleAdmin}, "secret1")
	b.AddUser(domain.User{Email: "don@x.io", Name: "Donor"}, "secret1")
	c := newClient(t, b, b.IssueToken(admin.ID, time.Hour))

	var buf bytes.Buffer
	if err := c.ExportUsers(context.Background(), domain.Query{Filters: domain.Filters{"role": {"donor"}}}, &buf); err != nil {
		t.Fatalf("ExportUsers() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "don@x.io") {
		t.Fatalf("csv = %q", buf.String())
	}
}
