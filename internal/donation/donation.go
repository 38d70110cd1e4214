// Package donation manages the donation-request collection and its status
// transitions.
package donation

import (
	"context"
	"io"
	"time"

	"lifeline/internal/api"
	"lifeline/internal/collection"
	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/toast"
	"lifeline/internal/validation"
)

// Session is the part of the session manager this package needs.
type Session interface {
	domain.Authenticator
	API() *api.Client
}

type Options struct {
	Toasts   toast.Sink
	Logger   *infra.Logger
	Limit    int
	Debounce time.Duration
	Now      func() time.Time
}

// Manager is the donation-request collection. The embedded collection
// provides fetching, filtering, paging and the local projection.
type Manager struct {
	*collection.Manager[domain.DonationRequest]
	sess   Session
	client *api.Client
	toasts toast.Sink
	logger infra.Logger
	now    func() time.Time
}

func NewManager(sess Session, opts Options) *Manager {
	client := sess.API()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		Manager: collection.New[domain.DonationRequest](
			collection.ListFunc[domain.DonationRequest](client.ListDonationRequests),
			collection.Options{
				Name:     "donation requests",
				Auth:     sess,
				Toasts:   opts.Toasts,
				Logger:   opts.Logger,
				Limit:    opts.Limit,
				Debounce: opts.Debounce,
			},
		),
		sess:   sess,
		client: client,
		toasts: toast.OrDiscard(opts.Toasts),
		logger: infra.Component(opts.Logger, "donation"),
		now:    now,
	}
}

// Create validates in and posts a new request.
func (m *Manager) Create(ctx context.Context, in domain.DonationRequestInput) (domain.DonationRequest, error) {
	if err := validation.DonationRequest(in, m.now()); err != nil {
		return domain.DonationRequest{}, m.fail("Request not created", err)
	}
	created, err := m.Manager.Create(ctx, func(ctx context.Context) (domain.DonationRequest, error) {
		r, err := m.client.CreateDonationRequest(ctx, in)
		if err != nil {
			return domain.DonationRequest{}, err
		}
		return *r, nil
	})
	if err != nil {
		return created, err
	}
	m.logger.Info().Str("request_id", created.ID).Str("blood_group", created.BloodGroup).Msg("donation request created")
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Request created", Message: "Donors with " + created.BloodGroup + " will be notified."})
	return created, nil
}

// Edit updates a pending request's details.
func (m *Manager) Edit(ctx context.Context, id string, in domain.DonationRequestInput) (domain.DonationRequest, error) {
	if err := validation.DonationRequestPatch(in, m.now()); err != nil {
		return domain.DonationRequest{}, m.fail("Request not saved", err)
	}
	check := func(r domain.DonationRequest) error {
		if r.Status != domain.RequestStatusPending {
			return &domain.EligibilityError{Reason: "Only pending requests can be edited."}
		}
		return nil
	}
	updated, err := m.Apply(ctx, id, check, func(ctx context.Context) (domain.DonationRequest, error) {
		r, err := m.client.UpdateDonationRequest(ctx, id, in)
		if err != nil {
			return domain.DonationRequest{}, err
		}
		return *r, nil
	})
	if err == nil {
		m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Request saved"})
	}
	return updated, err
}

// Delete removes a request.
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.Remove(ctx, id, func(ctx context.Context) error {
		return m.client.DeleteDonationRequest(ctx, id)
	})
	if err == nil {
		m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: "Request deleted"})
	}
	return err
}

// AssignDonor attaches donorID to a pending request. Volunteers and admins
// only.
func (m *Manager) AssignDonor(ctx context.Context, id, donorID string) (domain.DonationRequest, error) {
	if err := m.requireRole(domain.UserRoleVolunteer, domain.UserRoleAdmin); err != nil {
		return domain.DonationRequest{}, m.fail("Not allowed", err)
	}
	check := func(r domain.DonationRequest) error {
		if r.RequesterID == donorID {
			return &domain.EligibilityError{Reason: "A requester cannot donate to their own request."}
		}
		return transitionCheck(domain.RequestStatusInProgress)(r)
	}
	return m.transition(ctx, id, check, "Donor assigned", func(ctx context.Context) (*domain.DonationRequest, error) {
		return m.client.AssignDonor(ctx, id, donorID)
	})
}

// Respond volunteers the signed-in donor for a request after checking
// eligibility locally.
func (m *Manager) Respond(ctx context.Context, id string) (domain.DonationRequest, error) {
	me, ok := m.sess.CurrentUser()
	if !ok {
		return domain.DonationRequest{}, m.fail("Not allowed", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	check := func(r domain.DonationRequest) error { return CheckEligibility(me, r) }
	return m.transition(ctx, id, check, "Thank you for responding", func(ctx context.Context) (*domain.DonationRequest, error) {
		return m.client.RespondToRequest(ctx, id)
	})
}

// Complete marks an in-progress request done.
func (m *Manager) Complete(ctx context.Context, id string) (domain.DonationRequest, error) {
	return m.setStatus(ctx, id, domain.RequestStatusDone, "Donation completed")
}

// Cancel cancels a pending or in-progress request.
func (m *Manager) Cancel(ctx context.Context, id string) (domain.DonationRequest, error) {
	return m.setStatus(ctx, id, domain.RequestStatusCanceled, "Request cancelled")
}

// Release returns an in-progress request to pending and detaches the donor.
func (m *Manager) Release(ctx context.Context, id string) (domain.DonationRequest, error) {
	return m.setStatus(ctx, id, domain.RequestStatusPending, "Donor released")
}

func (m *Manager) setStatus(ctx context.Context, id string, to domain.RequestStatus, title string) (domain.DonationRequest, error) {
	return m.transition(ctx, id, transitionCheck(to), title, func(ctx context.Context) (*domain.DonationRequest, error) {
		return m.client.UpdateRequestStatus(ctx, id, to)
	})
}

func (m *Manager) transition(ctx context.Context, id string, check func(domain.DonationRequest) error, title string, call func(context.Context) (*domain.DonationRequest, error)) (domain.DonationRequest, error) {
	updated, err := m.Apply(ctx, id, check, func(ctx context.Context) (domain.DonationRequest, error) {
		r, err := call(ctx)
		if err != nil {
			return domain.DonationRequest{}, err
		}
		return *r, nil
	})
	if err != nil {
		return updated, err
	}
	m.logger.Info().Str("request_id", id).Str("status", string(updated.Status)).Msg("donation request transitioned")
	m.toasts.Show(toast.Toast{Level: toast.LevelSuccess, Title: title})
	return updated, nil
}

// Get loads a single request, bypassing the local page.
func (m *Manager) Get(ctx context.Context, id string) (domain.DonationRequest, error) {
	r, err := m.client.GetDonationRequest(ctx, id)
	if err != nil {
		return domain.DonationRequest{}, m.fail("Could not load request", err)
	}
	return *r, nil
}

// Analytics loads the aggregate figures. Volunteers and admins only.
func (m *Manager) Analytics(ctx context.Context) (domain.DonationAnalytics, error) {
	if err := m.requireRole(domain.UserRoleVolunteer, domain.UserRoleAdmin); err != nil {
		return domain.DonationAnalytics{}, m.fail("Not allowed", err)
	}
	a, err := m.client.DonationAnalytics(ctx)
	if err != nil {
		return domain.DonationAnalytics{}, m.fail("Could not load analytics", err)
	}
	return *a, nil
}

// Export writes the CSV export of the current query to w.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	if err := m.requireRole(domain.UserRoleVolunteer, domain.UserRoleAdmin); err != nil {
		return m.fail("Not allowed", err)
	}
	q := m.Snapshot().Query
	q.Page, q.Limit = 0, 0
	if err := m.client.ExportDonationRequests(ctx, q, w); err != nil {
		return m.fail("Export failed", err)
	}
	return nil
}

// MyRequests narrows the collection to requests the signed-in user posted.
func (m *Manager) MyRequests(ctx context.Context) error {
	me, ok := m.sess.CurrentUser()
	if !ok {
		return m.fail("Could not load donation requests", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	return m.SetFilter(ctx, "requesterId", me.ID)
}

// MyDonations narrows the collection to requests the signed-in donor took.
func (m *Manager) MyDonations(ctx context.Context) error {
	me, ok := m.sess.CurrentUser()
	if !ok {
		return m.fail("Could not load donation requests", &domain.AuthError{Err: domain.ErrUnauthenticated})
	}
	return m.SetFilter(ctx, "donorId", me.ID)
}

func (m *Manager) requireRole(roles ...domain.UserRole) error {
	me, ok := m.sess.CurrentUser()
	if !ok {
		return &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	for _, r := range roles {
		if me.Role == r {
			return nil
		}
	}
	return &domain.EligibilityError{Reason: "You do not have permission to do that."}
}

func (m *Manager) fail(title string, err error) error {
	m.toasts.Show(toast.Toast{Level: toast.LevelError, Title: title, Message: domain.UserMessage(err)})
	return err
}

// CheckEligibility reports whether donor may respond to r. The backend
// repeats every check; this only saves a doomed round trip.
func CheckEligibility(donor domain.User, r domain.DonationRequest) error {
	switch {
	case donor.Role != domain.UserRoleDonor:
		return &domain.EligibilityError{Reason: "Only donors can respond to requests."}
	case !donor.IsActive():
		return &domain.EligibilityError{Reason: "Your account is not active."}
	case donor.ID == r.RequesterID:
		return &domain.EligibilityError{Reason: "You cannot respond to your own request."}
	case donor.BloodGroup != r.BloodGroup:
		return &domain.EligibilityError{Reason: "Your blood group does not match this request."}
	}
	return transitionCheck(domain.RequestStatusInProgress)(r)
}

func transitionCheck(to domain.RequestStatus) func(domain.DonationRequest) error {
	return func(r domain.DonationRequest) error {
		if !domain.CanTransition(r.Status, to) {
			return &domain.EligibilityError{Reason: "This request cannot move from " + string(r.Status) + " to " + string(to) + "."}
		}
		if to == domain.RequestStatusInProgress && r.Status != domain.RequestStatusPending {
			return &domain.EligibilityError{Reason: "This request is no longer pending."}
		}
		return nil
	}
}
