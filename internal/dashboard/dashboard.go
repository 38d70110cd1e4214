// Package dashboard assembles the role-specific overview shown after
// sign-in.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"lifeline/internal/api"
	"lifeline/internal/domain"
	"lifeline/internal/infra"
)

type Session interface {
	domain.Authenticator
	API() *api.Client
}

type Options struct {
	// RecentLimit caps the recent-request lists. Defaults to 3.
	RecentLimit int
	Logger      *infra.Logger
}

// Overview is everything one dashboard screen needs. Sections that do not
// apply to the role are left zero.
type Overview struct {
	User   domain.User
	Unread int

	// Donors.
	MyRequests    []domain.DonationRequest
	MyDonations   []domain.DonationRequest
	PendingNearby int

	// Volunteers and admins.
	Analytics *domain.DonationAnalytics

	// Admins.
	UserTotal  int
	UserCounts map[string]int

	LoadedIn time.Duration
}

// Load fetches the overview for the signed-in user. The sections load
// concurrently; the first failure cancels the rest and is returned.
func Load(ctx context.Context, sess Session, opts Options) (*Overview, error) {
	me, ok := sess.CurrentUser()
	if !ok {
		return nil, &domain.AuthError{Err: domain.ErrUnauthenticated}
	}
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = 3
	}
	logger := infra.Component(opts.Logger, "dashboard")
	client := sess.API()
	start := time.Now()

	out := &Overview{User: me}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		list, err := client.ListNotifications(gctx)
		if err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
		out.Unread = domain.CountUnread(list)
		return nil
	})

	recent := func(field string) domain.Query {
		return domain.Query{
			Page:      1,
			Limit:     limit,
			Filters:   domain.Filters{field: {me.ID}},
			SortField: "createdAt",
			SortOrder: domain.SortDesc,
		}
	}

	switch me.Role {
	case domain.UserRoleDonor:
		g.Go(func() error {
			page, err := client.ListDonationRequests(gctx, recent("requesterId"))
			if err != nil {
				return fmt.Errorf("my requests: %w", err)
			}
			out.MyRequests = page.Items
			return nil
		})
		g.Go(func() error {
			page, err := client.ListDonationRequests(gctx, recent("donorId"))
			if err != nil {
				return fmt.Errorf("my donations: %w", err)
			}
			out.MyDonations = page.Items
			return nil
		})
		if me.BloodGroup != "" {
			g.Go(func() error {
				q := domain.Query{Page: 1, Limit: 1, Filters: domain.Filters{
					"status":     {string(domain.RequestStatusPending)},
					"bloodGroup": {me.BloodGroup},
				}}
				if me.District != "" {
					q.Filters["district"] = []string{me.District}
				}
				page, err := client.ListDonationRequests(gctx, q)
				if err != nil {
					return fmt.Errorf("pending nearby: %w", err)
				}
				out.PendingNearby = page.Pagination.TotalItems
				return nil
			})
		}
	case domain.UserRoleVolunteer, domain.UserRoleAdmin:
		g.Go(func() error {
			a, err := client.DonationAnalytics(gctx)
			if err != nil {
				return fmt.Errorf("analytics: %w", err)
			}
			out.Analytics = a
			return nil
		})
	}

	if me.Role == domain.UserRoleAdmin {
		g.Go(func() error {
			page, err := client.ListUsers(gctx, domain.Query{Page: 1, Limit: 1})
			if err != nil {
				return fmt.Errorf("users: %w", err)
			}
			out.UserTotal = page.Pagination.TotalItems
			out.UserCounts = page.Stats
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Str("role", string(me.Role)).Msg("dashboard load failed")
		return nil, err
	}
	out.LoadedIn = time.Since(start)
	logger.Debug().Str("role", string(me.Role)).Dur("took", out.LoadedIn).Msg("dashboard loaded")
	return out, nil
}
