package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeline/internal/dashboard"
	"lifeline/internal/domain"
	"lifeline/internal/toast"
)

var dashboardRecent int

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the overview for your role",
	RunE: func(cmd *cobra.Command, args []string) error {
		ov, err := dashboard.Load(cmd.Context(), current.session, dashboard.Options{
			RecentLimit: dashboardRecent,
			Logger:      &current.logger,
		})
		if err != nil {
			current.toasts.Show(toast.Toast{Level: toast.LevelError, Title: "Dashboard unavailable", Message: domain.UserMessage(err)})
			return err
		}
		return current.emit(ov, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Signed in as\t%s (%s)\n", ov.User.Name, current.display(string(ov.User.Role)))
			fmt.Fprintf(w, "Unread notifications\t%d\n", ov.Unread)
			if ov.User.Role == domain.UserRoleDonor {
				fmt.Fprintf(w, "Pending %s requests near you\t%d\n", ov.User.BloodGroup, ov.PendingNearby)
				recentRequests(w, "Your recent requests", ov.MyRequests)
				recentRequests(w, "Your recent donations", ov.MyDonations)
			}
			if ov.Analytics != nil {
				printAnalytics(w, *ov.Analytics)
			}
			if ov.User.Role == domain.UserRoleAdmin {
				fmt.Fprintf(w, "Accounts\t%d (active %d, blocked %d)\n", ov.UserTotal,
					ov.UserCounts[string(domain.UserStatusActive)], ov.UserCounts[string(domain.UserStatusBlocked)])
			}
		})
	},
}

func init() {
	dashboardCmd.Flags().IntVar(&dashboardRecent, "recent", 3, "how many recent requests to show")
}

func recentRequests(w *tabwriter.Writer, title string, list []domain.DonationRequest) {
	fmt.Fprintf(w, "%s\t%d\n", title, len(list))
	for _, r := range list {
		fmt.Fprintf(w, "  %s\t%s %s, %s (%s)\n", r.DonationDate, r.BloodGroup, r.RecipientName, r.District,
			current.display(string(r.Status)))
	}
}
