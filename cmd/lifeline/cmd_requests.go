package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeline/internal/domain"
)

// listFlags are shared by the list commands.
type listFlags struct {
	status []string
	search string
	page   int
	limit  int
	sort   string
}

func (l *listFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&l.status, "status", nil, "only these statuses (repeat or comma separate)")
	f.StringVarP(&l.search, "search", "s", "", "free-text search")
	f.IntVar(&l.page, "page", 1, "page number")
	f.IntVar(&l.limit, "limit", 0, "page size (defaults to PAGE_LIMIT)")
	f.StringVar(&l.sort, "sort", "", "sort as field[:asc|desc], e.g. createdAt:desc")
}

func (l *listFlags) query() (domain.Query, error) {
	q := domain.Query{Page: l.page, Limit: l.limit, Filters: domain.Filters{}, Search: l.search}
	if len(l.status) > 0 {
		q.Filters["status"] = l.status
	}
	if l.sort != "" {
		field, order, _ := strings.Cut(l.sort, ":")
		switch domain.SortOrder(strings.ToLower(order)) {
		case "", domain.SortAsc:
			q.SortOrder = domain.SortAsc
		case domain.SortDesc:
			q.SortOrder = domain.SortDesc
		default:
			return q, fmt.Errorf("invalid sort order %q", order)
		}
		q.SortField = field
	}
	return q, nil
}

var (
	reqList struct {
		listFlags
		bloodGroup []string
		district   string
		mine       bool
		donations  bool
	}
	reqInput  domain.DonationRequestInput
	reqOutput string
)

var requestsCmd = &cobra.Command{
	Use:     "requests",
	Aliases: []string{"req"},
	Short:   "Browse and act on donation requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List donation requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := reqList.query()
		if err != nil {
			return err
		}
		if len(reqList.bloodGroup) > 0 {
			q.Filters["bloodGroup"] = reqList.bloodGroup
		}
		if reqList.district != "" {
			q.Filters["district"] = []string{reqList.district}
		}
		if reqList.mine || reqList.donations {
			me, ok := current.session.CurrentUser()
			if !ok {
				return &domain.AuthError{Err: domain.ErrUnauthenticated}
			}
			if reqList.mine {
				q.Filters["requesterId"] = []string{me.ID}
			}
			if reqList.donations {
				q.Filters["donorId"] = []string{me.ID}
			}
		}

		m := current.requests()
		defer m.Close()
		if err := m.SetQuery(cmd.Context(), q); err != nil {
			return err
		}
		st := m.Snapshot()
		return current.emit(st.Items, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ID\tRECIPIENT\tGROUP\tLOCATION\tDATE\tSTATUS\tDONOR")
			for _, r := range st.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s, %s\t%s\t%s\t%s\n",
					r.ID, r.RecipientName, r.BloodGroup, r.Upazila, r.District,
					r.DonationDate, current.display(string(r.Status)), r.DonorName)
			}
			fmt.Fprintf(w, "\nPage %d of %d, %d total.", st.Pagination.Page, st.Pagination.TotalPages, st.Pagination.TotalItems)
			for _, s := range domain.RequestStatuses {
				fmt.Fprintf(w, " %s: %d.", current.display(string(s)), st.Counts[string(s)])
			}
			fmt.Fprintln(w)
		})
	},
}

var requestsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one donation request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		r, err := m.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var requestsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Post a new donation request",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		r, err := m.Create(cmd.Context(), reqInput)
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var requestsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a pending donation request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		r, err := m.Edit(cmd.Context(), args[0], reqInput)
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var requestsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a donation request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		return m.Delete(cmd.Context(), args[0])
	},
}

var requestsAssignCmd = &cobra.Command{
	Use:   "assign <request-id> <donor-id>",
	Short: "Assign a donor to a pending request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		r, err := m.AssignDonor(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var requestsRespondCmd = &cobra.Command{
	Use:   "respond <id>",
	Short: "Volunteer to donate for a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		r, err := m.Respond(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printRequest(r)
	},
}

var requestsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export donation requests as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := reqList.query()
		if err != nil {
			return err
		}
		m := current.requests()
		defer m.Close()
		if err := m.SetQuery(cmd.Context(), q); err != nil {
			return err
		}
		w := current.out
		if reqOutput != "" && reqOutput != "-" {
			f, err := os.Create(reqOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return m.Export(cmd.Context(), w)
	},
}

var requestsAnalyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show request totals by status and blood group",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.requests()
		defer m.Close()
		a, err := m.Analytics(cmd.Context())
		if err != nil {
			return err
		}
		return current.emit(a, func(w *tabwriter.Writer) {
			printAnalytics(w, a)
		})
	},
}

func init() {
	reqList.register(requestsListCmd)
	f := requestsListCmd.Flags()
	f.StringSliceVar(&reqList.bloodGroup, "blood-group", nil, "only these blood groups")
	f.StringVar(&reqList.district, "district", "", "only this district")
	f.BoolVar(&reqList.mine, "mine", false, "only requests you posted")
	f.BoolVar(&reqList.donations, "donations", false, "only requests assigned to you")

	reqList.register(requestsExportCmd)
	requestsExportCmd.Flags().StringVarP(&reqOutput, "output", "o", "-", "write to file instead of stdout")

	for _, c := range []*cobra.Command{requestsCreateCmd, requestsEditCmd} {
		f := c.Flags()
		f.StringVar(&reqInput.RecipientName, "recipient", "", "recipient name")
		f.StringVar(&reqInput.BloodGroup, "blood-group", "", "blood group needed")
		f.StringVar(&reqInput.District, "district", "", "district")
		f.StringVar(&reqInput.Upazila, "upazila", "", "upazila")
		f.StringVar(&reqInput.Hospital, "hospital", "", "hospital")
		f.StringVar(&reqInput.Address, "address", "", "full address")
		f.StringVar(&reqInput.DonationDate, "date", "", "donation date (YYYY-MM-DD)")
		f.StringVar(&reqInput.DonationTime, "time", "", "donation time (HH:MM)")
		f.StringVar(&reqInput.Message, "message", "", "message to donors")
	}

	requestsCmd.AddCommand(
		requestsListCmd, requestsShowCmd, requestsCreateCmd, requestsEditCmd, requestsDeleteCmd,
		requestsAssignCmd, requestsRespondCmd, requestsExportCmd, requestsAnalyticsCmd,
		requestStatusCmd("complete", "Mark an in-progress request done", domain.RequestStatusDone),
		requestStatusCmd("cancel", "Cancel a request", domain.RequestStatusCanceled),
		requestStatusCmd("release", "Return an in-progress request to pending", domain.RequestStatusPending),
	)
}

func requestStatusCmd(use, short string, to domain.RequestStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := current.requests()
			defer m.Close()
			ctx, id := cmd.Context(), args[0]
			var (
				r   domain.DonationRequest
				err error
			)
			switch to {
			case domain.RequestStatusDone:
				r, err = m.Complete(ctx, id)
			case domain.RequestStatusCanceled:
				r, err = m.Cancel(ctx, id)
			default:
				r, err = m.Release(ctx, id)
			}
			if err != nil {
				return err
			}
			return printRequest(r)
		},
	}
}

func printRequest(r domain.DonationRequest) error {
	return current.emit(r, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID\t%s\n", r.ID)
		fmt.Fprintf(w, "Status\t%s\n", current.display(string(r.Status)))
		fmt.Fprintf(w, "Recipient\t%s\n", r.RecipientName)
		fmt.Fprintf(w, "Blood group\t%s\n", r.BloodGroup)
		fmt.Fprintf(w, "Hospital\t%s\n", r.Hospital)
		fmt.Fprintf(w, "Location\t%s, %s\n", r.Upazila, r.District)
		fmt.Fprintf(w, "When\t%s %s\n", r.DonationDate, r.DonationTime)
		fmt.Fprintf(w, "Requester\t%s <%s>\n", r.RequesterName, r.RequesterEmail)
		if r.DonorID != "" {
			fmt.Fprintf(w, "Donor\t%s <%s>\n", r.DonorName, r.DonorEmail)
		}
		if r.Message != "" {
			fmt.Fprintf(w, "Message\t%s\n", r.Message)
		}
	})
}

func printAnalytics(w *tabwriter.Writer, a domain.DonationAnalytics) {
	fmt.Fprintf(w, "Total requests\t%d\n", a.Total)
	for _, s := range domain.RequestStatuses {
		fmt.Fprintf(w, "  %s\t%d\n", current.display(string(s)), a.ByStatus[string(s)])
	}
	for _, g := range domain.BloodGroups {
		if n := a.ByBloodGroup[g]; n > 0 {
			fmt.Fprintf(w, "  %s\t%d\n", g, n)
		}
	}
	if a.TotalDonors > 0 {
		fmt.Fprintf(w, "Donors\t%d\n", a.TotalDonors)
	}
	if a.TotalUsers > 0 {
		fmt.Fprintf(w, "Users\t%d\n", a.TotalUsers)
	}
}
