package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeline/internal/domain"
	"lifeline/internal/users"
)

var (
	userList struct {
		listFlags
		role []string
	}
	userSearchLimit int
	userOutput      string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Administer user accounts",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := userList.query()
		if err != nil {
			return err
		}
		if len(userList.role) > 0 {
			q.Filters["role"] = userList.role
		}
		m := current.users()
		defer m.Close()
		if err := m.SetQuery(cmd.Context(), q); err != nil {
			return err
		}
		st := m.Snapshot()
		return current.emit(st.Items, func(w *tabwriter.Writer) {
			printUserTable(w, st.Items)
			fmt.Fprintf(w, "\nPage %d of %d, %d total. Active: %d. Blocked: %d.\n",
				st.Pagination.Page, st.Pagination.TotalPages, st.Pagination.TotalItems,
				st.Counts[string(domain.UserStatusActive)], st.Counts[string(domain.UserStatusBlocked)])
		})
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one user (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.users()
		defer m.Close()
		u, err := m.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printUser(u)
	},
}

var usersBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Block an account (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], (*users.Manager).Block)
	},
}

var usersUnblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Unblock an account (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], (*users.Manager).Unblock)
	},
}

var usersRoleCmd = &cobra.Command{
	Use:       "role <id> <donor|volunteer|admin>",
	Short:     "Change an account's role (admin)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(domain.UserRoleDonor), string(domain.UserRoleVolunteer), string(domain.UserRoleAdmin)},
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.users()
		defer m.Close()
		u, err := m.SetRole(cmd.Context(), args[0], domain.UserRole(args[1]))
		if err != nil {
			return err
		}
		return printUser(u)
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an account (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.users()
		defer m.Close()
		return m.Delete(cmd.Context(), args[0])
	},
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find donors by name, email or location (volunteer, admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.users()
		defer m.Close()
		found, err := m.Search(cmd.Context(), args[0], userSearchLimit)
		if err != nil {
			return err
		}
		return current.emit(found, func(w *tabwriter.Writer) {
			printUserTable(w, found)
		})
	},
}

var usersActivityCmd = &cobra.Command{
	Use:   "activity <id>",
	Short: "Show an account's activity log (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := current.users()
		defer m.Close()
		list, err := m.Activity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return current.emit(list, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "WHEN\tACTION\tDETAIL")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Action, a.Detail)
			}
		})
	},
}

var usersExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export users as CSV (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := userList.query()
		if err != nil {
			return err
		}
		if len(userList.role) > 0 {
			q.Filters["role"] = userList.role
		}
		m := current.users()
		defer m.Close()
		if err := m.SetQuery(cmd.Context(), q); err != nil {
			return err
		}
		w := current.out
		if userOutput != "" && userOutput != "-" {
			f, err := os.Create(userOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return m.Export(cmd.Context(), w)
	},
}

func init() {
	for _, c := range []*cobra.Command{usersListCmd, usersExportCmd} {
		userList.register(c)
		c.Flags().StringSliceVar(&userList.role, "role", nil, "only these roles")
	}
	usersExportCmd.Flags().StringVarP(&userOutput, "output", "o", "-", "write to file instead of stdout")
	usersSearchCmd.Flags().IntVar(&userSearchLimit, "limit", 10, "maximum results")

	usersCmd.AddCommand(usersListCmd, usersShowCmd, usersBlockCmd, usersUnblockCmd, usersRoleCmd,
		usersDeleteCmd, usersSearchCmd, usersActivityCmd, usersExportCmd)
}

func withUser(cmd *cobra.Command, id string, op func(*users.Manager, context.Context, string) (domain.User, error)) error {
	m := current.users()
	defer m.Close()
	u, err := op(m, cmd.Context(), id)
	if err != nil {
		return err
	}
	return printUser(u)
}

func printUserTable(w *tabwriter.Writer, list []domain.User) {
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tGROUP\tDISTRICT")
	for _, u := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email,
			current.display(string(u.Role)), current.display(string(u.Status)), u.BloodGroup, u.District)
	}
}
