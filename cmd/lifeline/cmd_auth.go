package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeline/internal/domain"
)

var (
	loginEmail    string
	loginPassword string

	registerProfile domain.Profile
	profilePatch    domain.Profile
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	Long: `Signs in with email and password. The password is read from --password,
then LIFELINE_PASSWORD, then one line of standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, loginPassword)
		if err != nil {
			return err
		}
		u, err := current.session.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return err
		}
		return printUser(*u)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		current.session.Logout(cmd.Context())
		fmt.Fprintln(current.out, "Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Let the background re-validation settle so a revoked token shows
		// up as signed out.
		current.session.Wait()
		u, ok := current.session.CurrentUser()
		if !ok {
			fmt.Fprintln(current.out, "Not signed in.")
			return nil
		}
		return printUser(u)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a donor account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, registerProfile.Password)
		if err != nil {
			return err
		}
		p := registerProfile
		p.Password = password
		if p.ConfirmPassword == "" {
			p.ConfirmPassword = password
		}
		u, err := current.session.Register(cmd.Context(), p)
		if err != nil {
			return err
		}
		return printUser(*u)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update your own profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := current.session.UpdateProfile(cmd.Context(), profilePatch)
		if err != nil {
			return err
		}
		return printUser(*u)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")

	f := registerCmd.Flags()
	f.StringVar(&registerProfile.Name, "name", "", "full name")
	f.StringVar(&registerProfile.Email, "email", "", "email")
	f.StringVar(&registerProfile.Password, "password", "", "password (min 6 characters)")
	f.StringVar(&registerProfile.ConfirmPassword, "confirm-password", "", "password again")
	f.StringVar(&registerProfile.BloodGroup, "blood-group", "", "A+, A-, B+, B-, AB+, AB-, O+ or O-")
	f.StringVar(&registerProfile.Phone, "phone", "", "phone number")
	f.StringVar(&registerProfile.District, "district", "", "district")
	f.StringVar(&registerProfile.Upazila, "upazila", "", "upazila")

	f = profileCmd.Flags()
	f.StringVar(&profilePatch.Name, "name", "", "full name")
	f.StringVar(&profilePatch.BloodGroup, "blood-group", "", "blood group")
	f.StringVar(&profilePatch.Phone, "phone", "", "phone number")
	f.StringVar(&profilePatch.District, "district", "", "district")
	f.StringVar(&profilePatch.Upazila, "upazila", "", "upazila")
	f.StringVar(&profilePatch.Avatar, "avatar", "", "avatar URL")
}

func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("LIFELINE_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printUser(u domain.User) error {
	return current.emit(u, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID\t%s\n", u.ID)
		fmt.Fprintf(w, "Name\t%s\n", u.Name)
		fmt.Fprintf(w, "Email\t%s\n", u.Email)
		fmt.Fprintf(w, "Role\t%s\n", current.display(string(u.Role)))
		fmt.Fprintf(w, "Status\t%s\n", current.display(string(u.Status)))
		if u.BloodGroup != "" {
			fmt.Fprintf(w, "Blood group\t%s\n", u.BloodGroup)
		}
		if u.District != "" {
			fmt.Fprintf(w, "Location\t%s, %s\n", u.Upazila, u.District)
		}
	})
}
