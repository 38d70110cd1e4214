package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifeline/internal/domain"
	"lifeline/internal/notify"
)

var (
	notifUnreadOnly bool

	prefChannels []string
	prefQuiet    string
	prefQuietOff bool
	prefSound    string
	prefSync     bool

	sendInput domain.NotificationInput
	sendRole  string
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Read and manage your notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			if err := m.Fetch(cmd.Context()); err != nil {
				return err
			}
			items := m.Items()
			if notifUnreadOnly {
				unread := items[:0]
				for _, n := range items {
					if !n.Read {
						unread = append(unread, n)
					}
				}
				items = unread
			}
			return current.emit(items, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "\tID\tWHEN\tTYPE\tTITLE")
				for _, n := range items {
					mark := " "
					if !n.Read {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"),
						current.display(strings.ReplaceAll(string(n.Type), "_", " ")), n.Title)
				}
				fmt.Fprintf(w, "\n%d unread.\n", m.Unread())
			})
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			return m.MarkAsRead(cmd.Context(), args[0])
		})
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			return m.MarkAllAsRead(cmd.Context())
		})
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			return m.Delete(cmd.Context(), args[0])
		})
	},
}

var notificationsDeleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			return m.DeleteAll(cmd.Context())
		})
	},
}

var notificationsPrefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change pop-up preferences on this device",
	Long: `Without flags, prints the current preferences. Examples:

  lifeline notifications prefs --channel system=off
  lifeline notifications prefs --quiet 22:00-07:30
  lifeline notifications prefs --quiet-off --sound off --sync`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			ctx := cmd.Context()
			for _, c := range prefChannels {
				t, on, err := parseChannel(c)
				if err != nil {
					return err
				}
				if err := m.SetChannel(ctx, t, on); err != nil {
					return err
				}
			}
			if prefQuiet != "" || prefQuietOff {
				q := m.Preferences().QuietHours
				if prefQuiet != "" {
					from, to, ok := strings.Cut(prefQuiet, "-")
					if !ok {
						return fmt.Errorf("quiet hours must look like 22:00-08:00, got %q", prefQuiet)
					}
					start, err := notify.ParseClock(strings.TrimSpace(from))
					if err != nil {
						return err
					}
					end, err := notify.ParseClock(strings.TrimSpace(to))
					if err != nil {
						return err
					}
					q = notify.QuietHours{Enabled: true, Start: start, End: end}
				}
				if prefQuietOff {
					q.Enabled = false
				}
				if err := m.SetQuietHours(ctx, q); err != nil {
					return err
				}
			}
			if prefSound != "" {
				on, err := parseSwitch(prefSound)
				if err != nil {
					return err
				}
				if err := m.SetSound(ctx, on); err != nil {
					return err
				}
			}
			if prefSync {
				if err := m.SyncSettings(ctx); err != nil {
					return err
				}
			}
			return printPreferences(m.Preferences(), m.SoundEnabled())
		})
	},
}

var notificationsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification to a user, a role or everyone (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotifications(cmd, func(m *notify.Manager) error {
			in := sendInput
			in.Role = domain.UserRole(sendRole)
			n, err := m.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return current.emit(n, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Sent\t%s\n", n.ID)
			})
		})
	},
}

func init() {
	notificationsListCmd.Flags().BoolVarP(&notifUnreadOnly, "unread", "u", false, "only unread notifications")

	f := notificationsPrefsCmd.Flags()
	f.StringSliceVar(&prefChannels, "channel", nil, "toggle a channel, e.g. donor_assigned=off")
	f.StringVar(&prefQuiet, "quiet", "", "quiet hours as HH:MM-HH:MM")
	f.BoolVar(&prefQuietOff, "quiet-off", false, "disable quiet hours")
	f.StringVar(&prefSound, "sound", "", "on or off")
	f.BoolVar(&prefSync, "sync", false, "push preferences to your account")

	f = notificationsSendCmd.Flags()
	f.StringVar(&sendInput.UserID, "user", "", "recipient user ID")
	f.StringVar(&sendRole, "role", "", "recipient role")
	f.StringVar((*string)(&sendInput.Type), "type", string(domain.NotificationSystem), "notification type")
	f.StringVar(&sendInput.Title, "title", "", "title")
	f.StringVar(&sendInput.Message, "message", "", "message")
	f.StringVar(&sendInput.Link, "link", "", "link")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsReadAllCmd,
		notificationsDeleteCmd, notificationsDeleteAllCmd, notificationsPrefsCmd, notificationsSendCmd)
}

func withNotifications(cmd *cobra.Command, fn func(m *notify.Manager) error) error {
	m, err := current.notifications(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func parseChannel(s string) (domain.NotificationType, bool, error) {
	name, state, ok := strings.Cut(s, "=")
	if !ok {
		return "", false, fmt.Errorf("channel must look like type=on|off, got %q", s)
	}
	t := domain.NotificationType(strings.TrimSpace(name))
	known := false
	for _, k := range domain.NotificationTypes {
		if k == t {
			known = true
			break
		}
	}
	if !known {
		return "", false, fmt.Errorf("unknown notification type %q", name)
	}
	on, err := parseSwitch(state)
	return t, on, err
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func printPreferences(p notify.Preferences, sound bool) error {
	out := struct {
		notify.Preferences
		Sound bool `json:"sound"`
	}{p, sound}
	return current.emit(out, func(w *tabwriter.Writer) {
		for _, t := range domain.NotificationTypes {
			state := "off"
			if p.Enabled(t) {
				state = "on"
			}
			fmt.Fprintf(w, "%s\t%s\n", current.display(strings.ReplaceAll(string(t), "_", " ")), state)
		}
		quiet := "off"
		if p.QuietHours.Enabled {
			quiet = notify.FormatClock(p.QuietHours.Start) + "-" + notify.FormatClock(p.QuietHours.End)
		}
		fmt.Fprintf(w, "Quiet hours\t%s\n", quiet)
		state := "off"
		if sound {
			state = "on"
		}
		fmt.Fprintf(w, "Sound\t%s\n", state)
	})
}
