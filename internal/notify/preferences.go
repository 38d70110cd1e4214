package notify

import (
	"context"
	"fmt"
	"time"

	"lifeline/internal/domain"
	"lifeline/internal/infra"
	"lifeline/internal/storage"
)

const minutesPerDay = 24 * 60

// QuietHours is a daily window, in minutes after local midnight, during
// which pop-ups are suppressed. The window is [Start, End); it wraps past
// midnight when End < Start and is empty when Start == End.
type QuietHours struct {
	Enabled bool `json:"enabled"`
	Start   int  `json:"start"`
	End     int  `json:"end"`
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled || q.Start == q.End {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if q.Start < q.End {
		return now >= q.Start && now < q.End
	}
	return now >= q.Start || now < q.End
}

func (q QuietHours) validate() error {
	v := map[string]string{}
	if q.Start < 0 || q.Start >= minutesPerDay {
		v["quietHours.start"] = "must be between 00:00 and 23:59"
	}
	if q.End < 0 || q.End >= minutesPerDay {
		v["quietHours.end"] = "must be between 00:00 and 23:59"
	}
	if len(v) > 0 {
		return &domain.ValidationError{Fields: v}
	}
	return nil
}

// ParseClock turns "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &domain.ValidationError{Fields: map[string]string{"time": fmt.Sprintf("%q is not HH:MM", s)}}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Preferences are the local pop-up settings. They belong to the device, not
// the session, and are only sent to the backend by SyncSettings.
type Preferences struct {
	Channels   map[domain.NotificationType]bool `json:"channels"`
	QuietHours QuietHours                       `json:"quietHours"`
}

// DefaultPreferences enables every channel with quiet hours off.
func DefaultPreferences() Preferences {
	p := Preferences{
		Channels:   make(map[domain.NotificationType]bool, len(domain.NotificationTypes)),
		QuietHours: QuietHours{Start: 22 * 60, End: 8 * 60},
	}
	for _, t := range domain.NotificationTypes {
		p.Channels[t] = true
	}
	return p
}

// Enabled reports whether pop-ups of type t are wanted. Unknown types are
// enabled.
func (p Preferences) Enabled(t domain.NotificationType) bool {
	on, ok := p.Channels[t]
	return !ok || on
}

// Allows reports whether n may pop up at now.
func (p Preferences) Allows(n domain.Notification, now time.Time) bool {
	return p.Enabled(n.Type) && !p.QuietHours.Contains(now)
}

func (p Preferences) clone() Preferences {
	out := p
	out.Channels = make(map[domain.NotificationType]bool, len(p.Channels))
	for k, v := range p.Channels {
		out.Channels[k] = v
	}
	return out
}

// loadSettings reads the persisted preferences and sound flag. Anything
// unreadable or out of range falls back to the defaults with a warning, so
// a corrupt blob never keeps the manager from starting.
func loadSettings(ctx context.Context, s storage.Store, logger infra.Logger) (Preferences, bool) {
	prefs := DefaultPreferences()
	var stored Preferences
	found, err := storage.GetJSON(ctx, s, storage.KeyNotificationPreferences, &stored)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("stored notification preferences unreadable; using defaults")
	case found:
		if err := stored.QuietHours.validate(); err != nil {
			logger.Warn().Err(err).Msg("stored quiet hours out of range; using defaults")
			break
		}
		for k, v := range stored.Channels {
			prefs.Channels[k] = v
		}
		prefs.QuietHours = stored.QuietHours
	}
	sound := true
	if _, err := storage.GetJSON(ctx, s, storage.KeySoundEnabled, &sound); err != nil {
		logger.Warn().Err(err).Msg("stored sound flag unreadable; using default")
		sound = true
	}
	return prefs, sound
}
