// Package validation implements the client-side field rules that run before
// any form reaches the network.
package validation

import (
	"net/mail"
	"strings"
	"time"

	"lifeline/internal/domain"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Err returns nil when there are no violations, else a *domain.ValidationError.
func (v Violations) Err() error {
	if v.Empty() {
		return nil
	}
	fields := make(map[string]string, len(v))
	for k, msg := range v {
		fields[k] = msg
	}
	return &domain.ValidationError{Fields: fields}
}

// Each rule records only the first failure per field.
func (v Violations) set(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.set(field, "required")
	}
}

func Email(field, value string, v Violations) {
	value = strings.TrimSpace(value)
	if value == "" {
		v.set(field, "required")
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.set(field, "invalid_email")
	}
}

func MinLength(field, value string, n int, v Violations) {
	if len([]rune(value)) < n {
		v.set(field, "too_short")
	}
}

func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if a == value {
			return
		}
	}
	v.set(field, "invalid_choice")
}

func Match(field, value, other string, v Violations) {
	if value != other {
		v.set(field, "mismatch")
	}
}

// DateNotBefore checks that value (YYYY-MM-DD) is a date on or after the day
// of now.
func DateNotBefore(field, value string, now time.Time, v Violations) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), now.Location())
	if err != nil {
		v.set(field, "invalid_date")
		return
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if d.Before(today) {
		v.set(field, "in_past")
	}
}

// Login validates the sign-in form.
func Login(email, password string) error {
	v := Violations{}
	Email("email", email, v)
	Required("password", password, v)
	return v.Err()
}

// Registration validates the sign-up form.
func Registration(p domain.Profile) error {
	v := Violations{}
	Required("name", p.Name, v)
	Email("email", p.Email, v)
	Required("password", p.Password, v)
	MinLength("password", p.Password, 6, v)
	Match("confirmPassword", p.ConfirmPassword, p.Password, v)
	OneOf("bloodGroup", p.BloodGroup, domain.BloodGroups, v)
	Required("district", p.District, v)
	Required("upazila", p.Upazila, v)
	return v.Err()
}

// ProfilePatch validates only the fields a patch sets.
func ProfilePatch(p domain.Profile) error {
	v := Violations{}
	if p.Email != "" {
		Email("email", p.Email, v)
	}
	if p.Password != "" {
		MinLength("password", p.Password, 6, v)
		Match("confirmPassword", p.ConfirmPassword, p.Password, v)
	}
	if p.BloodGroup != "" {
		OneOf("bloodGroup", p.BloodGroup, domain.BloodGroups, v)
	}
	return v.Err()
}

// DonationRequest validates the create-request form.
func DonationRequest(in domain.DonationRequestInput, now time.Time) error {
	v := Violations{}
	Required("recipientName", in.RecipientName, v)
	Required("district", in.District, v)
	Required("upazila", in.Upazila, v)
	Required("hospital", in.Hospital, v)
	OneOf("bloodGroup", in.BloodGroup, domain.BloodGroups, v)
	DateNotBefore("donationDate", in.DonationDate, now, v)
	return v.Err()
}

// DonationRequestPatch validates only the fields a patch sets.
func DonationRequestPatch(in domain.DonationRequestInput, now time.Time) error {
	v := Violations{}
	if in.BloodGroup != "" {
		OneOf("bloodGroup", in.BloodGroup, domain.BloodGroups, v)
	}
	if in.DonationDate != "" {
		DateNotBefore("donationDate", in.DonationDate, now, v)
	}
	return v.Err()
}

// Notification validates an admin broadcast.
func Notification(in domain.NotificationInput) error {
	v := Violations{}
	Required("title", in.Title, v)
	Required("message", in.Message, v)
	types := make([]string, 0, len(domain.NotificationTypes))
	for _, t := range domain.NotificationTypes {
		types = append(types, string(t))
	}
	OneOf("type", string(in.Type), types, v)
	return v.Err()
}
