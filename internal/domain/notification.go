package domain

import "time"

// NotificationType identifies the channel a notification belongs to.
type NotificationType string

const (
	NotificationDonationRequest NotificationType = "donation_request"
	NotificationDonorAssigned   NotificationType = "donor_assigned"
	NotificationStatusUpdate    NotificationType = "status_update"
	NotificationAccount         NotificationType = "account"
	NotificationSystem          NotificationType = "system"
)

// NotificationTypes lists the channels a user can toggle.
var NotificationTypes = []NotificationType{
	NotificationDonationRequest,
	NotificationDonorAssigned,
	NotificationStatusUpdate,
	NotificationAccount,
	NotificationSystem,
}

// Notification is a server-side alert addressed to the current user.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	Link      string           `json:"link,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
}

// NotificationInput is the admin payload for broadcasting a notification.
type NotificationInput struct {
	UserID  string           `json:"userId,omitempty"`
	Role    UserRole         `json:"role,omitempty"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Link    string           `json:"link,omitempty"`
}

// CountUnread returns the number of unread notifications in items.
func CountUnread(items []Notification) int {
	n := 0
	for _, item := range items {
		if !item.Read {
			n++
		}
	}
	return n
}
