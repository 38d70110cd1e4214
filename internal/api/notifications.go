package api

import (
	"context"
	"net/http"

	"lifeline/internal/domain"
)

const notificationsPath = "/notifications"

// ListNotifications returns the signed-in user's notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	env, err := c.do(ctx, call{op: "notifications.list", method: http.MethodGet, path: notificationsPath})
	if err != nil {
		return nil, err
	}
	page, err := decodePage[domain.Notification](env)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "notifications.read", method: http.MethodPatch, path: idPath(notificationsPath, id, "read")})
	return err
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.do(ctx, call{op: "notifications.read_all", method: http.MethodPatch, path: notificationsPath + "/read-all"})
	return err
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "notifications.delete", method: http.MethodDelete, path: idPath(notificationsPath, id)})
	return err
}

func (c *Client) DeleteAllNotifications(ctx context.Context) error {
	_, err := c.do(ctx, call{op: "notifications.delete_all", method: http.MethodDelete, path: notificationsPath})
	return err
}

// CreateNotification broadcasts a notification (admin only on the backend).
func (c *Client) CreateNotification(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	env, err := c.do(ctx, call{op: "notifications.create", method: http.MethodPost, path: notificationsPath, body: in})
	if err != nil {
		return nil, err
	}
	var out domain.Notification
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncNotificationPreferences uploads the locally stored preferences. It is
// the only path by which preferences reach the backend.
func (c *Client) SyncNotificationPreferences(ctx context.Context, prefs any) error {
	_, err := c.do(ctx, call{op: "notifications.preferences", method: http.MethodPut, path: notificationsPath + "/preferences", body: prefs})
	return err
}
