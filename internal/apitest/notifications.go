package apitest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifeline/internal/domain"
	"lifeline/internal/validation"
)

func (b *Backend) listNotifications(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	b.mu.Lock()
	list := b.notificationsLocked(me.ID)
	b.mu.Unlock()
	ok(w, http.StatusOK, map[string]any{"data": list, "unreadCount": domain.CountUnread(list)})
}

func (b *Backend) markRead(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.notes[me.ID] {
		if n.ID == id {
			if !n.Read {
				now := b.now()
				n.Read = true
				n.ReadAt = &now
			}
			ok(w, http.StatusOK, map[string]any{"data": *n})
			return
		}
	}
	fail(w, http.StatusNotFound, "Notification not found")
}

func (b *Backend) markAllRead(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	b.mu.Lock()
	now := b.now()
	for _, n := range b.notes[me.ID] {
		if !n.Read {
			n.Read = true
			n.ReadAt = &now
		}
	}
	b.mu.Unlock()
	ok(w, http.StatusOK, map[string]any{"message": "All notifications marked as read"})
}

func (b *Backend) deleteNotification(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.notes[me.ID]
	for i, n := range list {
		if n.ID == id {
			b.notes[me.ID] = append(list[:i:i], list[i+1:]...)
			ok(w, http.StatusOK, map[string]any{"message": "Notification deleted"})
			return
		}
	}
	fail(w, http.StatusNotFound, "Notification not found")
}

func (b *Backend) deleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	b.mu.Lock()
	delete(b.notes, me.ID)
	b.mu.Unlock()
	ok(w, http.StatusOK, map[string]any{"message": "All notifications deleted"})
}

// createNotification targets one user, every user of a role, or everyone.
func (b *Backend) createNotification(w http.ResponseWriter, r *http.Request) {
	var in domain.NotificationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validation.Notification(in); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if in.UserID != "" {
		if _, found := b.accounts[in.UserID]; !found {
			fail(w, http.StatusNotFound, "User not found")
			return
		}
	}
	var last domain.Notification
	for id, acc := range b.accounts {
		if in.UserID != "" && id != in.UserID {
			continue
		}
		if in.Role != "" && acc.user.Role != in.Role {
			continue
		}
		last = b.notifyLocked(id, domain.Notification{Type: in.Type, Title: in.Title, Message: in.Message, Link: in.Link})
	}
	ok(w, http.StatusCreated, map[string]any{"data": last})
}

func (b *Backend) syncPreferences(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil || !json.Valid(raw) {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	me := currentUser(r)
	b.mu.Lock()
	b.prefs[me.ID] = json.RawMessage(raw)
	b.mu.Unlock()
	ok(w, http.StatusOK, map[string]any{"message": "Preferences saved"})
}
