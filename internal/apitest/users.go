package apitest

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lifeline/internal/domain"
)

var userFilters = []string{"role", "status", "bloodGroup", "district", "upazila"}

func (b *Backend) userSnapshot() []domain.User {
	out := make([]domain.User, 0, len(b.accounts))
	for _, acc := range b.accounts {
		out = append(out, acc.user)
	}
	return out
}

func (b *Backend) listUsers(w http.ResponseWriter, r *http.Request) {
	p := parseList(r.URL.Query(), userFilters...)
	b.mu.Lock()
	all := b.userSnapshot()
	b.mu.Unlock()
	items, page, stats := paginate(all, p)
	ok(w, http.StatusOK, map[string]any{"data": items, "pagination": page, "stats": stats})
}

func (b *Backend) getUser(w http.ResponseWriter, r *http.Request) {
	u, found := b.User(chi.URLParam(r, "id"))
	if !found {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	ok(w, http.StatusOK, map[string]any{"data": u})
}

func (b *Backend) updateUser(w http.ResponseWriter, r *http.Request) {
	var patch domain.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if patch.Role != "" && !patch.Role.Valid() {
		fail(w, http.StatusBadRequest, "unknown role")
		return
	}
	if patch.Status != "" && patch.Status != domain.UserStatusActive && patch.Status != domain.UserStatusBlocked {
		fail(w, http.StatusBadRequest, "unknown status")
		return
	}
	me := currentUser(r)
	id := chi.URLParam(r, "id")
	if id == me.ID && (patch.Role != "" || patch.Status != "") {
		fail(w, http.StatusForbidden, "You cannot change your own role or status")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acc, found := b.accounts[id]
	if !found {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	u := &acc.user
	if patch.Role != "" && patch.Role != u.Role {
		u.Role = patch.Role
		b.recordActivity(u.ID, "role_changed", string(patch.Role))
		b.notifyLocked(u.ID, domain.Notification{
			Type:    domain.NotificationAccount,
			Title:   "Role updated",
			Message: "You are now a " + string(patch.Role),
		})
	}
	if patch.Status != "" && patch.Status != u.Status {
		u.Status = patch.Status
		b.recordActivity(u.ID, "status_changed", string(patch.Status))
		b.notifyLocked(u.ID, domain.Notification{
			Type:    domain.NotificationAccount,
			Title:   "Account " + string(patch.Status),
			Message: "Your account is now " + string(patch.Status),
		})
	}
	setIf(&u.Name, strings.TrimSpace(patch.Name))
	setIf(&u.BloodGroup, patch.BloodGroup)
	setIf(&u.District, patch.District)
	setIf(&u.Upazila, patch.Upazila)
	u.UpdatedAt = b.now()
	ok(w, http.StatusOK, map[string]any{"data": *u})
}

func (b *Backend) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == currentUser(r).ID {
		fail(w, http.StatusForbidden, "You cannot delete your own account")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, found := b.accounts[id]
	if !found {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	delete(b.byEmail, acc.user.Email)
	delete(b.accounts, id)
	delete(b.notes, id)
	delete(b.prefs, id)
	ok(w, http.StatusOK, map[string]any{"message": "User deleted"})
}

func (b *Backend) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := parseList(q, userFilters...)
	p.search = strings.ToLower(strings.TrimSpace(q.Get("q")))
	p.sortField, p.desc = "name", false
	b.mu.Lock()
	all := b.userSnapshot()
	b.mu.Unlock()
	items, _, _ := paginate(all, p)
	ok(w, http.StatusOK, map[string]any{"data": items})
}

func (b *Backend) userActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	_, found := b.accounts[id]
	list := append([]domain.UserActivity(nil), b.activity[id]...)
	b.mu.Unlock()
	if !found {
		fail(w, http.StatusNotFound, "User not found")
		return
	}
	// newest first
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	if list == nil {
		list = []domain.UserActivity{}
	}
	ok(w, http.StatusOK, map[string]any{"data": list})
}

func (b *Backend) exportUsers(w http.ResponseWriter, r *http.Request) {
	p := parseList(r.URL.Query(), userFilters...)
	p.page, p.limit = 1, 1<<30
	b.mu.Lock()
	all := b.userSnapshot()
	b.mu.Unlock()
	items, _, _ := paginate(all, p)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "name", "email", "role", "status", "bloodGroup", "district", "upazila"})
	for _, u := range items {
		_ = cw.Write([]string{u.ID, u.Name, u.Email, string(u.Role), string(u.Status), u.BloodGroup, u.District, u.Upazila})
	}
	cw.Flush()
}
