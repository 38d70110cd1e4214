package apitest

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"lifeline/internal/domain"
	"lifeline/internal/middleware"
	"lifeline/internal/validation"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	b.mu.Lock()
	id, found := b.byEmail[email]
	var acc account
	if found {
		acc = *b.accounts[id]
	}
	b.mu.Unlock()

	if !found || bcrypt.CompareHashAndPassword(acc.password, []byte(req.Password)) != nil {
		fail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if acc.user.Status == domain.UserStatusBlocked {
		middleware.WriteJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": "Your account has been blocked",
			"blocked": true,
		})
		return
	}
	b.issueSession(w, http.StatusOK, acc.user)
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req domain.Profile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req.ConfirmPassword = req.Password
	if err := validation.Registration(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	b.mu.Lock()
	_, taken := b.byEmail[email]
	b.mu.Unlock()
	if taken {
		fail(w, http.StatusConflict, "Email is already registered")
		return
	}
	u := b.AddUser(domain.User{
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		BloodGroup: req.BloodGroup,
		Phone:      req.Phone,
		District:   req.District,
		Upazila:    req.Upazila,
		Avatar:     req.Avatar,
	}, req.Password)
	b.mu.Lock()
	b.recordActivity(u.ID, "register", "")
	b.notifyLocked(u.ID, domain.Notification{
		Type:    domain.NotificationAccount,
		Title:   "Welcome to Lifeline",
		Message: "Your donor account is ready.",
	})
	b.mu.Unlock()
	b.issueSession(w, http.StatusCreated, u)
}

func (b *Backend) verify(w http.ResponseWriter, r *http.Request) {
	ok(w, http.StatusOK, map[string]any{"data": currentUser(r)})
}

func (b *Backend) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.Profile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validation.ProfilePatch(req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	me := currentUser(r)

	b.mu.Lock()
	acc, found := b.accounts[me.ID]
	if !found {
		b.mu.Unlock()
		fail(w, http.StatusNotFound, "account not found")
		return
	}
	before := acc.user
	u := &acc.user
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" && email != u.Email {
		if _, taken := b.byEmail[email]; taken {
			b.mu.Unlock()
			fail(w, http.StatusConflict, "Email is already registered")
			return
		}
		delete(b.byEmail, u.Email)
		b.byEmail[email] = u.ID
		u.Email = email
	}
	setIf(&u.Name, strings.TrimSpace(req.Name))
	setIf(&u.BloodGroup, req.BloodGroup)
	setIf(&u.Phone, req.Phone)
	setIf(&u.District, req.District)
	setIf(&u.Upazila, req.Upazila)
	setIf(&u.Avatar, req.Avatar)
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
		if err != nil {
			b.mu.Unlock()
			fail(w, http.StatusInternalServerError, "failed to update password")
			return
		}
		acc.password = hash
	}
	u.UpdatedAt = b.now()
	updated := *u
	b.recordActivity(u.ID, "update_profile", "")
	b.mu.Unlock()

	if claimsChanged(before, updated) {
		b.issueSession(w, http.StatusOK, updated)
		return
	}
	ok(w, http.StatusOK, map[string]any{"data": updated})
}

// claimsChanged reports whether any field embedded in the token moved.
func claimsChanged(a, b domain.User) bool {
	return a.Email != b.Email || a.Name != b.Name || a.BloodGroup != b.BloodGroup ||
		a.Role != b.Role || a.Status != b.Status
}

func (b *Backend) issueSession(w http.ResponseWriter, status int, u domain.User) {
	token, err := middleware.SignJWT(b.secret, u, b.ttl, b.now())
	if err != nil {
		fail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	ok(w, status, map[string]any{"token": token, "user": u})
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
