package apitest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lifeline/internal/domain"
	"lifeline/internal/middleware"
)

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.I18N(b.locale),
		middleware.Logger(b.logger),
		middleware.RateLimit(b.limit, time.Minute),
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
	})

	b.handle(r, http.MethodPost, "/auth/login", b.login)
	b.handle(r, http.MethodPost, "/auth/register", b.register)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(b.secret, b.lookupAccount))

		b.handle(r, http.MethodGet, "/auth/verify", b.verify)
		b.handle(r, http.MethodPut, "/auth/profile", b.updateProfile)

		b.handle(r, http.MethodGet, "/donation-requests", b.listRequests)
		b.handle(r, http.MethodPost, "/donation-requests", b.createRequest)
		b.handle(r, http.MethodGet, "/donation-requests/{id}", b.getRequest)
		b.handle(r, http.MethodPut, "/donation-requests/{id}", b.updateRequest)
		b.handle(r, http.MethodDelete, "/donation-requests/{id}", b.deleteRequest)
		b.handle(r, http.MethodPost, "/donation-requests/{id}/respond", b.respondToRequest)
		b.handle(r, http.MethodPatch, "/donation-requests/{id}/status", b.updateRequestStatus)

		b.handle(r, http.MethodGet, "/notifications", b.listNotifications)
		b.handle(r, http.MethodPatch, "/notifications/read-all", b.markAllRead)
		b.handle(r, http.MethodPatch, "/notifications/{id}/read", b.markRead)
		b.handle(r, http.MethodDelete, "/notifications", b.deleteAllNotifications)
		b.handle(r, http.MethodDelete, "/notifications/{id}", b.deleteNotification)
		b.handle(r, http.MethodPut, "/notifications/preferences", b.syncPreferences)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.UserRoleVolunteer, domain.UserRoleAdmin))
			b.handle(r, http.MethodGet, "/donation-requests/analytics", b.analytics)
			b.handle(r, http.MethodGet, "/donation-requests/export", b.exportRequests)
			b.handle(r, http.MethodPatch, "/donation-requests/{id}/assign-donor", b.assignDonor)
			b.handle(r, http.MethodGet, "/users/search", b.searchUsers)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.UserRoleAdmin))
			b.handle(r, http.MethodGet, "/users", b.listUsers)
			b.handle(r, http.MethodGet, "/users/export", b.exportUsers)
			b.handle(r, http.MethodGet, "/users/{id}", b.getUser)
			b.handle(r, http.MethodPut, "/users/{id}", b.updateUser)
			b.handle(r, http.MethodDelete, "/users/{id}", b.deleteUser)
			b.handle(r, http.MethodGet, "/users/{id}/activity", b.userActivity)
			b.handle(r, http.MethodPost, "/notifications", b.createNotification)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "route not found")
	})
	return r
}

// handle registers h under "METHOD pattern" so tests can inject faults, hold
// calls and count hits by that key.
func (b *Backend) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	key := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		b.hits[key]++
		gate := b.gates[key]
		var f *fault
		if queued := b.faults[key]; len(queued) > 0 {
			f = &queued[0]
			b.faults[key] = queued[1:]
		}
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-req.Context().Done():
				return
			}
		}
		if f != nil {
			body := f.body
			if body == nil {
				body = map[string]any{"success": false, "message": f.message}
			}
			middleware.WriteJSON(w, f.status, body)
			return
		}
		h(w, req)
	}))
}

func ok(w http.ResponseWriter, status int, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	middleware.WriteJSON(w, status, fields)
}

func fail(w http.ResponseWriter, status int, message string) {
	middleware.WriteError(w, status, message)
}

func currentUser(r *http.Request) domain.User {
	u, _ := middleware.UserFromContext(r.Context())
	return u
}
