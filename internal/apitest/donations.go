package apitest

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lifeline/internal/domain"
	"lifeline/internal/validation"
)

var requestFilters = []string{"status", "bloodGroup", "district", "upazila", "requesterId", "donorId"}

func (b *Backend) requestSnapshot() []domain.DonationRequest {
	out := make([]domain.DonationRequest, 0, len(b.requests))
	for _, r := range b.requests {
		out = append(out, *r)
	}
	return out
}

func (b *Backend) listRequests(w http.ResponseWriter, r *http.Request) {
	p := parseList(r.URL.Query(), requestFilters...)
	b.mu.Lock()
	all := b.requestSnapshot()
	b.mu.Unlock()
	items, page, stats := paginate(all, p)
	ok(w, http.StatusOK, map[string]any{"data": items, "pagination": page, "stats": stats})
}

func (b *Backend) getRequest(w http.ResponseWriter, r *http.Request) {
	req, found := b.Request(chi.URLParam(r, "id"))
	if !found {
		fail(w, http.StatusNotFound, "Donation request not found")
		return
	}
	ok(w, http.StatusOK, map[string]any{"data": req})
}

func (b *Backend) createRequest(w http.ResponseWriter, r *http.Request) {
	var in domain.DonationRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validation.DonationRequest(in, b.now()); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	me := currentUser(r)
	created := b.AddRequest(domain.DonationRequest{
		RequesterID:   me.ID,
		RecipientName: in.RecipientName,
		District:      in.District,
		Upazila:       in.Upazila,
		Hospital:      in.Hospital,
		Address:       in.Address,
		BloodGroup:    in.BloodGroup,
		DonationDate:  in.DonationDate,
		DonationTime:  in.DonationTime,
		Message:       in.Message,
	})
	b.mu.Lock()
	b.recordActivity(me.ID, "create_request", created.ID)
	for _, acc := range b.accounts {
		u := acc.user
		if u.ID != me.ID && u.Role == domain.UserRoleDonor && u.IsActive() && u.BloodGroup == created.BloodGroup {
			b.notifyLocked(u.ID, domain.Notification{
				Type:    domain.NotificationDonationRequest,
				Title:   "New " + created.BloodGroup + " request",
				Message: created.RecipientName + " needs blood at " + created.Hospital,
				Link:    "/donation-requests/" + created.ID,
			})
		}
	}
	b.mu.Unlock()
	ok(w, http.StatusCreated, map[string]any{"data": created})
}

func (b *Backend) updateRequest(w http.ResponseWriter, r *http.Request) {
	var in domain.DonationRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validation.DonationRequestPatch(in, b.now()); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	me := currentUser(r)
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()
	req, found := b.requests[id]
	if !found {
		fail(w, http.StatusNotFound, "Donation request not found")
		return
	}
	if req.RequesterID != me.ID && me.Role != domain.UserRoleAdmin {
		fail(w, http.StatusForbidden, "Only the requester can edit this request")
		return
	}
	if req.Status != domain.RequestStatusPending {
		fail(w, http.StatusConflict, "Only pending requests can be edited")
		return
	}
	setIf(&req.RecipientName, in.RecipientName)
	setIf(&req.District, in.District)
	setIf(&req.Upazila, in.Upazila)
	setIf(&req.Hospital, in.Hospital)
	setIf(&req.Address, in.Address)
	setIf(&req.BloodGroup, in.BloodGroup)
	setIf(&req.DonationDate, in.DonationDate)
	setIf(&req.DonationTime, in.DonationTime)
	setIf(&req.Message, in.Message)
	req.UpdatedAt = b.now()
	ok(w, http.StatusOK, map[string]any{"data": *req})
}

func (b *Backend) deleteRequest(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()
	req, found := b.requests[id]
	if !found {
		fail(w, http.StatusNotFound, "Donation request not found")
		return
	}
	if req.RequesterID != me.ID && me.Role != domain.UserRoleAdmin {
		fail(w, http.StatusForbidden, "Only the requester can delete this request")
		return
	}
	delete(b.requests, id)
	b.recordActivity(me.ID, "delete_request", id)
	ok(w, http.StatusOK, map[string]any{"message": "Donation request deleted"})
}

type assignPayload struct {
	DonorID string `json:"donorId"`
}

func (b *Backend) assignDonor(w http.ResponseWriter, r *http.Request) {
	var in assignPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.DonorID == "" {
		fail(w, http.StatusBadRequest, "donorId is required")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, found := b.accounts[in.DonorID]
	if !found {
		fail(w, http.StatusNotFound, "Donor not found")
		return
	}
	b.assignLocked(w, chi.URLParam(r, "id"), acc.user, currentUser(r))
}

func (b *Backend) respondToRequest(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assignLocked(w, chi.URLParam(r, "id"), me, me)
}

// assignLocked runs the authoritative eligibility checks and moves the
// request to inprogress.
func (b *Backend) assignLocked(w http.ResponseWriter, id string, donor, actor domain.User) {
	req, found := b.requests[id]
	if !found {
		fail(w, http.StatusNotFound, "Donation request not found")
		return
	}
	switch {
	case req.Status != domain.RequestStatusPending:
		fail(w, http.StatusConflict, "Request is no longer pending")
		return
	case donor.Role != domain.UserRoleDonor || !donor.IsActive():
		fail(w, http.StatusForbidden, "Only active donors can donate")
		return
	case donor.ID == req.RequesterID:
		fail(w, http.StatusForbidden, "You cannot donate to your own request")
		return
	case donor.BloodGroup != req.BloodGroup:
		fail(w, http.StatusConflict, "Blood group does not match")
		return
	}
	req.Status = domain.RequestStatusInProgress
	req.DonorID = donor.ID
	req.DonorName = donor.Name
	req.DonorEmail = donor.Email
	req.UpdatedAt = b.now()
	b.recordActivity(actor.ID, "assign_donor", req.ID)
	b.notifyLocked(req.RequesterID, domain.Notification{
		Type:    domain.NotificationDonorAssigned,
		Title:   "Donor found",
		Message: donor.Name + " will donate for " + req.RecipientName,
		Link:    "/donation-requests/" + req.ID,
	})
	if actor.ID != donor.ID {
		b.notifyLocked(donor.ID, domain.Notification{
			Type:    domain.NotificationDonorAssigned,
			Title:   "You were assigned a request",
			Message: req.RecipientName + " at " + req.Hospital,
			Link:    "/donation-requests/" + req.ID,
		})
	}
	ok(w, http.StatusOK, map[string]any{"data": *req})
}

type statusPayload struct {
	Status domain.RequestStatus `json:"status"`
}

func (b *Backend) updateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var in statusPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	me := currentUser(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	req, found := b.requests[chi.URLParam(r, "id")]
	if !found {
		fail(w, http.StatusNotFound, "Donation request not found")
		return
	}
	privileged := me.Role == domain.UserRoleAdmin || me.Role == domain.UserRoleVolunteer
	if !privileged && me.ID != req.RequesterID && me.ID != req.DonorID {
		fail(w, http.StatusForbidden, "You cannot change this request")
		return
	}
	if !domain.CanTransition(req.Status, in.Status) {
		fail(w, http.StatusConflict, "Cannot move request from "+string(req.Status)+" to "+string(in.Status))
		return
	}
	if in.Status == domain.RequestStatusPending {
		req.DonorID, req.DonorName, req.DonorEmail = "", "", ""
	}
	req.Status = in.Status
	req.UpdatedAt = b.now()
	b.recordActivity(me.ID, "status_"+string(in.Status), req.ID)
	if me.ID != req.RequesterID {
		b.notifyLocked(req.RequesterID, domain.Notification{
			Type:    domain.NotificationStatusUpdate,
			Title:   "Request " + string(in.Status),
			Message: "The request for " + req.RecipientName + " is now " + string(in.Status),
			Link:    "/donation-requests/" + req.ID,
		})
	}
	ok(w, http.StatusOK, map[string]any{"data": *req})
}

func (b *Backend) analytics(w http.ResponseWriter, r *http.Request) {
	out := domain.DonationAnalytics{ByStatus: map[string]int{}, ByBloodGroup: map[string]int{}}
	b.mu.Lock()
	for _, req := range b.requests {
		out.Total++
		out.ByStatus[string(req.Status)]++
		out.ByBloodGroup[req.BloodGroup]++
	}
	for _, acc := range b.accounts {
		out.TotalUsers++
		if acc.user.Role == domain.UserRoleDonor {
			out.TotalDonors++
		}
	}
	b.mu.Unlock()
	ok(w, http.StatusOK, map[string]any{"data": out})
}

func (b *Backend) exportRequests(w http.ResponseWriter, r *http.Request) {
	p := parseList(r.URL.Query(), requestFilters...)
	p.page, p.limit = 1, 1<<30
	b.mu.Lock()
	all := b.requestSnapshot()
	b.mu.Unlock()
	items, _, _ := paginate(all, p)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="donation-requests.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "recipientName", "bloodGroup", "district", "upazila", "hospital", "donationDate", "status", "donorName"})
	for _, it := range items {
		_ = cw.Write([]string{it.ID, it.RecipientName, it.BloodGroup, it.District, it.Upazila, it.Hospital, it.DonationDate, string(it.Status), strings.TrimSpace(it.DonorName)})
	}
	cw.Flush()
}
