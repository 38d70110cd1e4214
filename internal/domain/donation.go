package domain

import (
	"strings"
	"time"
)

// RequestStatus enumerates donation request lifecycle states.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusInProgress RequestStatus = "inprogress"
	RequestStatusDone       RequestStatus = "done"
	RequestStatusCanceled   RequestStatus = "cancelled"
)

// RequestStatuses lists every status in display order.
var RequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusInProgress,
	RequestStatusDone,
	RequestStatusCanceled,
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:    {RequestStatusInProgress, RequestStatusCanceled},
	RequestStatusInProgress: {RequestStatusDone, RequestStatusCanceled, RequestStatusPending},
}

// CanTransition reports whether a request in status from may move to to.
// Terminal states (done, cancelled) have no outgoing transitions.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BloodGroups lists the accepted ABO/Rh groups.
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// ValidBloodGroup reports whether g is one of BloodGroups.
func ValidBloodGroup(g string) bool {
	for _, bg := range BloodGroups {
		if bg == g {
			return true
		}
	}
	return false
}

// DonationRequest is a request for blood posted by a requester.
type DonationRequest struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requesterId"`
	RequesterName  string        `json:"requesterName"`
	RequesterEmail string        `json:"requesterEmail"`
	RecipientName  string        `json:"recipientName"`
	District       string        `json:"district"`
	Upazila        string        `json:"upazila"`
	Hospital       string        `json:"hospital"`
	Address        string        `json:"address,omitempty"`
	BloodGroup     string        `json:"bloodGroup"`
	DonationDate   string        `json:"donationDate"`
	DonationTime   string        `json:"donationTime,omitempty"`
	Message        string        `json:"message,omitempty"`
	Status         RequestStatus `json:"status"`
	DonorID        string        `json:"donorId,omitempty"`
	DonorName      string        `json:"donorName,omitempty"`
	DonorEmail     string        `json:"donorEmail,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Key implements the collection record contract.
func (d DonationRequest) Key() string { return d.ID }

// StatusKey implements the collection record contract.
func (d DonationRequest) StatusKey() string { return string(d.Status) }

// Value exposes filterable and sortable fields by their wire name.
func (d DonationRequest) Value(field string) any {
	switch field {
	case "id":
		return d.ID
	case "requesterId":
		return d.RequesterID
	case "requesterEmail":
		return d.RequesterEmail
	case "recipientName":
		return d.RecipientName
	case "district":
		return d.District
	case "upazila":
		return d.Upazila
	case "hospital":
		return d.Hospital
	case "bloodGroup":
		return d.BloodGroup
	case "donationDate":
		return d.DonationDate
	case "status":
		return string(d.Status)
	case "donorId":
		return d.DonorID
	case "createdAt":
		return d.CreatedAt
	case "updatedAt":
		return d.UpdatedAt
	}
	return nil
}

// SearchText is matched against free-text search.
func (d DonationRequest) SearchText() string {
	return strings.Join([]string{d.RecipientName, d.RequesterName, d.Hospital, d.District, d.Upazila, d.Address}, " ")
}

// DonationRequestInput is the create/update payload for a request.
type DonationRequestInput struct {
	RecipientName string `json:"recipientName,omitempty"`
	District      string `json:"district,omitempty"`
	Upazila       string `json:"upazila,omitempty"`
	Hospital      string `json:"hospital,omitempty"`
	Address       string `json:"address,omitempty"`
	BloodGroup    string `json:"bloodGroup,omitempty"`
	DonationDate  string `json:"donationDate,omitempty"`
	DonationTime  string `json:"donationTime,omitempty"`
	Message       string `json:"message,omitempty"`
}
