package api

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"lifeline/internal/domain"
)

const donationRequestsPath = "/donation-requests"

// ListDonationRequests fetches one page of requests matching q.
func (c *Client) ListDonationRequests(ctx context.Context, q domain.Query) (domain.Page[domain.DonationRequest], error) {
	env, err := c.do(ctx, call{op: "donations.list", method: http.MethodGet, path: donationRequestsPath, query: q.Values()})
	if err != nil {
		return domain.Page[domain.DonationRequest]{}, err
	}
	return decodePage[domain.DonationRequest](env)
}

func (c *Client) GetDonationRequest(ctx context.Context, id string) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{op: "donations.get", method: http.MethodGet, path: idPath(donationRequestsPath, id)})
}

func (c *Client) CreateDonationRequest(ctx context.Context, in domain.DonationRequestInput) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{op: "donations.create", method: http.MethodPost, path: donationRequestsPath, body: in})
}

func (c *Client) UpdateDonationRequest(ctx context.Context, id string, in domain.DonationRequestInput) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{op: "donations.update", method: http.MethodPut, path: idPath(donationRequestsPath, id), body: in})
}

func (c *Client) DeleteDonationRequest(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "donations.delete", method: http.MethodDelete, path: idPath(donationRequestsPath, id)})
	return err
}

type assignDonorRequest struct {
	DonorID string `json:"donorId"`
}

// AssignDonor attaches donorID to a pending request, moving it to inprogress.
func (c *Client) AssignDonor(ctx context.Context, id, donorID string) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{
		op:     "donations.assign_donor",
		method: http.MethodPatch,
		path:   idPath(donationRequestsPath, id, "assign-donor"),
		body:   assignDonorRequest{DonorID: donorID},
	})
}

// RespondToRequest volunteers the signed-in donor for a request.
func (c *Client) RespondToRequest(ctx context.Context, id string) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{op: "donations.respond", method: http.MethodPost, path: idPath(donationRequestsPath, id, "respond")})
}

type statusRequest struct {
	Status domain.RequestStatus `json:"status"`
}

// UpdateRequestStatus asks for a status transition (done, cancelled, or back
// to pending when the donor is released).
func (c *Client) UpdateRequestStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.DonationRequest, error) {
	return c.donationCall(ctx, call{
		op:     "donations.status",
		method: http.MethodPatch,
		path:   idPath(donationRequestsPath, id, "status"),
		body:   statusRequest{Status: status},
	})
}

func (c *Client) DonationAnalytics(ctx context.Context) (*domain.DonationAnalytics, error) {
	env, err := c.do(ctx, call{op: "donations.analytics", method: http.MethodGet, path: donationRequestsPath + "/analytics"})
	if err != nil {
		return nil, err
	}
	var out domain.DonationAnalytics
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportDonationRequests streams the CSV export for q into w.
func (c *Client) ExportDonationRequests(ctx context.Context, q domain.Query, w io.Writer) error {
	return c.export(ctx, "donations.export", donationRequestsPath+"/export", q.Values(), w)
}

func (c *Client) donationCall(ctx context.Context, cl call) (*domain.DonationRequest, error) {
	env, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	var out domain.DonationRequest
	if err := decodeData(env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) export(ctx context.Context, op, path string, query url.Values, w io.Writer) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("format", "csv")
	raw, err := c.send(ctx, call{op: op, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	_, err = w.Write(raw.body)
	return err
}
