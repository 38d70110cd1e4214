// Package api is the thin REST client every manager talks to the backend
// through.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"lifeline/internal/domain"
	"lifeline/internal/infra"
)

// ErrMissingBaseURL indicates that the client was configured without a backend.
var ErrMissingBaseURL = errors.New("api: base url is required")

const maxResponseBytes = 16 << 20

// errServerSide marks a 5xx so the breaker counts it as a failure.
var errServerSide = errors.New("api: server side failure")

// Credentials is the owner of the credential token. The client reads the
// token before each authenticated call and reports rejections back to it.
type Credentials interface {
	Token() string
	// Unauthorized is called when the backend rejected token with 401.
	Unauthorized(token string)
	// Blocked is called when the backend reported the account behind token
	// as blocked.
	Blocked(token string)
}

// Options configures the REST client.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	Timeout         time.Duration
	Logger          *infra.Logger
	Locale          string
	UserAgent       string
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client performs JSON calls against the backend. A Client without
// credentials can only make public calls; WithCredentials binds one to a
// session.
type Client struct {
	baseURL    string
	locale     string
	userAgent  string
	httpClient *http.Client
	logger     infra.Logger
	breaker    *gobreaker.CircuitBreaker[*rawResponse]
	creds      Credentials
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// envelope is the backend's response shape. Fields beyond success/message
// are optional and endpoint specific.
type envelope struct {
	Success    *bool              `json:"success"`
	Message    string             `json:"message"`
	Error      string             `json:"error"`
	Code       string             `json:"code"`
	Blocked    bool               `json:"blocked"`
	Data       json.RawMessage    `json:"data"`
	Token      string             `json:"token"`
	User       json.RawMessage    `json:"user"`
	Pagination *domain.Pagination `json:"pagination"`
	Stats      map[string]int     `json:"stats"`
	Unread     *int               `json:"unreadCount"`
}

func (e *envelope) message() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	public bool
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "lifeline-client/1"
	}
	logger := infra.Component(opts.Logger, "api")

	breaker := gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL:    baseURL,
		locale:     strings.TrimSpace(opts.Locale),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
		breaker:    breaker,
	}, nil
}

// WithCredentials returns a copy of c bound to creds. The copy shares the
// transport and circuit breaker with c.
func (c *Client) WithCredentials(creds Credentials) *Client {
	clone := *c
	clone.creds = creds
	return &clone
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, cl call) (*envelope, error) {
	raw, err := c.send(ctx, cl)
	if err != nil {
		return nil, err
	}
	env := &envelope{}
	if len(bytes.TrimSpace(raw.body)) > 0 {
		if err := json.Unmarshal(raw.body, env); err != nil {
			return nil, &domain.ServerError{Status: raw.status, Message: "unexpected response from server"}
		}
	}
	if env.Success != nil && !*env.Success {
		return nil, &domain.ServerError{Status: raw.status, Message: env.message()}
	}
	return env, nil
}

// send performs the HTTP exchange and maps every non-2xx response onto the
// error taxonomy. On success the raw body is returned undecoded.
func (c *Client) send(ctx context.Context, cl call) (*rawResponse, error) {
	token := ""
	if !cl.public {
		if c.creds != nil {
			token = c.creds.Token()
		}
		if token == "" {
			return nil, &domain.AuthError{Err: domain.ErrUnauthenticated}
		}
	}

	var payload []byte
	if cl.body != nil {
		encoded, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("api: encode %s: %w", cl.op, err)
		}
		payload = encoded
	}

	endpoint := c.baseURL + cl.path
	if len(cl.query) > 0 {
		endpoint += "?" + cl.query.Encode()
	}
	requestID := uuid.NewString()

	var raw *rawResponse
	start := time.Now()
	_, err := c.breaker.Execute(func() (*rawResponse, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, cl.method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Request-ID", requestID)
		req.Header.Set("User-Agent", c.userAgent)
		if c.locale != "" {
			req.Header.Set("Accept-Language", c.locale)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		raw = &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return raw, errServerSide
		}
		return raw, nil
	})

	log := c.logger.Debug().Str("op", cl.op).Str("request_id", requestID).Dur("took", time.Since(start))
	if raw != nil {
		log = log.Int("status", raw.status)
	}
	log.Msg("api call")

	if err != nil && !errors.Is(err, errServerSide) {
		c.logger.Warn().Err(err).Str("op", cl.op).Str("request_id", requestID).Msg("api call failed")
		return nil, &domain.NetworkError{Op: cl.op, Err: err}
	}
	if raw.status >= 200 && raw.status < 300 {
		return raw, nil
	}
	return nil, c.statusError(cl, token, raw)
}

func (c *Client) statusError(cl call, token string, raw *rawResponse) error {
	env := &envelope{}
	_ = json.Unmarshal(raw.body, env)
	msg := env.message()

	switch raw.status {
	case http.StatusUnauthorized:
		if cl.public {
			if msg == "" {
				msg = "Invalid email or password."
			}
			return &domain.AuthError{Message: msg, Err: domain.ErrInvalidCredentials}
		}
		if c.creds != nil {
			c.creds.Unauthorized(token)
		}
		return &domain.AuthError{Message: msg, Err: domain.ErrInvalidToken}
	case http.StatusForbidden:
		if isBlocked(env) {
			if !cl.public && c.creds != nil {
				c.creds.Blocked(token)
			}
			return &domain.ServerError{Status: raw.status, Message: msg, Blocked: true}
		}
	}
	return &domain.ServerError{Status: raw.status, Message: msg}
}

func isBlocked(env *envelope) bool {
	if env.Blocked || strings.EqualFold(env.Code, "blocked") {
		return true
	}
	return strings.Contains(strings.ToLower(env.message()), "blocked")
}

func decodeData(env *envelope, dest any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &domain.ServerError{Status: http.StatusOK, Message: "empty response from server"}
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return &domain.ServerError{Status: http.StatusOK, Message: "unexpected response from server"}
	}
	return nil
}

func decodePage[T any](env *envelope) (domain.Page[T], error) {
	var page domain.Page[T]
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &page.Items); err != nil {
			return page, &domain.ServerError{Status: http.StatusOK, Message: "unexpected response from server"}
		}
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	page.Stats = env.Stats
	return page, nil
}

func idPath(prefix, id string, suffix ...string) string {
	p := prefix + "/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}
