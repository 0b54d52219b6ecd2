// Package client is the scanning device's view of the check-in server.
// It implements the ledger authority, the review queue and the history
// store over HTTP so that a DeviceLedger and Reconciler can run against
// the server exactly as they would against local instances.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/event-checkin/internal/history"
	"github.com/iliyamo/event-checkin/internal/ledger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// ErrUnauthorized is returned when the server rejects the device token.
var ErrUnauthorized = errors.New("client: unauthorized")

// Client talks to the check-in server.  Transport failures and gateway
// errors are reported as model NetworkUnavailable errors; everything else
// is a definite answer from the server.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns a client for baseURL authenticating with token.  timeout
// bounds every request.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: u, token: token, http: &http.Client{Timeout: timeout}}, nil
}

// apiError is the error body written by the server.
type apiError struct {
	Error  string       `json:"error"`
	Reason model.Reason `json:"reason,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.Unavailable(err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		err := c.errorFrom(resp)
		return nil, model.Unavailable(err)
	}
	return resp, nil
}

// errorFrom consumes resp and turns its body into an error.
func (c *Client) errorFrom(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Reason != "" {
		return &model.Error{Reason: body.Reason, Detail: body.Error}
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
}

func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return model.Unavailable(fmt.Errorf("client: decode response: %w", err))
	}
	return nil
}

// Redeem implements ledger.Authority against POST /v1/ledger/redemptions.
func (c *Client) Redeem(ctx context.Context, req ledger.Request) (ledger.Result, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/ledger/redemptions", nil, req)
	if err != nil {
		return ledger.Result{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		var res ledger.Result
		if err := decode(resp, &res); err != nil {
			return res, err
		}
		if resp.StatusCode == http.StatusConflict {
			res.Outcome = ledger.OutcomeDuplicate
		}
		return res, nil
	}
	return ledger.Result{}, c.errorFrom(resp)
}

// Submit implements ledger.ReviewQueue.
func (c *Client) Submit(ctx context.Context, item model.ReviewItem) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/reviews", nil, item)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 == 2 {
		resp.Body.Close()
		return nil
	}
	return c.errorFrom(resp)
}

// List implements ledger.ReviewQueue.
func (c *Client) List(ctx context.Context, eventID string, limit int) ([]model.ReviewItem, error) {
	q := url.Values{}
	if eventID != "" {
		q.Set("event_id", eventID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/v1/reviews", q, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp)
	}
	var out struct {
		Items []model.ReviewItem `json:"items"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Append implements history.Store.  A record the server already holds
// (409) counts as appended, which makes spooled flushes idempotent.
func (c *Client) Append(ctx context.Context, rec model.CheckinRecord) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/checkins", nil, rec)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		return nil
	}
	return c.errorFrom(resp)
}

// Query implements history.Store.
func (c *Client) Query(ctx context.Context, f history.Filter) ([]model.CheckinRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/checkins", f.Values(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFrom(resp)
	}
	var out struct {
		Records []model.CheckinRecord `json:"records"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Export streams the CSV export for f into w.
func (c *Client) Export(ctx context.Context, f history.Filter, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/checkins/export", f.Values(), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// Online implements the connectivity probe with GET /healthz.
func (c *Client) Online(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
