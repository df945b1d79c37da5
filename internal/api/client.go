// Package api implements the stateless HTTP side of the push service:
// fetching pending messages, advancing the server-side watermark, icon
// downloads, and the one-shot registration exchange.
//
// Every operation is a single request with no internal retry; the sync
// engine decides when to try again.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "pullover/pkg/logx"
)

const (
	// DefaultEndpoint is the fixed HTTP API base.
	DefaultEndpoint = "https://api.pushover.net/1"

	defaultRequestTimeout = 30 * time.Second

	// Icon downloads are decoration: keep the bound short so a slow asset
	// server cannot stall a batch cycle.
	defaultIconTimeout = 10 * time.Second

	statusOK = 1
)

type Config struct {
	Endpoint string
	Secret   string
	DeviceID string

	RequestTimeout time.Duration
	IconTimeout    time.Duration
}

// Client talks to the push service. It holds no mutable state beyond the
// embedded http.Client and is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.IconTimeout <= 0 {
		cfg.IconTimeout = defaultIconTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  log,
	}
}

// FetchPending returns all messages the service still considers undelivered,
// in the order the service returned them (ascending id expected but not
// assumed by callers).
func (c *Client) FetchPending(ctx context.Context) ([]Message, error) {
	const op = "fetch pending"

	q := url.Values{}
	q.Set("secret", c.cfg.Secret)
	q.Set("device_id", c.cfg.DeviceID)

	var out messagesResponse
	if err := c.getJSON(ctx, op, c.cfg.Endpoint+"/messages.json?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if out.Status != statusOK {
		return nil, &ServiceError{Op: op, Status: out.Status, Errs: out.Errors}
	}
	c.log.Debug("fetched pending messages", logx.Int("count", len(out.Messages)))
	return out.Messages, nil
}

// AdvanceWatermark reports id as the new highest delivered message. Callers
// must only pass the maximum id of a fully processed batch; the service
// accepts lower ids but ignores them.
func (c *Client) AdvanceWatermark(ctx context.Context, id int64) error {
	const op = "advance watermark"

	form := url.Values{}
	form.Set("secret", c.cfg.Secret)
	form.Set("message", strconv.FormatInt(id, 10))

	endpoint := fmt.Sprintf("%s/devices/%s/update_highest_message.json", c.cfg.Endpoint, url.PathEscape(c.cfg.DeviceID))

	var out statusResponse
	if err := c.postForm(ctx, op, endpoint, form, &out); err != nil {
		return err
	}
	if out.Status != statusOK {
		return &ServiceError{Op: op, Status: out.Status, Errs: out.Errors}
	}
	c.log.Info("watermark advanced", logx.Int64("message_id", id))
	return nil
}

// FetchIcon downloads the raw image bytes for iconID. The request is bounded
// by the configured icon timeout regardless of the parent context deadline.
func (c *Client) FetchIcon(ctx context.Context, iconID string) ([]byte, error) {
	const op = "fetch icon"

	ctx, cancel := context.WithTimeout(ctx, c.cfg.IconTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/icons/%s.png", c.cfg.Endpoint, url.PathEscape(iconID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: op, Status: resp.StatusCode, Errs: []string{"unexpected HTTP status " + resp.Status}}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return b, nil
}

// Login exchanges user credentials for the account secret. This is the
// registration flow, run once from the CLI; the sync engine never calls it.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"

	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)

	var out loginResponse
	if err := c.postForm(ctx, op, c.cfg.Endpoint+"/users/login.json", form, &out); err != nil {
		return "", err
	}
	if out.Status != statusOK {
		return "", &ServiceError{Op: op, Status: out.Status, Errs: out.Errors}
	}
	return out.Secret, nil
}

// RegisterDevice creates a new open-client device under the given secret and
// returns its id.
func (c *Client) RegisterDevice(ctx context.Context, secret, name string) (string, error) {
	const op = "register device"

	form := url.Values{}
	form.Set("secret", secret)
	form.Set("name", name)
	form.Set("os", "O")

	var out registerResponse
	if err := c.postForm(ctx, op, c.cfg.Endpoint+"/devices.json", form, &out); err != nil {
		return "", err
	}
	if out.Status != statusOK {
		return "", &ServiceError{Op: op, Status: out.Status, Errs: out.Errors}
	}
	return out.ID, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return c.doJSON(op, req, out)
}

func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doJSON(op, req, out)
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	// The service reports failures through the JSON status field, including
	// on 4xx responses, so decode the body before judging the HTTP status.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("malformed response (HTTP %s): %w", resp.Status, err)}
	}
	return nil
}
