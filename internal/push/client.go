// Package push delivers notification payloads to browser push service
// endpoints. It is the only place that sees provider HTTP status codes;
// callers receive a closed taxonomy of delivery classes.
package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
)

// DefaultTTL is the push service retention applied when a send does not set one.
const DefaultTTL = 24 * time.Hour

// Config captures the subset of push service behaviour we need.
type Config struct {
	// Authorization is the pre-built VAPID credential sent with every request.
	Authorization string
	// ContactEmail identifies the sender to push services per their operator policies.
	ContactEmail string
	Timeout      time.Duration
	DefaultTTL   time.Duration
	Client       *http.Client
}

// Client posts payloads to push service endpoints.
type Client struct {
	authorization string
	contactEmail  string
	defaultTTL    time.Duration
	client        *http.Client
}

// NewClient builds a push delivery client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	auth := strings.TrimSpace(cfg.Authorization)
	if auth == "" {
		return nil, errors.New("push authorization credential is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		authorization: auth,
		contactEmail:  strings.TrimSpace(cfg.ContactEmail),
		defaultTTL:    ttl,
		client:        hc,
	}, nil
}

// Send delivers one payload to one subscription endpoint. A non-2xx
// provider response comes back as a *DeliveryError carrying the taxonomy
// class; transport failures come back unclassified.
func (c *Client) Send(
	ctx context.Context,
	sub *model.PushSubscription,
	payload []byte,
	opts core.SendOptions,
) error {
	if sub == nil || strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("subscription endpoint is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("TTL", strconv.Itoa(int(ttl.Seconds())))
	if opts.Urgency != "" {
		req.Header.Set("Urgency", opts.Urgency)
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}
	if c.contactEmail != "" {
		req.Header.Set("From", c.contactEmail)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return drainAndClose(resp)
	}
	return c.errorFromResponse(sub.Endpoint, resp)
}

func (c *Client) errorFromResponse(endpoint string, resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		respBody = nil
	}
	if closeErr != nil && readErr == nil {
		readErr = closeErr
	}

	msg := strings.TrimSpace(string(respBody))
	if msg == "" {
		msg = resp.Status
	}

	return &DeliveryError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Class:      ClassifyStatus(resp.StatusCode),
		Message:    msg,
	}
}

func drainAndClose(resp *http.Response) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain push response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain push response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

var _ core.PushSender = (*Client)(nil)
