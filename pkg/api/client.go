package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// Error taxonomy for the backend endpoints. Callers retry or degrade
// based on which sentinel an error wraps; they never see raw transport
// errors.
var (
	// ErrNetwork marks transport failures and timeouts.
	ErrNetwork = errors.New("network error")
	// ErrProtocol marks non-2xx statuses and malformed response bodies.
	ErrProtocol = errors.New("protocol error")
	// ErrTooManyRequests marks an HTTP 429 from the ping endpoint; the
	// poller applies its dedicated larger backoff window for these.
	ErrTooManyRequests = errors.New("too many requests")
)

const (
	tracerName     = "inapp-api"
	defaultTimeout = 20 * time.Second
)

// ClientConfig carries the static request metadata every endpoint needs.
type ClientConfig struct {
	ConfigURL       string
	AppID           string
	AppVersion      string
	SDKVersion      string
	Locale          string
	SubscriptionKey string
	Timeout         time.Duration
}

// Client talks JSON-over-HTTP to the messaging backend. Endpoint URLs
// beyond the config endpoint are learned from the config response and
// set via SetEndpoints before the pipeline starts.
type Client struct {
	http      *http.Client
	cfg       ClientConfig
	endpoints Endpoints
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		cfg:  cfg,
	}
}

// SetEndpoints installs the endpoint URLs from the config response.
func (c *Client) SetEndpoints(endpoints Endpoints) {
	c.endpoints = endpoints
}

// FetchConfig retrieves rollout percentage and endpoint URLs. A config
// failure is terminal for engine initialization.
func (c *Client) FetchConfig(ctx context.Context) (*ConfigResponse, error) {
	var resp ConfigResponse
	if err := c.get(ctx, "config", c.cfg.ConfigURL, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping fetches the authoritative campaign list from the mixer.
func (c *Client) Ping(ctx context.Context, req PingRequest) (*PingResponse, error) {
	var resp PingResponse
	if err := c.post(ctx, "ping", c.endpoints.Ping, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckDisplayPermission asks whether a campaign may be displayed.
// The error return lets the dispatcher retry transient failures; once
// retries are exhausted it falls back to DefaultDisplayPermission.
func (c *Client) CheckDisplayPermission(ctx context.Context, req DisplayPermissionRequest) (*DisplayPermissionResponse, error) {
	var resp DisplayPermissionResponse
	if err := c.post(ctx, "display_permission", c.endpoints.DisplayPermission, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportImpression sends one impression report. At-most-once: the
// caller logs and drops errors rather than retrying.
func (c *Client) ReportImpression(ctx context.Context, req ImpressionRequest) error {
	return c.post(ctx, "impression", c.endpoints.Impression, req, nil)
}

func (c *Client) post(ctx context.Context, operation, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s request: %v", ErrProtocol, operation, err)
	}
	return c.do(ctx, operation, http.MethodPost, url, bytes.NewReader(payload), out)
}

func (c *Client) get(ctx context.Context, operation, url string, out interface{}) error {
	return c.do(ctx, operation, http.MethodGet, url, nil, out)
}

func (c *Client) do(ctx context.Context, operation, method, url string, body io.Reader, out interface{}) error {
	if url == "" {
		return fmt.Errorf("%w: no endpoint configured for %s", ErrProtocol, operation)
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, operation)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%w: failed to build %s request: %v", ErrProtocol, operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("device-id", c.cfg.AppID)
	if c.cfg.SubscriptionKey != "" {
		req.Header.Set("Subscription-Id", c.cfg.SubscriptionKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s call failed: %v", ErrNetwork, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("%w: %s returned %s", ErrTooManyRequests, operation, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("%w: %s returned %s", ErrProtocol, operation, resp.Status)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrProtocol, operation, err)
	}

	logrus.Debugf("%s call succeeded (%s)", operation, resp.Status)
	return nil
}
