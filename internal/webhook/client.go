package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"hookchat/internal/domain"
	"hookchat/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultMaxResponseBytes = 4 << 20 // 4MB
	maxErrorBodyBytes       = 64 << 10
)

// ConnectionFailedMessage is the text returned for transport failures.
const ConnectionFailedMessage = "could not connect to the webhook service"

// FailureKind classifies why a webhook call did not succeed.
type FailureKind string

const (
	FailureHTTP      FailureKind = "http"      // non-2xx status
	FailureTransport FailureKind = "transport" // network error, timeout, cancel
	FailureEncode    FailureKind = "encode"    // payload could not be marshalled
	FailureTooLarge  FailureKind = "too_large" // reply exceeded MaxResponseBytes
)

// TooLargeMessage is the text returned when a reply exceeds the size cap.
const TooLargeMessage = "the webhook reply was too large to display"

// Failure is the error returned by Client.Send. Message is safe to show to
// the user; Err keeps the underlying cause.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("webhook %s failure (status %d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("webhook %s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// UserMessage returns the display text for err. Non-Failure errors get the
// generic connection message.
func UserMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return ConnectionFailedMessage
}

// ClientConfig configures a webhook Client.
type ClientConfig struct {
	URL              string
	Timeout          time.Duration
	Secret           string            // optional HMAC-SHA256 signing secret
	Headers          map[string]string // extra request headers
	MaxResponseBytes int64

	// RatePerMinute > 0 makes Send wait for a token; Burst calls may go at once.
	RatePerMinute float64
	Burst         int

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client posts FormData to a single webhook endpoint.
type Client struct {
	url        string
	secret     string
	headers    map[string]string
	maxBody    int64
	limiter    *rate.Limiter // nil when unthrottled
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient validates the endpoint and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q: must be an absolute http(s) URL", cfg.URL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), max(cfg.Burst, 1))
	}
	return &Client{
		url:        u.String(),
		limiter:    limiter,
		secret:     cfg.Secret,
		headers:    cfg.Headers,
		maxBody:    cfg.MaxResponseBytes,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// URL returns the configured endpoint.
func (c *Client) URL() string { return c.url }

// Send posts form to the webhook and builds the resulting WebhookResponse.
// All failures are returned as *Failure.
func (c *Client) Send(ctx context.Context, form domain.FormData) (*domain.WebhookResponse, error) {
	metrics.WebhookRequests.Inc()
	start := time.Now()
	defer func() {
		metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.WebhookFailures(string(FailureTransport)).Inc()
			return nil, &Failure{Kind: FailureTransport, Message: ConnectionFailedMessage, Err: err}
		}
	}

	payload, err := json.Marshal(form)
	if err != nil {
		metrics.WebhookFailures(string(FailureEncode)).Inc()
		return nil, &Failure{Kind: FailureEncode, Message: "could not encode the request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhookFailures(string(FailureTransport)).Inc()
		return nil, &Failure{Kind: FailureTransport, Message: ConnectionFailedMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, c.secret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.WebhookFailures(string(FailureTransport)).Inc()
		c.logger.Warn("webhook request failed", "url", c.url, "err", err)
		return nil, &Failure{Kind: FailureTransport, Message: ConnectionFailedMessage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := errorMessage(raw)
		if msg == "" {
			msg = fmt.Sprintf("webhook request failed with status %d", resp.StatusCode)
		}
		metrics.WebhookFailures(string(FailureHTTP)).Inc()
		c.logger.Warn("webhook returned error status", "status", resp.StatusCode, "message", msg)
		return nil, &Failure{Kind: FailureHTTP, StatusCode: resp.StatusCode, Message: msg}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		metrics.WebhookFailures(string(FailureTransport)).Inc()
		c.logger.Warn("reading webhook response failed", "err", err)
		return nil, &Failure{Kind: FailureTransport, Message: ConnectionFailedMessage, Err: err}
	}
	if int64(len(raw)) > c.maxBody {
		metrics.WebhookFailures(string(FailureTooLarge)).Inc()
		c.logger.Warn("webhook reply exceeds size limit", "limit", c.maxBody)
		return nil, &Failure{
			Kind:    FailureTooLarge,
			Message: TooLargeMessage,
			Err:     fmt.Errorf("reply larger than %d bytes", c.maxBody),
		}
	}

	body := Parse(raw)
	c.logger.Debug("webhook reply",
		"status", resp.StatusCode,
		"kind", body.Kind.String(),
		"bytes", len(raw),
	)
	return c.buildResponse(form, body), nil
}

func (c *Client) buildResponse(form domain.FormData, body Body) *domain.WebhookResponse {
	out := &domain.WebhookResponse{
		ID:           body.Meta.ID,
		ReceivedData: form,
		Status:       domain.StatusProcessed,
		ProcessedAt:  c.now().UTC(),
		Message:      body.Display(),
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if st, ok := domain.ParseStatus(body.Meta.Status); ok {
		out.Status = st
	}
	if body.Meta.ProcessedAt != "" {
		if t, err := time.Parse(time.RFC3339, body.Meta.ProcessedAt); err == nil {
			out.ProcessedAt = t
		}
	}
	return out
}
