package kommo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/wolfman30/rental-ops/pkg/logging"
)

var kommoTracer = otel.Tracer("rentalops.internal.kommo")

const (
	defaultUserAgent = "rental-ops-webhook/1.0"
	defaultMaxRetry  = 4
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
	minRetryDelay    = 100 * time.Millisecond
	maxJitter        = 250 * time.Millisecond
	snippetLimit     = 300
)

// ErrDownloadReturnedJSON signals that a file download answered with a JSON
// document instead of the binary, which Kommo does for expired or wrong links.
var ErrDownloadReturnedJSON = errors.New("kommo: download returned application/json instead of file content")

// RetryObserver receives one callback per retried request.
type RetryObserver interface {
	ObserveKommoRetry(path string, status int)
}

// Config controls how the Kommo client behaves.
type Config struct {
	BaseURL     string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RateLimit is requests per second; zero disables client-side limiting.
	RateLimit  float64
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
	Metrics    RetryObserver
}

// Client performs authenticated reads against the Kommo REST API and drive.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	logger     *logging.Logger
	userAgent  string
	metrics    RetryObserver

	timer  backoff.Timer
	jitter func() time.Duration
	now    func() time.Time
}

// New creates a configured Client with floors applied to the retry tuning.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kommo: base URL is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("kommo: access token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetry
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = defaultBaseDelay
	}
	if baseDelay < minRetryDelay {
		baseDelay = minRetryDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = defaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.AccessToken,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
		metrics:    cfg.Metrics,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
		now: time.Now,
	}, nil
}

// Get issues an authenticated GET for an API path (or absolute URL) and
// returns the raw JSON body. 204 and empty bodies yield (nil, nil).
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(resp.body)
	if resp.status == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("kommo: GET %s returned invalid JSON (status=%d): %s", path, resp.status, snippet(body))
	}
	return json.RawMessage(body), nil
}

// GetLead fetches a lead with its embedded contacts. A nil lead with a nil
// error means Kommo returned no content.
func (c *Client) GetLead(ctx context.Context, leadID int64) (*Lead, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/api/v4/leads/%d?with=contacts,custom_fields", leadID))
	if err != nil || raw == nil {
		return nil, err
	}
	var lead Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return nil, fmt.Errorf("kommo: decode lead %d: %w", leadID, err)
	}
	lead.Raw = raw
	return &lead, nil
}

// GetContact fetches a contact with custom fields.
func (c *Client) GetContact(ctx context.Context, contactID int64) (*Contact, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/api/v4/contacts/%d?with=custom_fields", contactID))
	if err != nil || raw == nil {
		return nil, err
	}
	var contact Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		return nil, fmt.Errorf("kommo: decode contact %d: %w", contactID, err)
	}
	contact.Raw = raw
	return &contact, nil
}

// ListFiles returns the attachments linked to an entity ("leads", "contacts").
func (c *Client) ListFiles(ctx context.Context, entityType string, entityID int64) ([]FileRef, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/api/v4/%s/%d/files", entityType, entityID))
	if err != nil || raw == nil {
		return nil, err
	}
	var wrapper struct {
		Embedded struct {
			Files []FileRef `json:"files"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("kommo: decode %s %d files: %w", entityType, entityID, err)
	}
	return wrapper.Embedded.Files, nil
}

// AccountDriveURL asks the account endpoint for the drive base URL.
func (c *Client) AccountDriveURL(ctx context.Context) (string, error) {
	raw, err := c.Get(ctx, "/api/v4/account?with=drive_url")
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", errors.New("kommo: account endpoint returned no content")
	}
	var account struct {
		DriveURL string `json:"drive_url"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return "", fmt.Errorf("kommo: decode account: %w", err)
	}
	return strings.TrimRight(strings.TrimSpace(account.DriveURL), "/"), nil
}

// FileDescriptor loads a drive file descriptor by uuid.
func (c *Client) FileDescriptor(ctx context.Context, driveURL, fileUUID string) (*FileDescriptor, error) {
	if strings.TrimSpace(driveURL) == "" {
		return nil, errors.New("kommo: drive url required")
	}
	raw, err := c.Get(ctx, strings.TrimRight(driveURL, "/")+"/v1.0/files/"+fileUUID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("kommo: drive returned no descriptor for %s", fileUUID)
	}
	var desc FileDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("kommo: decode file descriptor %s: %w", fileUUID, err)
	}
	if desc.UUID == "" {
		desc.UUID = fileUUID
	}
	return &desc, nil
}

// Download fetches binary content from a drive download link.
func (c *Client) Download(ctx context.Context, href string) ([]byte, string, error) {
	resp, err := c.fetch(ctx, href)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json") {
		return nil, contentType, fmt.Errorf("%w: %s", ErrDownloadReturnedJSON, snippet(resp.body))
	}
	return resp.body, contentType, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) fetch(ctx context.Context, path string) (*response, error) {
	ctx, span := kommoTracer.Start(ctx, "kommo.get")
	defer span.End()
	span.SetAttributes(attribute.String("kommo.path", path))

	fullURL := c.buildURL(path)
	policy := &retryPolicy{
		base:   c.baseDelay,
		max:    c.maxDelay,
		jitter: c.jitter,
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries-1)), ctx)

	var result *response
	attempt := 0
	operation := func() error {
		attempt++
		policy.attempt = attempt
		policy.retryAfter = 0
		policy.hasRetryAfter = false

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("kommo: build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !retryableTransport(err) {
				return backoff.Permanent(fmt.Errorf("kommo: http error: %w", err))
			}
			c.logRetry(path, attempt, 0, err)
			return fmt.Errorf("kommo: http error: %w", err)
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return backoff.Permanent(fmt.Errorf("kommo: read response: %w", readErr))
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result = &response{status: resp.StatusCode, header: resp.Header, body: data}
			return nil
		}
		apiErr := &APIError{Path: path, StatusCode: resp.StatusCode, Body: snippet(data)}
		if !retryableStatus(resp.StatusCode) {
			return backoff.Permanent(apiErr)
		}
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
			policy.retryAfter = d
			policy.hasRetryAfter = true
		}
		c.logRetry(path, attempt, resp.StatusCode, apiErr)
		return apiErr
	}

	if err := backoff.RetryNotifyWithTimer(operation, b, nil, c.timer); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Int("kommo.attempts", attempt))
		return nil, err
	}
	span.SetAttributes(attribute.Int("kommo.attempts", attempt))
	return result, nil
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if attempt >= c.maxRetries {
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveKommoRetry(path, status)
	}
	c.logger.Warn("kommo retry",
		"path", path,
		"attempt", attempt,
		"max_retries", c.maxRetries,
		"status", status,
		"error", err,
	)
}

// retryPolicy implements backoff.BackOff: Retry-After wins when present,
// otherwise min(max, base*2^(attempt-1)); jitter is always added and the
// result never drops below 100ms.
type retryPolicy struct {
	base          time.Duration
	max           time.Duration
	jitter        func() time.Duration
	attempt       int
	retryAfter    time.Duration
	hasRetryAfter bool
}

func (p *retryPolicy) NextBackOff() time.Duration {
	return retryDelay(p.attempt, p.base, p.max, p.retryAfter, p.hasRetryAfter, p.jitter)
}

func (p *retryPolicy) Reset() {
	p.attempt = 0
	p.retryAfter = 0
	p.hasRetryAfter = false
}

func retryDelay(attempt int, base, max, retryAfter time.Duration, hasRetryAfter bool, jitter func() time.Duration) time.Duration {
	var delay time.Duration
	if hasRetryAfter {
		delay = retryAfter
	} else {
		if attempt < 1 {
			attempt = 1
		}
		delay = max
		if shift := attempt - 1; shift < 32 {
			if exp := base * time.Duration(1<<shift); exp < max {
				delay = exp
			}
		}
	}
	if jitter != nil {
		delay += jitter()
	}
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	return delay
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func retryableTransport(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// APIError is returned for non-2xx responses once retries are exhausted or
// the status is not retryable.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kommo: GET %s failed with status %d: %s", e.Path, e.StatusCode, e.Body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		return s[:snippetLimit] + "..."
	}
	return s
}
