// Package salesorder talks to the invoicing bridge that turns a confirmed
// booking into a sales order.
package salesorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/rental-ops/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("rentalops.internal.salesorder")

// ErrDisabled is returned when no invoicing bridge is configured.
var ErrDisabled = errors.New("salesorder: creator not configured")

// Result mirrors the bridge response.
type Result struct {
	Success       bool
	Message       string
	SalesOrderID  string
	SalesOrderURL string
	Error         string
}

// AlreadyExists reports whether the bridge found an existing order for the
// booking instead of creating one.
func (r Result) AlreadyExists() bool {
	return r.Success && strings.Contains(strings.ToLower(r.Message), "already exists")
}

// Creator creates sales orders for bookings.
type Creator interface {
	CreateForBooking(ctx context.Context, bookingID string) (Result, error)
}

// HTTPCreator calls the bridge over HTTP.
type HTTPCreator struct {
	url    string
	token  string
	client *http.Client
	logger *logging.Logger
}

// NewHTTPCreator returns nil when url is empty.
func NewHTTPCreator(url, token string, timeout time.Duration, logger *logging.Logger) *HTTPCreator {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPCreator{
		url:    url,
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type createRequest struct {
	BookingID string `json:"bookingId"`
}

type createResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Message       string `json:"message"`
		SalesOrderID  string `json:"salesOrderId"`
		SalesOrderURL string `json:"salesOrderUrl"`
	} `json:"data"`
	Error string `json:"error"`
}

// CreateForBooking posts the booking id to the bridge. A non-2xx status with a
// decodable body is a Result with Success=false, not an error; transport and
// decode failures are errors.
func (c *HTTPCreator) CreateForBooking(ctx context.Context, bookingID string) (Result, error) {
	if c == nil {
		return Result{}, ErrDisabled
	}
	ctx, span := tracer.Start(ctx, "salesorder.create")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	body, err := json.Marshal(createRequest{BookingID: bookingID})
	if err != nil {
		return Result{}, fmt.Errorf("salesorder: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("salesorder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("salesorder: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("salesorder: read response: %w", err)
	}

	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("salesorder: status %d: invalid response: %w", resp.StatusCode, err)
	}
	result := Result{
		Success:       decoded.Success && resp.StatusCode < http.StatusBadRequest,
		Message:       decoded.Data.Message,
		SalesOrderID:  decoded.Data.SalesOrderID,
		SalesOrderURL: decoded.Data.SalesOrderURL,
		Error:         decoded.Error,
	}
	if !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("sales order bridge returned status %d", resp.StatusCode)
	}
	c.logger.Debug("sales order bridge responded", "booking_id", bookingID, "status", resp.StatusCode, "success", result.Success)
	return result, nil
}

var _ Creator = (*HTTPCreator)(nil)
