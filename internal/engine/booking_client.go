package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vantagechat/engage/pkg/logging"
)

// BookingAPIError carries the booking endpoint's status and human-readable
// error for template mapping.
type BookingAPIError struct {
	Status  int
	Message string
}

func (e *BookingAPIError) Error() string {
	return fmt.Sprintf("booking api: status %d: %s", e.Status, e.Message)
}

// HTTPBookingClient talks to the external booking endpoint.
type HTTPBookingClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

var _ BookingAPI = (*HTTPBookingClient)(nil)

// NewHTTPBookingClient creates a booking API client.
func NewHTTPBookingClient(baseURL string, timeout time.Duration, logger *logging.Logger) *HTTPBookingClient {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBookingClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger.Component("booking_client"),
	}
}

// Create issues the POST for a new booking.
func (c *HTTPBookingClient) Create(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	return c.send(ctx, http.MethodPost, "/bookings", req)
}

// Reschedule issues the PUT for an existing booking.
func (c *HTTPBookingClient) Reschedule(ctx context.Context, req RescheduleRequest) (*BookingConfirmation, error) {
	return c.send(ctx, http.MethodPut, "/bookings/"+req.BookingID, req)
}

// Cancel issues the DELETE for an existing booking.
func (c *HTTPBookingClient) Cancel(ctx context.Context, bookingID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/bookings/"+bookingID, nil)
	if err != nil {
		return fmt.Errorf("engine: build cancel request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("engine: cancel booking: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	return nil
}

func (c *HTTPBookingClient) send(ctx context.Context, method, path string, payload any) (*BookingConfirmation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal booking payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("engine: build booking request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine: send booking request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.apiError(resp)
	}

	var confirmation BookingConfirmation
	if err := json.NewDecoder(resp.Body).Decode(&confirmation); err != nil {
		// Success without a parseable body still counts as booked.
		return &BookingConfirmation{}, nil
	}
	return &confirmation, nil
}

func (c *HTTPBookingClient) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		message = body.Error
		if message == "" {
			message = body.Message
		}
	}
	if message == "" {
		message = string(raw)
	}
	return &BookingAPIError{Status: resp.StatusCode, Message: message}
}
