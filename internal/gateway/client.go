package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantagechat/engage/internal/observability/metrics"
	"github.com/vantagechat/engage/pkg/logging"
)

// responseContract is attached to every outbound request so the backend is
// told, with the request itself, exactly which field names to reply with.
// The backend should use mainText and nothing else for the primary text.
var responseContract = map[string]any{
	"mainText":            "string, required, the reply text",
	"buttons":             "string[], optional, at most 3 suggestions",
	"emailPrompt":         "string, optional",
	"botMode":             "string, optional",
	"userEmail":           "string, optional",
	"showBookingCalendar": "boolean, optional",
	"bookingType":         "string, optional",
	"onboardingAction":    "one of ask_next|confirm|completed, optional",
	"inputFields":         "FieldSpec[], optional",
}

// Client sends chat requests to the upstream conversation endpoint. All its
// methods are total: network failures, auth failures, and malformed bodies
// come back as fixed normalized responses, never as errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tracer     trace.Tracer
	logger     *logging.Logger
	metrics    *metrics.EngagementMetrics
}

// NewClient creates a gateway client for the conversation endpoint.
func NewClient(baseURL, apiKey string, timeout time.Duration, m *metrics.EngagementMetrics, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		tracer:     otel.Tracer("engage.internal.gateway"),
		logger:     logger.Component("gateway"),
		metrics:    m,
	}
}

// SendChatRequest posts one intent-keyed request and returns the normalized
// reply. payload carries the kind-specific context fields and is merged into
// the body alongside sessionId, pageUrl, and the declared response contract.
func (c *Client) SendChatRequest(ctx context.Context, kind RequestKind, sessionID, pageURL string, payload map[string]any) *NormalizedResponse {
	ctx, span := c.tracer.Start(ctx, "gateway.send_chat_request")
	defer span.End()

	body := map[string]any{
		"sessionId":      sessionID,
		"pageUrl":        pageURL,
		"responseFormat": responseContract,
	}
	for k, v := range payload {
		body[k] = v
	}
	// Mark the intent even when the caller supplied no payload under it.
	if _, ok := body[string(kind)]; !ok {
		body[string(kind)] = true
	}

	data, err := json.Marshal(body)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("chat request marshal failed", "error", err, "kind", kind)
		c.metrics.ObserveGateway(string(kind), "marshal_error", 0)
		return errorResponse(connectivityMessage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveGateway(string(kind), "request_error", 0)
		return errorResponse(connectivityMessage)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		// Timeout, DNS, refused connection: fixed connectivity response so
		// the widget UI never hangs in a loading state.
		span.RecordError(err)
		c.logger.Warn("chat request failed", "error", err, "kind", kind, "session_id", sessionID)
		c.metrics.ObserveGateway(string(kind), "network_error", elapsed)
		return errorResponse(connectivityMessage)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Short-circuit before any JSON parsing: a bad API key should read
		// as a distinguishable operator-facing message, not a parse error.
		c.logger.Error("chat request unauthorized", "kind", kind, "session_id", sessionID)
		c.metrics.ObserveGateway(string(kind), "unauthorized", elapsed)
		return errorResponse(authFailedMessage)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveGateway(string(kind), "read_error", elapsed)
		return errorResponse(connectivityMessage)
	}

	c.metrics.ObserveGateway(string(kind), "ok", elapsed)
	return Normalize(raw)
}

// SendIntelligenceUpdate tells the backend to attribute the session to a
// converted lead. Best-effort: the returned error is for logging only and
// callers are expected to swallow it.
func (c *Client) SendIntelligenceUpdate(ctx context.Context, sessionID string, payload map[string]any) error {
	body := map[string]any{"sessionId": sessionID}
	for k, v := range payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: marshal intelligence update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/intelligence", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gateway: build intelligence update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: send intelligence update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway: intelligence update status %d", resp.StatusCode)
	}
	return nil
}
