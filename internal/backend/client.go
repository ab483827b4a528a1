package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"QueryWidget/internal/telemetry"
)

const (
	ChatPath     = "/chat/"
	FeedbackPath = "/chat/feedback/"
)

var (
	ErrHTTPStatus     = errors.New("backend returned non-success status")
	ErrBackend        = errors.New("backend reported an error")
	ErrMalformed      = errors.New("malformed backend response")
	ErrNoConversation = errors.New("no conversation id")
)

// OutcomeKind classifies how a chat exchange ended
type OutcomeKind int

const (
	Answered     OutcomeKind = iota // 2xx without an error field
	BackendError                    // 2xx with an error field
	HTTPStatus                      // Non-2xx status
	Transport                       // Request never produced a response
	Malformed                       // 2xx body that is not the expected JSON
)

func (k OutcomeKind) String() string {
	switch k {
	case Answered:
		return "answered"
	case BackendError:
		return "backend_error"
	case HTTPStatus:
		return "http_status"
	case Transport:
		return "transport"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// ChatOutcome is the result of one chat round trip. Err is nil only for Answered.
type ChatOutcome struct {
	Kind     OutcomeKind
	Response ChatResponse
	Status   int
	Err      error
}

// OK reports whether the exchange succeeded
func (o ChatOutcome) OK() bool { return o.Kind == Answered }

// Client talks to the chat backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. No cookie jar is set by default, so no
// credentials are sent.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request. Zero keeps the transport default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		// Copy so a caller-supplied client, possibly http.DefaultClient, is left alone.
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithTelemetry(tracer trace.Tracer, meter metric.Meter) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
		c.duration = newDurationHistogram(meter)
	}
}

func newDurationHistogram(meter metric.Meter) metric.Float64Histogram {
	h, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil
	}
	return h
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
		duration:   newDurationHistogram(telemetry.Meter()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the origin all calls are made against
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("http.route", path)))
	}
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, respBody, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

// Chat sends one user turn and classifies the result. It never returns a bare error:
// every failure mode is reported through the outcome.
func (c *Client) Chat(ctx context.Context, req ChatRequest) ChatOutcome {
	ctx, span := c.tracer.Start(ctx, "chat_api_call")
	defer span.End()

	span.SetAttributes(
		attribute.String("chatbot.id", req.ChatbotID),
		attribute.Bool("conversation.assigned", req.ConversationID != nil),
	)

	out := c.chat(ctx, req)

	span.SetAttributes(attribute.String("chat.outcome", out.Kind.String()))
	if out.Status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", out.Status))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (c *Client) chat(ctx context.Context, req ChatRequest) ChatOutcome {
	resp, body, err := c.post(ctx, ChatPath, req)
	if err != nil {
		out := ChatOutcome{Kind: Transport, Err: err}
		if resp != nil {
			out.Status = resp.StatusCode
		}
		return out
	}

	// A JSON null decodes without error and leaves the pointer nil.
	var decoded *ChatResponse
	decodeErr := json.Unmarshal(body, &decoded)
	if decodeErr == nil && decoded == nil {
		decodeErr = errors.New("response body is null")
	}
	var apiResp ChatResponse
	if decoded != nil {
		apiResp = *decoded
	}

	if !success(resp.StatusCode) {
		msg := resp.Status
		if decodeErr == nil && apiResp.Error != "" {
			msg += ": " + apiResp.Error
		}
		return ChatOutcome{
			Kind:     HTTPStatus,
			Response: apiResp,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%w: %s", ErrHTTPStatus, msg),
		}
	}

	if decodeErr != nil {
		return ChatOutcome{
			Kind:   Malformed,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: %v", ErrMalformed, decodeErr),
		}
	}

	if apiResp.Error != "" {
		return ChatOutcome{
			Kind:     BackendError,
			Response: apiResp,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%w: %s", ErrBackend, apiResp.Error),
		}
	}

	return ChatOutcome{Kind: Answered, Response: apiResp, Status: resp.StatusCode}
}

// SubmitFeedback posts a rating for an existing conversation. The rating is
// clamped to 0..5.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	ctx, span := c.tracer.Start(ctx, "feedback_api_call")
	defer span.End()

	if req.ConversationID == "" {
		return FeedbackResponse{}, ErrNoConversation
	}
	req.Rating = min(max(req.Rating, 0), 5)
	span.SetAttributes(attribute.Int("feedback.rating", req.Rating))

	fb, err := c.submitFeedback(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return fb, err
}

func (c *Client) submitFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	resp, body, err := c.post(ctx, FeedbackPath, req)
	if err != nil {
		return FeedbackResponse{}, err
	}

	var decoded *FeedbackResponse
	decodeErr := json.Unmarshal(body, &decoded)
	if decodeErr == nil && decoded == nil {
		decodeErr = errors.New("response body is null")
	}
	var apiResp FeedbackResponse
	if decoded != nil {
		apiResp = *decoded
	}

	if !success(resp.StatusCode) {
		return apiResp, fmt.Errorf("%w: %s - %s", ErrHTTPStatus, resp.Status, string(body))
	}
	if decodeErr != nil {
		return FeedbackResponse{}, fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}
	if !apiResp.Success {
		return apiResp, fmt.Errorf("%w: %s", ErrBackend, apiResp.Error)
	}
	return apiResp, nil
}
