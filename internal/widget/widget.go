// Package widget is the embeddable chat widget: one instance per page session,
// driving the render layer from user events and backend responses.
//
// All state changes happen under a single mutex, so UI events and network
// completions may arrive from any goroutine.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"QueryWidget/internal/backend"
	"QueryWidget/internal/config"
	"QueryWidget/internal/deps"
	"QueryWidget/internal/render"
	"QueryWidget/internal/session"
	"QueryWidget/internal/telemetry"
)

const (
	Greeting       = "Hi! How can I help you today?"
	FailureMessage = "Sorry, something went wrong. Please try again."
)

// ErrNotInitialized is returned for events that arrive before Init completes.
var ErrNotInitialized = errors.New("widget not initialized")

// Handle is the surface the host page and the widget's own buttons call into.
type Handle interface {
	ToggleWidget() error
}

var _ Handle = (*Widget)(nil)

// Option configures a Widget
type Option func(*Widget)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Widget) { w.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Widget) { w.logger = l }
}

// WithTelemetry sets the tracer and meter used by the widget and its backend client.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(w *Widget) {
		w.tracer = tracer
		w.meter = meter
	}
}

// WithCapabilities supplies libraries the host already provides; they are not loaded again.
func WithCapabilities(caps deps.Capabilities) Option {
	return func(w *Widget) { w.present = caps }
}

// WithRegistry replaces the set of loadable libraries.
func WithRegistry(r *deps.Registry) Option {
	return func(w *Widget) { w.registry = r }
}

// WithHTTPClient replaces the client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(w *Widget) { w.httpClient = hc }
}

// WithDocumentOptions passes options to the render layer. Hooks run with the
// widget locked and must not call back into it.
func WithDocumentOptions(opts ...render.Option) Option {
	return func(w *Widget) { w.docOpts = append(w.docOpts, opts...) }
}

// Widget is a single embedded chat widget
type Widget struct {
	widgetCfg    config.WidgetConfig
	chatbotID    string
	policy       session.FeedbackPolicy
	dismissDelay time.Duration

	client     *backend.Client
	httpClient *http.Client
	registry   *deps.Registry
	present    deps.Capabilities
	docOpts    []render.Option
	now        func() time.Time

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	sent    metric.Int64Counter
	failed  metric.Int64Counter
	rated   metric.Int64Counter
	skipped metric.Int64Counter

	mu          sync.Mutex
	ctx         context.Context
	initialized bool
	doc         *render.Document
	results     []deps.Result
	state       session.State
	messaging   machine[MessagingState]
	feedback    machine[FeedbackState]
	rating      int

	wg sync.WaitGroup
}

// New creates a widget for cfg. Nothing is rendered until Init.
func New(cfg config.Config, opts ...Option) (*Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Widget{
		widgetCfg:    cfg.Widget,
		chatbotID:    cfg.ChatbotID,
		policy:       session.FeedbackPolicy{MinDuration: cfg.Feedback.MinDuration, MinMessages: cfg.Feedback.MinMessages},
		dismissDelay: cfg.Feedback.DismissDelay,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       telemetry.Tracer(),
		meter:        telemetry.Meter(),
		messaging:    machine[MessagingState]{state: Idle, table: messagingTransitions},
		feedback:     machine[FeedbackState]{state: FeedbackHidden, table: feedbackTransitions},
	}
	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With("chatbot_id", w.chatbotID)
	if w.registry == nil {
		w.registry = deps.DefaultRegistry(deps.NewRegistry(w.logger), cfg.Markdown)
	}

	clientOpts := []backend.ClientOption{
		backend.WithLogger(w.logger),
		backend.WithTelemetry(w.tracer, w.meter),
	}
	if w.httpClient != nil {
		clientOpts = append(clientOpts, backend.WithHTTPClient(w.httpClient))
	}
	if cfg.RequestTimeout > 0 {
		clientOpts = append(clientOpts, backend.WithTimeout(cfg.RequestTimeout))
	}
	w.client = backend.NewClient(cfg.Widget.BaseURL, clientOpts...)

	w.sent = counter(w.meter, "widget.messages.sent", "User messages dispatched to the backend")
	w.failed = counter(w.meter, "widget.messages.failed", "Chat exchanges that ended in the failure message")
	w.rated = counter(w.meter, "widget.feedback.submitted", "Feedback forms submitted")
	w.skipped = counter(w.meter, "widget.feedback.skipped", "Feedback prompts skipped")

	return w, nil
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter("").Int64Counter(name)
	}
	return c
}

// Init ensures the optional rendering libraries and mounts the widget, closed.
// It is the widget's only blocking step; every other event is rejected until it
// returns. Later calls are no-ops.
func (w *Widget) Init(ctx context.Context) error {
	w.mu.Lock()
	if w.initialized {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	caps, results := w.registry.EnsureDependencies(ctx, w.present)

	opts := append([]render.Option{render.WithLogger(w.logger), render.WithCacheSize(256)}, w.docOpts...)
	doc, err := render.NewDocument(caps, opts...)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	if err := doc.Mount(w.widgetCfg); err != nil {
		return fmt.Errorf("failed to mount widget: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return nil
	}
	// Requests outlive the caller's context: closing the widget never cancels them.
	w.ctx = context.WithoutCancel(ctx)
	w.doc = doc
	w.results = results
	w.initialized = true

	w.logger.Info("widget initialized",
		"markdown", caps.Markdown != nil,
		"sanitizer", caps.Sanitizer != nil,
	)
	return nil
}

// ToggleWidget opens a closed widget and closes an open one. Closing may show the
// feedback prompt first, in which case the close completes when it is dismissed.
func (w *Widget) ToggleWidget() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}

	switch w.feedback.state {
	case FeedbackPrompting:
		// The widget is already closing; the button acts as Skip.
		w.skipFeedbackLocked()
		return nil
	case FeedbackThanking:
		return nil
	}

	if w.state.IsOpen {
		w.closeLocked()
	} else {
		w.openLocked()
	}
	return nil
}

func (w *Widget) openLocked() {
	greet := w.state.Open(w.now())
	w.doc.SetModalVisible(true)
	if greet {
		w.doc.DisplayMessage(Greeting, false)
	}
	w.doc.Focus(render.IDInput)
	w.logger.Debug("widget opened")
}

func (w *Widget) closeLocked() {
	w.state.IsOpen = false
	if w.state.FeedbackDue(w.now(), w.policy) && w.feedback.fire(evPrompt) {
		w.state.FeedbackShown = true
		w.rating = 0
		w.doc.SetFeedbackVisible(true)
		w.logger.Info("feedback prompt shown",
			"user_messages", w.state.UserMessageCount,
			"elapsed", w.state.Elapsed(w.now()).String(),
		)
		return
	}
	w.doc.SetModalVisible(false)
	w.logger.Debug("widget closed")
}

// HandleAction dispatches a data-action value from the widget markup.
func (w *Widget) HandleAction(action string) error {
	switch action {
	case render.ActionToggle:
		return w.ToggleWidget()
	case render.ActionSend:
		_, err := w.ClickSend()
		return err
	case render.ActionSkip:
		return w.SkipFeedback()
	case render.ActionSubmit:
		return w.SubmitFeedback()
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

// State returns a copy of the session state
func (w *Widget) State() session.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// MessagingState returns the chat exchange state
func (w *Widget) MessagingState() MessagingState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.messaging.state
}

// FeedbackState returns the rating prompt state
func (w *Widget) FeedbackState() FeedbackState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.feedback.state
}

// Dependencies returns what happened to each optional library during Init
func (w *Widget) Dependencies() []deps.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]deps.Result(nil), w.results...)
}

// View runs fn with the document while the widget is locked.
func (w *Widget) View(fn func(doc *render.Document)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return ErrNotInitialized
	}
	fn(w.doc)
	return nil
}

// Wait blocks until every in-flight request and pending dismissal has finished.
func (w *Widget) Wait() {
	w.wg.Wait()
}
