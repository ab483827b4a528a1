// Package devserver is a local backend speaking the widget's chat protocol.
// It stores conversations in SQLite and delegates answers to a Responder.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"QueryWidget/internal/backend"
	"QueryWidget/internal/config"
	"QueryWidget/internal/deps"
	"QueryWidget/internal/render"
	"QueryWidget/internal/telemetry"
)

const (
	MaxQueryLength = 5000
	RetryAfter     = 60 // seconds
)

// Option configures a Server
type Option func(*Server)

// WithResponder replaces the default EchoResponder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// Server is the development chat backend
type Server struct {
	cfg        config.ServerConfig
	widgetCfg  config.WidgetConfig
	store      *Store
	responder  Responder
	caps       deps.Capabilities
	logger     *slog.Logger
	tracer     trace.Tracer
	router     chi.Router
	httpServer *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a server backed by store
func New(cfg config.Config, store *Store, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg.Server,
		widgetCfg: cfg.Widget,
		store:     store,
		responder: EchoResponder{},
		caps:      deps.Capabilities{Markdown: deps.NewGoldmark(), Sanitizer: deps.NewBluemonday()},
		logger:    slog.Default(),
		tracer:    telemetry.Tracer(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(backend.ChatPath, s.handleChat)
	r.Post(backend.FeedbackPath, s.handleFeedback)
	r.Get("/widget/{chatbotID}", s.handleWidget)

	return r
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Handler returns the router
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("devserver listening", "addr", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// newID returns n uppercase alphanumeric characters
func newID(n int) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[:n]
}

// allow applies the per-conversation message limit
func (s *Server) allow(conversationID string) bool {
	if s.cfg.RatePerMinute <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[conversationID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.cfg.RatePerMinute)), s.cfg.RatePerMinute)
		s.limiters[conversationID] = l
	}
	return l.Allow()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "devserver.chat")
	defer span.End()

	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" || req.ChatbotID == "" {
		writeError(w, http.StatusBadRequest, "Missing query or chatbot_id")
		return
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Query too long (max %d characters)", MaxQueryLength))
		return
	}
	span.SetAttributes(attribute.String("chatbot.id", req.ChatbotID))

	conversationID, err := s.conversation(ctx, req)
	if err != nil {
		s.fail(w, span, "failed to resolve conversation", err)
		return
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if !s.allow(conversationID) {
		s.logger.Warn("rate limit reached", "conversation_id", conversationID)
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, backend.ChatResponse{
			Error:        "Too many messages. Please wait a moment before trying again.",
			LimitReached: true,
			RetryAfter:   RetryAfter,
		})
		return
	}

	history, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		s.fail(w, span, "failed to load history", err)
		return
	}

	asked := time.Now()
	answer, err := s.responder.Respond(ctx, Query{
		ChatbotID:      req.ChatbotID,
		ConversationID: conversationID,
		Text:           query,
		History:        history,
	})
	if err != nil {
		s.fail(w, span, "responder failed", err)
		return
	}

	err = s.store.AppendMessages(ctx, conversationID,
		Message{Role: RoleUser, Content: query, Timestamp: asked},
		Message{Role: RoleBot, Content: answer, Timestamp: time.Now()},
	)
	if err != nil {
		s.fail(w, span, "failed to store messages", err)
		return
	}

	writeJSON(w, http.StatusOK, backend.ChatResponse{Answer: answer, ConversationID: conversationID})
}

// conversation returns the request's conversation, starting a new one when the id
// is absent, unknown or belongs to another chatbot.
func (s *Server) conversation(ctx context.Context, req backend.ChatRequest) (string, error) {
	if req.ConversationID != nil && *req.ConversationID != "" {
		chatbotID, err := s.store.ConversationChatbot(ctx, *req.ConversationID)
		switch {
		case err == nil && chatbotID == req.ChatbotID:
			return *req.ConversationID, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return "", err
		}
	}

	id := newID(10)
	if err := s.store.CreateConversation(ctx, id, req.ChatbotID, time.Now()); err != nil {
		return "", err
	}
	s.logger.Info("conversation created", "conversation_id", id, "chatbot_id", req.ChatbotID)
	return id, nil
}

func (s *Server) fail(w http.ResponseWriter, span trace.Span, msg string, err error) {
	s.logger.Error(msg, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	writeError(w, http.StatusInternalServerError, "An error occurred while processing your request.")
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "devserver.feedback")
	defer span.End()

	var req backend.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	if _, err := s.store.ConversationChatbot(ctx, req.ConversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.fail(w, span, "failed to load conversation", err)
		return
	}

	fb := Feedback{
		ID:             "FB" + newID(8),
		ConversationID: req.ConversationID,
		Rating:         min(max(req.Rating, 0), 5),
		Description:    req.Description,
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		s.fail(w, span, "failed to store feedback", err)
		return
	}

	s.logger.Info("feedback stored", "feedback_id", fb.ID, "conversation_id", fb.ConversationID, "rating", fb.Rating)
	writeJSON(w, http.StatusOK, backend.FeedbackResponse{Success: true, FeedbackID: fb.ID})
}

const hostPage = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head><body data-chatbot-id="%s"></body></html>`

// handleWidget serves a page with the widget mounted for one chatbot.
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")

	page := fmt.Sprintf(hostPage, html.EscapeString(s.widgetCfg.Name), html.EscapeString(chatbotID))
	doc, err := render.NewDocument(s.caps, render.WithHost(page), render.WithLogger(s.logger))
	if err != nil {
		s.logger.Error("failed to create document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := doc.Mount(s.widgetCfg); err != nil {
		s.logger.Error("failed to mount widget", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc.Render()))
}
