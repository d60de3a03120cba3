// Package http exposes sessions over HTTP with a chi router.
//
//	GET    /health
//	GET    /metrics                          Prometheus exposition
//	GET    /sessions                         list session IDs
//	POST   /sessions/{id}/messages           send messages, run until idle
//	POST   /sessions/{id}/commands/{name}    run a command
//	POST   /sessions/{id}/resume             resume a suspended instance
//	GET    /sessions/{id}/steps              every persisted step
//	GET    /sessions/{id}/stream             websocket push of new steps
//	DELETE /sessions/{id}
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves a session manager.
type Server struct {
	Sessions *session.Manager
	Streams  *StreamManager
	// Factory creates sessions on their first message. Nil means sessions
	// must already exist.
	Factory session.Factory

	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithFactory sets the factory for unknown sessions.
func WithFactory(f session.Factory) Option {
	return func(s *Server) { s.Factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds a server over mgr.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		Sessions: mgr,
		Streams:  NewStreamManager(),
		metrics:  promhttp.Handler(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger
	return s
}

// NewHandler creates a new HTTP handler for the session manager.
func NewHandler(mgr *session.Manager, opts ...Option) http.Handler {
	return NewServer(mgr, opts...).Routes()
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Handle("/metrics", s.metrics)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Post("/messages", s.postMessages)
			r.Post("/commands/{name}", s.postCommand)
			r.Post("/resume", s.postResume)
			r.Get("/steps", s.getSteps)
			r.Get("/stream", s.stream)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MessagesRequest is the body of POST /sessions/{id}/messages. Text is
// shorthand for a single user message.
type MessagesRequest struct {
	Text     string              `json:"text,omitempty"`
	Messages []codec.WireMessage `json:"messages,omitempty"`
}

// CommandRequest is the body of POST /sessions/{id}/commands/{name}.
type CommandRequest struct {
	Input      map[string]any `json:"input,omitempty"`
	InstanceID string         `json:"instanceId,omitempty"`
}

// ResumeRequest is the body of POST /sessions/{id}/resume.
type ResumeRequest struct {
	InstanceID string `json:"instanceId,omitempty"`
	SuspendID  string `json:"suspendId"`
	Payload    any    `json:"payload,omitempty"`
}

// StepsResponse carries steps in wire form.
type StepsResponse struct {
	Steps []*codec.WireStep `json:"steps"`
}

// CommandResponse is the result of a command.
type CommandResponse struct {
	Step  *codec.WireStep `json:"step"`
	Value any             `json:"value,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body MessagesRequest
	if !s.decode(w, r, &body) {
		return
	}
	msgs, err := codec.DecodeMessages(body.Messages)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid messages: %v", err), http.StatusBadRequest)
		return
	}
	if body.Text != "" {
		msgs = append(msgs, domain.NewTextMessage(domain.RoleUser, body.Text))
	}
	if len(msgs) == 0 {
		http.Error(w, "No messages", http.StatusBadRequest)
		return
	}

	if _, err := s.Sessions.Open(r.Context(), id, s.Factory); err != nil {
		s.fail(w, r, err)
		return
	}
	steps, err := s.Sessions.Send(r.Context(), id, msgs...)
	wire, serr := s.publish(id, steps...)
	if err == nil {
		err = serr
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StepsResponse{Steps: wire})
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	var body CommandRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Sessions.Command(r.Context(), id, name, body.Input, body.InstanceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wire, err := s.publish(id, res.Step)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Step: wire[0], Value: res.Value})
}

func (s *Server) postResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body ResumeRequest
	if !s.decode(w, r, &body) {
		return
	}
	step, err := s.Sessions.Resume(r.Context(), id, body.InstanceID, body.SuspendID, body.Payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wire, err := s.publish(id, step)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StepsResponse{Steps: wire})
}

func (s *Server) getSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.Sessions.Steps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wire, err := s.serialize(steps...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StepsResponse{Steps: wire})
}

func (s *Server) serialize(steps ...*domain.Step) ([]*codec.WireStep, error) {
	reg := s.Sessions.Engine().Charter()
	out := make([]*codec.WireStep, 0, len(steps))
	for _, step := range steps {
		w, err := codec.SerializeStep(reg, step)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// publish serializes steps and pushes them to stream subscribers.
func (s *Server) publish(sessionID string, steps ...*domain.Step) ([]*codec.WireStep, error) {
	wire, err := s.serialize(steps...)
	if err != nil {
		return nil, err
	}
	for _, w := range wire {
		data, err := codec.Marshal(w)
		if err != nil {
			return nil, err
		}
		s.Streams.Broadcast(sessionID, data)
	}
	return wire, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	var (
		invalid  *domain.InvalidInputError
		state    *domain.StateValidationError
		mismatch *domain.SuspendMismatchError
		unres    *domain.ResolutionError
		effect   *domain.EffectError
	)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNoTarget):
		return http.StatusNotFound
	case errors.As(err, &unres) && unres.Kind == domain.RefCommand:
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &state):
		return http.StatusBadRequest
	case errors.As(err, &mismatch), errors.Is(err, domain.ErrMachineBusy):
		return http.StatusConflict
	case errors.As(err, &effect):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
