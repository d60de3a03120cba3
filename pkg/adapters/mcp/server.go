// Package mcp exposes sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/session"
)

const charterURI = "canopy://charter"

// StepsResponse is the structured result of send_message, resume and get_steps.
type StepsResponse struct {
	Steps []*codec.WireStep `json:"steps" jsonschema_description:"Steps produced, oldest first"`
}

// CommandResponse is the structured result of run_command.
type CommandResponse struct {
	Step  *codec.WireStep `json:"step" jsonschema_description:"The step that applied the command"`
	Value any             `json:"value,omitempty" jsonschema_description:"Value returned by the command handler"`
}

// SendArgs are the arguments of send_message.
type SendArgs struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

// CommandArgs are the arguments of run_command.
type CommandArgs struct {
	Session    string         `json:"session"`
	Command    string         `json:"command"`
	Input      map[string]any `json:"input,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
}

// ResumeArgs are the arguments of resume.
type ResumeArgs struct {
	Session    string `json:"session"`
	SuspendID  string `json:"suspend_id"`
	InstanceID string `json:"instance_id,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// StepsArgs are the arguments of get_steps.
type StepsArgs struct {
	Session string `json:"session"`
}

// Server wraps a session manager and exposes it as an MCP server.
type Server struct {
	sessions  *session.Manager
	factory   session.Factory
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the server.
type Option func(*Server)

// WithFactory sets the factory used for sessions that do not exist yet.
func WithFactory(f session.Factory) Option {
	return func(s *Server) { s.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP Server instance.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions:  mgr,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("canopy-mcp", canopy.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message to a session and run it until idle. Creates the session if needed."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithOutputSchema[StepsResponse](),
	), mcp.NewStructuredToolHandler(s.handleSend))

	s.mcpServer.AddTool(mcp.NewTool("run_command",
		mcp.WithDescription("Run a named command on the session's active leaf or on a given instance."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command name")),
		mcp.WithObject("input", mcp.Description("Command input")),
		mcp.WithString("instance_id", mcp.Description("Target instance (optional)")),
		mcp.WithOutputSchema[CommandResponse](),
	), mcp.NewStructuredToolHandler(s.handleCommand))

	s.mcpServer.AddTool(mcp.NewTool("resume",
		mcp.WithDescription("Resume a suspended instance."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("suspend_id", mcp.Required(), mcp.Description("Suspend ID to match")),
		mcp.WithString("instance_id", mcp.Description("Suspended instance (optional)")),
		mcp.WithString("payload", mcp.Description("Payload handed to the resumed instance")),
		mcp.WithOutputSchema[StepsResponse](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("get_steps",
		mcp.WithDescription("List every persisted step of a session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[StepsResponse](),
	), mcp.NewStructuredToolHandler(s.handleSteps))
}

func (s *Server) handleSend(ctx context.Context, _ mcp.CallToolRequest, args SendArgs) (StepsResponse, error) {
	if args.Session == "" || args.Text == "" {
		return StepsResponse{}, fmt.Errorf("session and text are required")
	}
	if _, err := s.sessions.Open(ctx, args.Session, s.factory); err != nil {
		return StepsResponse{}, err
	}
	steps, err := s.sessions.Send(ctx, args.Session, domain.NewTextMessage(domain.RoleUser, args.Text))
	if err != nil {
		s.logger.Warn("MCP send_message failed", "session_id", args.Session, "err", err)
		return StepsResponse{}, err
	}
	return s.steps(steps...)
}

func (s *Server) handleCommand(ctx context.Context, _ mcp.CallToolRequest, args CommandArgs) (CommandResponse, error) {
	res, err := s.sessions.Command(ctx, args.Session, args.Command, args.Input, args.InstanceID)
	if err != nil {
		return CommandResponse{}, err
	}
	w, err := codec.SerializeStep(s.sessions.Engine().Charter(), res.Step)
	if err != nil {
		return CommandResponse{}, err
	}
	return CommandResponse{Step: w, Value: res.Value}, nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (StepsResponse, error) {
	step, err := s.sessions.Resume(ctx, args.Session, args.InstanceID, args.SuspendID, args.Payload)
	if err != nil {
		return StepsResponse{}, err
	}
	return s.steps(step)
}

func (s *Server) handleSteps(ctx context.Context, _ mcp.CallToolRequest, args StepsArgs) (StepsResponse, error) {
	steps, err := s.sessions.Steps(ctx, args.Session)
	if err != nil {
		return StepsResponse{}, err
	}
	return s.steps(steps...)
}

func (s *Server) steps(steps ...*domain.Step) (StepsResponse, error) {
	out := StepsResponse{Steps: make([]*codec.WireStep, 0, len(steps))}
	for _, step := range steps {
		w, err := codec.SerializeStep(s.sessions.Engine().Charter(), step)
		if err != nil {
			return StepsResponse{}, err
		}
		out.Steps = append(out.Steps, w)
	}
	return out, nil
}

// charterSummary lists what the engine's charter has registered.
type charterSummary struct {
	Name      string   `json:"name"`
	Nodes     []string `json:"nodes"`
	Packs     []string `json:"packs"`
	Executors []string `json:"executors"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(charterURI, "Registered charter",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ch := s.sessions.Engine().Charter()
		data, err := json.Marshal(charterSummary{
			Name:      ch.Name(),
			Nodes:     ch.Nodes(),
			Packs:     ch.Packs(),
			Executors: ch.Executors(),
		})
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: charterURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
