package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds server configuration.
type Config struct {
	Name      string
	Version   string
	Transport string
	Port      int
	AuthToken string // bearer token required on HTTP; empty disables auth
}

// Server is the MCP server for voiceover generation.
type Server struct {
	cfg      Config
	mcp      *server.MCPServer
	handlers *Handlers
	log      *slog.Logger
}

// New creates the MCP server and registers tools and resources.
func New(cfg Config, jobs JobService, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "voiceover"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	handlers := NewHandlers(jobs, logger)

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	tools := ToolDefs()
	mcpServer.AddTool(tools[0], handlers.HandleGenerateSimple)
	mcpServer.AddTool(tools[1], handlers.HandleGenerateScript)
	mcpServer.AddTool(tools[2], handlers.HandleDeleteJob)
	mcpServer.AddTool(tools[3], handlers.HandleGetJob)
	mcpServer.AddTool(tools[4], handlers.HandleListJobs)

	mcpServer.AddResource(
		mcp.NewResource(HistoryURI, "Voiceover history",
			mcp.WithResourceDescription("All voiceover jobs, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		handlers.HandleHistory,
	)
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(HistoryTemplateURI, "Voiceover job",
			mcp.WithTemplateDescription("One voiceover job by ID"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		handlers.HandleHistoryJob,
	)

	return &Server{
		cfg:      cfg,
		mcp:      mcpServer,
		handlers: handlers,
		log:      logger,
	}
}

// Start serves on the configured transport until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	switch s.cfg.Transport {
	case TransportStdio:
		s.log.Info("Starting MCP server", "transport", TransportStdio)
		return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case TransportHTTP:
		return s.startHTTP(ctx)
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Transport)
	}
}

// Handler returns the HTTP handler: /mcp behind bearer auth plus /health.
func (s *Server) Handler() http.Handler {
	httpServer := server.NewStreamableHTTPServer(s.mcp,
		server.WithStateLess(true),
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", BearerAuth(s.cfg.AuthToken, s.log, httpServer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *Server) startHTTP(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting MCP server", "transport", TransportHTTP, "addr", addr, "auth", s.cfg.AuthToken != "")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
