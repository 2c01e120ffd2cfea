// Package mcp exposes the record and report stores as MCP tools.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/reportcard/pkg/records"
	"github.com/jllopis/reportcard/pkg/reports"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

// RecordStore is the part of records.Store served over MCP.
type RecordStore interface {
	Get(ctx context.Context, id string, opts ...records.QueryOption) (records.Payload, bool)
	SearchByPayload(ctx context.Context, filter records.Filter, opts ...records.QueryOption) ([]records.Payload, error)
	SearchByText(ctx context.Context, text string, q records.VectorQuery) ([]records.Payload, error)
	Create(ctx context.Context, payload records.Payload, opts ...records.CreateOption) (string, error)
	UpdatePoint(ctx context.Context, id string, partial records.Payload) error
	DeleteByID(ctx context.Context, id string) error
}

// Server wraps the mcp-go server with the reportcard tools.
type Server struct {
	mcpServer *server.MCPServer
	records   RecordStore
	reports   *reports.Store
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRecords serves the record_* tools from store.
func WithRecords(store RecordStore) Option {
	return func(s *Server) { s.records = store }
}

// WithReports serves the report_list tool from store.
func WithReports(store *reports.Store) Option {
	return func(s *Server) { s.reports = store }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server and registers every tool its stores support.
// grade_score is always available.
func NewServer(name, version string, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = telemetry.Component(s.logger, "mcp")
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP on stdio", slog.Int("tools", len(s.mcpServer.ListTools())))
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(gradeScoreTool, s.handleGradeScore)

	if s.records != nil {
		s.mcpServer.AddTool(recordGetTool, s.handleRecordGet)
		s.mcpServer.AddTool(recordSearchTool, s.handleRecordSearch)
		s.mcpServer.AddTool(recordCreateTool, s.handleRecordCreate)
		s.mcpServer.AddTool(recordUpdateTool, s.handleRecordUpdate)
		s.mcpServer.AddTool(recordDeleteTool, s.handleRecordDelete)
	}
	if s.reports != nil {
		s.mcpServer.AddTool(reportListTool, s.handleReportList)
	}
}

// toolError logs err and turns it into an MCP error result.
func (s *Server) toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	s.logger.WarnContext(ctx, "tool call failed", slog.String("tool", tool), slog.Any("error", err))
	return mcp.NewToolResultErrorFromErr(tool+" failed", err)
}
