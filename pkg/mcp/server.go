package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/orchestrate"
	"github.com/piratf/kampus-crawler/pkg/pipeline"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/storage"
)

const (
	serverName    = "kampus-crawler"
	serverVersion = "0.4.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig    *config.AppConfig
	ConfigPath   string
	EntitiesPath string
	Entities     []models.Entity
	Runner       orchestrate.EntityRunner // Runs one entity; shared with the CLI wiring
	Store        storage.CheckpointStore  // Read by get_checkpoint
	Fetcher      fetch.Fetcher            // Used by score_page
	Keywords     *score.Keywords
	Transport    string // "stdio" or "sse"
	Port         int
	Logger       *logrus.Logger
}

// ProgressReporter is implemented by runners that report on an entity while it runs.
type ProgressReporter interface {
	Progress(entityID string) (pipeline.EntityProgress, bool)
}

// Server exposes entity runs and checkpoints as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Runner == nil || cfg.Store == nil || cfg.Fetcher == nil {
		return nil, fmt.Errorf("runner, store and fetcher are required")
	}
	if cfg.Keywords == nil {
		cfg.Keywords = score.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listEntitiesTool := mcp.NewTool("list_entities",
		mcp.WithDescription("List the configured entities with their checkpoint status"),
	)
	s.mcpServer.AddTool(listEntitiesTool, s.handleListEntities)

	runEntityTool := mcp.NewTool("run_entity",
		mcp.WithDescription("Start a background crawl, validate and extract run for one entity. Returns immediately with a job ID."),
		mcp.WithString("entity",
			mcp.Required(),
			mcp.Description("Entity name, entity ID or external ID"),
		),
	)
	s.mcpServer.AddTool(runEntityTool, s.handleRunEntity)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of an entity job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by run_entity"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	getCheckpointTool := mcp.NewTool("get_checkpoint",
		mcp.WithDescription("Return an entity's stored checkpoint: status, counts and valid links"),
		mcp.WithString("entity",
			mcp.Required(),
			mcp.Description("Entity name, entity ID or external ID"),
		),
		mcp.WithBoolean("include_items",
			mcp.Description("Include extracted items (default false)"),
		),
	)
	s.mcpServer.AddTool(getCheckpointTool, s.handleGetCheckpoint)

	scorePageTool := mcp.NewTool("score_page",
		mcp.WithDescription("Fetch a URL and report its page score, local gate result and best candidate links"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
		mcp.WithString("query",
			mcp.Description("Text to show a snippet around (defaults to the first topic word found)"),
		),
		mcp.WithNumber("max_links",
			mcp.Description("Maximum number of candidate links to return (default: 10, max: 50)"),
		),
	)
	s.mcpServer.AddTool(scorePageTool, s.handleScorePage)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
