package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	klog "github.com/piratf/kampus-crawler/pkg/log"
	"github.com/piratf/kampus-crawler/pkg/mcp"
	"github.com/piratf/kampus-crawler/pkg/pipeline"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	entitiesFile := fs.String("entities", "entities.yaml", "Path to entities file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kampus-crawler mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  kampus-crawler mcp-server -config config.yaml -entities entities.yaml

  # Start with SSE transport on port 8080
  kampus-crawler mcp-server -transport sse -port 8080

Available MCP Tools:
  list_entities   List configured entities with checkpoint status
  run_entity      Start a background run for one entity
  get_job_status  Poll a background run
  get_checkpoint  Read an entity's stored checkpoint
  score_page      Score one URL and list its best candidate links
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *entitiesFile, *transport, *port, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, entitiesPath, transport string, port int, logLevel string, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log := klog.NewLogger(logLevel, stderr)

	appCfg, entities, warnings, err := loadAll(configPath, entitiesPath)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDeps(ctx, appCfg, pipeline.Options{ValidateOnly: appCfg.ValidateOnly}, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing components: %v\n", err)
		return 1
	}
	defer d.Close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:    appCfg,
		ConfigPath:   configPath,
		EntitiesPath: entitiesPath,
		Entities:     entities,
		Runner:       d.pipeline,
		Store:        d.store,
		Fetcher:      d.fetcher,
		Keywords:     d.kw,
		Transport:    transport,
		Port:         port,
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer server.Shutdown(ctx)

	log.Infof("Starting MCP server (transport: %s)", transport)
	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
