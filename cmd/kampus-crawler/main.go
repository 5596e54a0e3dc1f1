package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/config"
	klog "github.com/piratf/kampus-crawler/pkg/log"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/orchestrate"
	"github.com/piratf/kampus-crawler/pkg/storage"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-entities":
		runListEntities(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("kampus-crawler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `kampus-crawler - Tuition fee discovery and extraction

Usage:
  kampus-crawler <command> [options]

Commands:
  run            Crawl, validate and extract for the configured entities
  validate       Validate the config and entities files
  list-entities  List configured entities
  status         Show stored checkpoint status per entity
  mcp-server     Start MCP server for AI tool integration
  version        Show version info

Run 'kampus-crawler <command> -h' for command-specific help.`)
}

// splitKeys parses a comma-separated entity selection.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// loadAll loads the config and entities files. The config is validated and its warnings returned.
func loadAll(configPath, entitiesPath string) (*config.AppConfig, []models.Entity, []string, error) {
	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, nil, warnings, err
	}
	entities, err := config.LoadEntities(entitiesPath)
	if err != nil {
		return nil, nil, warnings, err
	}
	return appCfg, entities, warnings, nil
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := newFlagSet("validate")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	entitiesFile := fs.String("entities", "entities.yaml", "Path to entities file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, *entitiesFile, os.Stdout, os.Stderr))
}

// doValidate checks both files and writes a report.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, entitiesPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: config %s (oracle models: %s, checkpoint backend: %s)\n",
		configPath, strings.Join(appCfg.Oracle.Models, ", "), appCfg.Checkpoint.Backend)

	entities, err := config.LoadEntities(entitiesPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	seen := make(map[string]string, len(entities))
	hasError := false
	for _, e := range entities {
		id := utils.EntityID(e.Name, e.SiteURL)
		if prev, dup := seen[id]; dup {
			fmt.Fprintf(stderr, "ERROR: [%s] duplicates entity '%s' (same ID %s)\n", e.Name, prev, id)
			hasError = true
			continue
		}
		seen[id] = e.Name
	}
	if hasError {
		return 1
	}
	fmt.Fprintf(stdout, "OK: %d entities in %s\n", len(entities), entitiesPath)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListEntities handles the list-entities subcommand
func runListEntities(args []string) {
	fs := newFlagSet("list-entities")
	entitiesFile := fs.String("entities", "entities.yaml", "Path to entities file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doListEntities(*entitiesFile, os.Stdout, os.Stderr))
}

// doListEntities lists entities and writes output to provided writers.
func doListEntities(entitiesPath string, stdout, stderr io.Writer) int {
	entities, err := config.LoadEntities(entitiesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Entities in %s:\n\n", entitiesPath)
	for _, e := range entities {
		fmt.Fprintf(stdout, "  %s\n", e.Name)
		fmt.Fprintf(stdout, "    Site: %s\n", e.SiteURL)
		fmt.Fprintf(stdout, "    Entity ID: %s\n", utils.EntityID(e.Name, e.SiteURL))
		if e.ID != "" {
			fmt.Fprintf(stdout, "    External ID: %s\n", e.ID)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runStatus handles the status subcommand
func runStatus(args []string) {
	fs := newFlagSet("status")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	entitiesFile := fs.String("entities", "entities.yaml", "Path to entities file")
	only := fs.String("only", "", "Comma-separated entity names or IDs (default: all)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doStatus(*configFile, *entitiesFile, splitKeys(*only), os.Stdout, os.Stderr))
}

// doStatus prints the stored checkpoint of every selected entity.
func doStatus(configPath, entitiesPath string, keys []string, stdout, stderr io.Writer) int {
	appCfg, entities, _, err := loadAll(configPath, entitiesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	selected, err := orchestrate.SelectEntities(entities, keys)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.Open(appCfg.Checkpoint, klog.NewLogger("error", stderr).WithField("component", "status"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	counts := make(map[models.CheckpointStatus]int)
	fmt.Fprintf(stdout, "Checkpoints in %s (%s):\n\n", appCfg.Checkpoint.Dir, appCfg.Checkpoint.Backend)
	for _, e := range selected {
		id := utils.EntityID(e.Name, e.SiteURL)
		cp, err := store.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", e.Name, err)
			continue
		}
		if cp == nil {
			counts[models.StatusUnset]++
			fmt.Fprintf(stdout, "  %-40s %s\n", e.Name, models.StatusUnset)
			continue
		}
		counts[cp.Status]++
		fmt.Fprintf(stdout, "  %-40s %-10s candidates:%d validated:%d extracted:%d errors:%d updated:%s\n",
			e.Name, cp.Status, cp.Stats.Candidates, cp.Stats.Validated, cp.Stats.Extracted,
			len(cp.Errors), cp.UpdatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Fprintf(stdout, "\nTotal: %d | done: %d | validated: %d | crawled: %d | started: %d | none: %d\n",
		len(selected), counts[models.StatusDone], counts[models.StatusValidated],
		counts[models.StatusCrawled], counts[models.StatusStarted], counts[models.StatusUnset])
	return 0
}
