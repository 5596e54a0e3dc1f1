package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/extract"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	klog "github.com/piratf/kampus-crawler/pkg/log"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/oracle"
	"github.com/piratf/kampus-crawler/pkg/orchestrate"
	"github.com/piratf/kampus-crawler/pkg/pipeline"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/storage"
	"github.com/piratf/kampus-crawler/pkg/validate"
)

// newFlagSet creates a subcommand flag set with the standard usage header.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kampus-crawler %s [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// runFlags are the parsed options of the run subcommand.
type runFlags struct {
	configFile   string
	entitiesFile string
	only         []string
	logLevel     string
	force        bool
	noResume     bool
	validateOnly bool
	concurrency  int
	metricsAddr  string
	pprofAddr    string
}

// parseRunFlags parses run subcommand arguments.
func parseRunFlags(args []string) (runFlags, error) {
	var rf runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&rf.configFile, "config", "config.yaml", "Path to config file")
	fs.StringVar(&rf.entitiesFile, "entities", "entities.yaml", "Path to entities file")
	only := fs.String("only", "", "Comma-separated entity names or IDs (default: all)")
	fs.StringVar(&rf.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.BoolVar(&rf.force, "force", false, "Start every selected entity from scratch, even finished ones")
	fs.BoolVar(&rf.noResume, "no-resume", false, "Ignore and overwrite existing checkpoints")
	fs.BoolVar(&rf.validateOnly, "validate-only", false, "Stop after validation; no extraction")
	fs.IntVar(&rf.concurrency, "concurrency", 0, "Entities processed at once (overrides config)")
	fs.StringVar(&rf.metricsAddr, "metrics-addr", "", "Prometheus metrics address, e.g. :9090 (disabled by default)")
	fs.StringVar(&rf.pprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kampus-crawler run [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  kampus-crawler run -config config.yaml -entities entities.yaml\n")
		fmt.Fprintf(os.Stderr, "  kampus-crawler run -only \"Universitas A,Universitas B\" -validate-only\n")
		fmt.Fprintf(os.Stderr, "  kampus-crawler run -force -concurrency 2\n")
	}
	if err := fs.Parse(args); err != nil {
		return rf, err
	}
	rf.only = splitKeys(*only)
	return rf, nil
}

// applyOverrides applies CLI flags on top of the validated config.
func applyOverrides(appCfg *config.AppConfig, rf runFlags, log *logrus.Logger) {
	if rf.concurrency > 0 {
		appCfg.Concurrency = rf.concurrency
		log.Infof("Concurrency set to %d via CLI flag", rf.concurrency)
	}
	if rf.validateOnly {
		appCfg.ValidateOnly = true
		log.Info("Validate-only mode enabled via CLI flag")
	}
}

// runRun handles the run subcommand
func runRun(args []string) {
	rf, err := parseRunFlags(args)
	if err != nil {
		os.Exit(1)
	}
	os.Exit(executeRun(rf))
}

// executeRun wires the components, runs the selected entities and writes outputs.
func executeRun(rf runFlags) int {
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)

	log := klog.NewLogger(rf.logLevel, nil)
	log.Infof("Loading configuration from %s", rf.configFile)
	appCfg, entities, warnings, err := loadAll(rf.configFile, rf.entitiesFile)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	applyOverrides(appCfg, rf, log)
	logAppConfig(appCfg, log)

	selected, err := orchestrate.SelectEntities(entities, rf.only)
	if err != nil {
		log.Errorf("Invalid entity selection: %v", err)
		return 1
	}
	log.Infof("Selected %d of %d entities", len(selected), len(entities))

	startPprof(rf.pprofAddr, log)
	startMetrics(rf.metricsAddr, log)

	// ===========================================================
	// == Setup Root Context & Signal Handling ==
	// ===========================================================
	// First signal drains: nothing new starts and work in flight finishes.
	// Second signal (or a stalled drain) cancels in-flight work. Third exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Draining: work in flight finishes, nothing new starts. Signal again to cancel.", sig)
		close(stop)

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Cancelling in-flight work and flushing checkpoints...", sig)
		case <-time.After(60 * time.Second):
			log.Warn("Drain period exceeded. Cancelling in-flight work and flushing checkpoints...")
		}
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received third signal: %v. Forcing exit.", sig)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after cancel. Forcing exit.")
		}
		os.Exit(1)
	}()
	defer signal.Stop(sigChan)

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")
	deps, err := buildDeps(ctx, appCfg, pipeline.Options{
		Force:        rf.force,
		NoResume:     rf.noResume,
		ValidateOnly: appCfg.ValidateOnly,
		Stop:         stop,
	}, log)
	if err != nil {
		log.Errorf("Initialization failed: %v", err)
		return 1
	}
	defer deps.Close()

	orch := orchestrate.NewOrchestrator(deps.pipeline, appCfg.Concurrency, deps.pipeline.ValidateOnly(), log.WithField("component", "orchestrator"))
	orch.SetStop(stop)
	out := orch.Run(ctx, selected)

	if err := orchestrate.WriteOutputs(appCfg.OutputDir, out); err != nil {
		log.Errorf("Failed to write outputs: %v", err)
		return 1
	}
	log.Infof("Outputs written to %s", appCfg.OutputDir)

	if errors.Is(ctx.Err(), context.Canceled) || isClosed(stop) {
		log.Warn("Run stopped early; progress is checkpointed and the rest resume next run.")
		return 0
	}
	for _, r := range out.Results {
		if !r.Success {
			return 1
		}
	}
	return 0
}

// deps holds the wired components of one process.
type deps struct {
	kw       *score.Keywords
	store    storage.CheckpointStore
	fetcher  fetch.Fetcher
	pipeline *pipeline.Pipeline
	closers  []func()
}

// Close releases components in reverse creation order.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDeps wires store, fetch stack, oracle and pipeline from validated config.
// Background maintenance goroutines stop when ctx is cancelled.
func buildDeps(ctx context.Context, appCfg *config.AppConfig, opts pipeline.Options, log *logrus.Logger) (*deps, error) {
	entry := log.WithField("component", "main")
	d := &deps{}

	if err := process.InitTokenizer(appCfg.Oracle.TokenizerEncoding); err != nil {
		entry.Warnf("Tokenizer init failed, using estimates: %v", err)
	}

	kw, err := score.New(appCfg.Keywords)
	if err != nil {
		return nil, err
	}
	d.kw = kw

	// --- Storage ---
	store, err := storage.Open(appCfg.Checkpoint, log.WithField("component", "checkpoint"))
	if err != nil {
		return nil, err
	}
	d.store = store
	d.closers = append(d.closers, func() { _ = store.Close() })
	if bs, ok := store.(*storage.BadgerStore); ok {
		go bs.RunGC(ctx, 10*time.Minute)
	}

	// --- Fetching ---
	fetchLog := log.WithField("component", "fetch")
	gate := fetch.NewHostGate(appCfg.MaxRequestsPerHost, appCfg.DelayPerHost, appCfg.SemaphoreAcquireTimeout, fetchLog)
	go gate.RunEviction(ctx, 5*time.Minute)

	client := fetch.NewClient(appCfg.HTTPClientSettings, fetchLog)
	light := fetch.NewHTTPFetcher(client, appCfg, gate, fetchLog)

	var render fetch.Fetcher
	if appCfg.Render.Enabled {
		rf := fetch.NewRenderFetcher(appCfg.Render, appCfg.DefaultUserAgent, kw.TopicWords(), fetchLog)
		render = rf
		d.closers = append(d.closers, rf.Close)
	} else {
		entry.Info("Render escalation disabled")
	}
	d.fetcher = fetch.NewCachedFetcher(fetch.NewEscalatingFetcher(light, render, kw, appCfg.Render, fetchLog), appCfg.FetchCacheTTL)

	// --- Oracle ---
	orc, err := oracle.NewOpenAIOracle(appCfg.Oracle, log.WithField("component", "oracle"))
	if err != nil {
		d.Close()
		return nil, err
	}
	gateV := validate.NewGate(orc, kw, appCfg.Oracle, log.WithField("component", "validate"))
	extractor := extract.NewExtractor(orc, kw, appCfg.Oracle, appCfg.Narrow, log.WithField("component", "extract"))

	d.pipeline = pipeline.New(appCfg, d.fetcher, kw, gateV, extractor, store, opts, log.WithField("component", "pipeline"))
	return d, nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetrics serves Prometheus metrics on addr if non-empty.
func startMetrics(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error: %v", err)
		}
	}()
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Concurrency:%d, MaxReqPerHost:%d, DelayPerHost:%v, OutputDir:%s",
		appCfg.Concurrency, appCfg.MaxRequestsPerHost, appCfg.DelayPerHost, appCfg.OutputDir)
	log.Infof("Config Crawl: MaxPages:%d, MaxDepth:%d, PageFloor:%.1f, MinCandidateScore:%.1f, Sitemaps:%t, LockToSubtree:%t",
		appCfg.Crawl.MaxPages, appCfg.Crawl.MaxDepth, appCfg.Crawl.PageFloor, appCfg.Crawl.MinCandidateScore,
		appCfg.Crawl.UseSitemaps, appCfg.Crawl.GetEffectiveLockToSubtree())
	log.Infof("Config Oracle: Models:%v, Timeout:%v, MaxRetries:%d, RPM:%d, ValidateTokens:%d, ExtractTokens:%d",
		appCfg.Oracle.Models, appCfg.Oracle.Timeout, appCfg.Oracle.MaxRetries, appCfg.Oracle.RequestsPerMinute,
		appCfg.Oracle.MaxValidateTokens, appCfg.Oracle.MaxExtractTokens)
	log.Infof("Config Checkpoint: Backend:%s, Dir:%s, Every:%d | Render:%t | ValidateOnly:%t | FallbackAssets:%d",
		appCfg.Checkpoint.Backend, appCfg.Checkpoint.Dir, appCfg.Checkpoint.Every,
		appCfg.Render.Enabled, appCfg.ValidateOnly, appCfg.FallbackAssets)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
