package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"crossfeed/pkg/analysis"
	"crossfeed/pkg/config"
	"crossfeed/pkg/dispatch"
	"crossfeed/pkg/feed"
	"crossfeed/pkg/ingest"
	"crossfeed/pkg/platform"
	"crossfeed/pkg/repository"
	"crossfeed/pkg/rules"
	"crossfeed/pkg/scheduler"
	"crossfeed/pkg/webhook"
	"crossfeed/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"crossfeed.yml" description:"config file path"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address override"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

// default publishing targets when no rate limits name any platform
var defaultTargets = []string{"twitter", "linkedin", "medium", "facebook"}

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, opts.NoColor)

	log.Printf("[INFO] starting crossfeed version %s", revision)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] can't load config: %v", err)
		os.Exit(1)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	log.Print("[INFO] shutdown complete")
}

// run wires the pipeline and blocks until the context is cancelled
func run(ctx context.Context, cfg *config.Config, opts Opts) error {
	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			log.Printf("[WARN] close storage: %v", err)
		}
	}()

	// ingestion side
	var analyzer ingest.Analyzer
	if cfg.Analysis.Enabled {
		analyzer = analysis.NewAnalyzer(analysis.Config{
			APIKey:      cfg.Analysis.APIKey,
			Endpoint:    cfg.Analysis.Endpoint,
			Model:       cfg.Analysis.Model,
			Temperature: cfg.Analysis.Temperature,
			MaxTokens:   cfg.Analysis.MaxTokens,
		})
		log.Printf("[INFO] content analysis enabled with model %s", cfg.Analysis.Model)
	}
	normalizer := ingest.NewNormalizer(repos.Content, analyzer)
	engine := rules.NewEngine(repos.Rule, repos.CrossPost)
	pipeline := ingest.NewPipeline(normalizer, engine)

	feedParser := feed.NewParser(cfg.Poller.Timeout, cfg.Poller.UserAgent)
	discovery := feed.NewDiscovery(cfg.Poller.Timeout, cfg.Poller.UserAgent, feedParser)
	poller := feed.NewPoller(repos.Subscription, feedParser, pipeline, feed.PollerParams{
		BatchSize:    cfg.Poller.BatchSize,
		BatchPause:   cfg.Poller.BatchPause,
		SafetyMargin: cfg.Poller.SafetyMargin,
		Concurrency:  cfg.Poller.MaxWorkers,
		MaxFeeds:     cfg.Poller.MaxFeeds,
	})

	webhooks := webhook.NewService(cfg.Webhooks.Secrets, pipeline)

	// delivery side
	registry := platform.NewRegistry()
	limiter := dispatch.NewRateLimiter()
	targets := defaultTargets
	if len(cfg.Dispatch.RateLimits) > 0 {
		targets = targets[:0]
		for name := range cfg.Dispatch.RateLimits {
			targets = append(targets, name)
		}
	}
	for _, name := range targets {
		registry.Register(name, platform.NewLoopbackAdapter(name))
		if rl, ok := cfg.Dispatch.RateLimits[name]; ok {
			limiter.Configure(name, rl.PerMinute, rl.Burst)
		}
	}
	log.Printf("[INFO] publishing targets: %v", registry.Platforms())

	dispatcher := dispatch.NewDispatcher(repos.CrossPost, repos.Content, repos.Rule,
		registry, limiter, dispatch.Params{
			Concurrency: cfg.Dispatch.MaxWorkers,
			BatchSize:   cfg.Dispatch.BatchSize,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			RetryBase:   cfg.Dispatch.RetryBase,
			RetryCap:    cfg.Dispatch.RetryCap,
		})

	sched := scheduler.NewScheduler(poller, dispatcher, cfg.Poller.Interval, cfg.Dispatch.Interval)
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(server.Config{
		Listen:     cfg.Server.Listen,
		Timeout:    cfg.Server.Timeout,
		CronSecret: cfg.Server.CronSecret,
		Version:    revision,
		Debug:      opts.Debug,
	}, repos.Subscription, repos.Content, repos.Rule, repos.CrossPost, sched, webhooks, discovery)

	return srv.Run(ctx)
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
