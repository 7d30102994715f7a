package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"calreport/internal/config"
	appLog "calreport/internal/log"
	"calreport/internal/pipeline"
	"calreport/internal/scheduler"
	"calreport/internal/source"
	"calreport/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	input      string
	outputDir  string
	parser     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyOverrides(conf, flags)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("calreport starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"output_dir", conf.OutputDir,
		"parser", conf.Parser,
		"refresh", conf.Refresh,
		"source_count", len(conf.Sources),
		"input", flags.input,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	runner := pipeline.NewRunner(source.NewLoader(conf.CacheDir))
	input := inputFromFlags(flags)

	// A single input file implies a one-shot run.
	if flags.once || flags.input != "" {
		sum, err := runner.Run(ctx, conf, input)
		if err != nil {
			appLog.Error("run failed", err, "run_id", sum.RunID)
			os.Exit(1)
		}
		for _, sr := range sum.Sources {
			if sr.Err != nil {
				continue
			}
			appLog.Info("report written", "source", sr.Source.Label(), "records", len(sr.Records), "html", sr.Artifacts.HTML)
		}
		if sum.Status != pipeline.StatusOK {
			os.Exit(2)
		}
		return
	}

	if err := serve(ctx, flags, conf, runner); err != nil {
		appLog.Error("serve failed", err)
		os.Exit(1)
	}
	appLog.Info("calreport exiting")
}

// serve runs the scheduler and the HTTP server until ctx is canceled.
func serve(ctx context.Context, flags flagConfig, initial *config.Config, runner *pipeline.Runner) error {
	watcher := config.NewWatcher(flags.configPath, initial)
	store := &pipeline.Store{}

	current := func() *config.Config {
		c := *watcher.Config()
		applyOverrides(&c, flags)
		return &c
	}

	sched, err := scheduler.New(initial.Refresh, func(ctx context.Context) {
		sum, err := runner.Run(ctx, current(), pipeline.Input{})
		if err != nil {
			appLog.Error("scheduled run failed", err, "run_id", sum.RunID)
		}
		store.Set(sum)
	})
	if err != nil {
		return err
	}

	watcher.OnChange(func(c *config.Config) {
		appLog.SetLevel(appLog.ParseLevel(c.LogLevel))
		if err := sched.Reschedule(c.Refresh); err != nil {
			appLog.Error("keeping previous schedule", err, "refresh", c.Refresh)
		}
	})
	stopWatch, err := watcher.Watch()
	if err != nil {
		// Hot reload is optional; the service keeps its startup config.
		appLog.Error("config watch unavailable", err, "config_path", flags.configPath)
	} else {
		defer stopWatch()
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// Initial run so the API has data before the first tick.
	go sched.Trigger(ctx)

	srv := web.NewServer(current, store, sched.Trigger)
	return srv.ListenAndServe(ctx)
}

// applyOverrides applies CLI flags on top of a loaded config.
func applyOverrides(c *config.Config, flags flagConfig) {
	if flags.listen != "" {
		c.Listen = flags.listen
	}
	if flags.outputDir != "" {
		c.OutputDir = flags.outputDir
	}
	if flags.parser != "" {
		c.Parser = flags.parser
	}
}

func inputFromFlags(flags flagConfig) pipeline.Input {
	if flags.input == "" {
		return pipeline.Input{}
	}
	id := strings.TrimSuffix(filepath.Base(flags.input), filepath.Ext(flags.input))
	return pipeline.Input{Sources: []source.Source{{ID: id, Path: flags.input}}}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./calreport.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.input, "in", "", "Process this calendar export once instead of the configured sources")
	flag.StringVar(&cfg.outputDir, "out", "", "Output directory (overrides config if set)")
	flag.StringVar(&cfg.parser, "parser", "", "Extraction backend: lines or ical (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run the pipeline once over the configured sources and exit")

	flag.Parse()

	return cfg
}
