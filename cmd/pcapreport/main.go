package main

import (
	"flag"
	"os"

	"calreport/internal/config"
	appLog "calreport/internal/log"
	"calreport/internal/packets"
)

type flagConfig struct {
	configPath string
	input      string
	outputDir  string
	topN       int
}

func main() {
	flags := parseFlags()

	conf := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		conf = loaded
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	input := conf.Packets.Input
	if flags.input != "" {
		input = flags.input
	}
	outDir := conf.OutputDir
	if flags.outputDir != "" {
		outDir = flags.outputDir
	}
	topN := conf.Packets.TopN
	if flags.topN > 0 {
		topN = flags.topN
	}
	th := packets.Thresholds{
		DDoS:        conf.Packets.DDoSThreshold,
		Flood:       conf.Packets.FloodThreshold,
		ShortLength: conf.Packets.ShortLength,
	}

	f, err := os.Open(input)
	if err != nil {
		appLog.Error("failed to open capture", err, "input", input)
		os.Exit(1)
	}
	pkts, err := packets.Parse(f)
	f.Close()
	if err != nil {
		appLog.Error("failed to parse capture", err, "input", input)
		os.Exit(1)
	}

	a := packets.Analyze(pkts, th)
	appLog.Info("capture analyzed",
		"packets", a.Total,
		"sources", a.UniqueSources,
		"destinations", a.UniqueDestinations,
		"ddos_suspects", len(a.DDoSSuspects),
		"flood_suspects", len(a.FloodSuspects),
	)

	art, err := packets.WriteReport(outDir, pkts, a, th, topN)
	if err != nil {
		appLog.Error("failed to write report", err, "output_dir", outDir)
		os.Exit(1)
	}
	appLog.Info("report written", "csv", art.CSV, "markdown", art.Markdown, "graph", art.Graph, "html", art.HTML)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to config file (defaults are used if empty)")
	flag.StringVar(&cfg.input, "in", "", "tcpdump text dump (overrides packets.input)")
	flag.StringVar(&cfg.outputDir, "out", "", "Output directory (overrides output_dir)")
	flag.IntVar(&cfg.topN, "top", 0, "Rows per top-N table (overrides packets.top_n)")

	flag.Parse()

	return cfg
}
