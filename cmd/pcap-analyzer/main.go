package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"SpectraIDS/internal/broadcast"
	"SpectraIDS/internal/classifier"
	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"
	"SpectraIDS/internal/pipeline"
	"SpectraIDS/internal/scorer"
	"SpectraIDS/internal/snapshot"
	"SpectraIDS/internal/source"

	"github.com/goccy/go-json"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	archive := flag.Bool("archive", false, "Archive the report under archive.root_path")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pcap-analyzer [-config path] [-archive] <path_to_pcap_file>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Output: os.Stderr})

	var clf model.Classifier
	if m, err := classifier.Load(cfg.Classifier.ModelPath); err != nil {
		logging.Warn().Err(err).Msg("classifier unavailable, labels will be 'unknown'")
	} else {
		clf = m
	}

	var opts []pipeline.Option
	if *archive || cfg.Archive.Enabled {
		opts = append(opts, pipeline.WithArchive(snapshot.NewWriter(cfg.Archive.RootPath)))
	}
	b := broadcast.New(cfg.Broadcast.OutboxSize)
	defer b.Close()
	ctrl := pipeline.New(cfg.Pipeline, source.NewSimulator(), scorer.New(clf), b, opts...)
	defer ctrl.Close()

	logging.Info().Str("file", pcapFilePath).Msg("reading packets")
	events, err := ctrl.Analyze(context.Background(), pcapFilePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to parse pcap")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"events": events}); err != nil {
		logging.Fatal().Err(err).Msg("failed to write events")
	}
}
