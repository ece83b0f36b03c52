package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"
	"SpectraIDS/internal/probe"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	url := flag.String("url", "", "NATS server URL (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})

	natsURL := cfg.NATS.URL
	if *url != "" {
		natsURL = *url
	}

	sub, err := probe.NewSubscriber(natsURL, cfg.NATS.Subject)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect")
	}
	defer sub.Close()

	if err := sub.Start(printEvent); err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func printEvent(ev *model.DetectionEvent) {
	sec := int64(ev.Timestamp)
	ts := time.Unix(sec, int64((ev.Timestamp-float64(sec))*1e9)).Format("15:04:05.000")
	fmt.Printf("%s  %-9s  %-15s -> %-15s :%-5d  %-13s  %.3f\n",
		ts, ev.Origin, ev.SrcIP, ev.DstIP, ev.DstPort, ev.Label, ev.Confidence)
}
