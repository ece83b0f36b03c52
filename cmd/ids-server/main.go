package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"SpectraIDS/internal/alerter"
	"SpectraIDS/internal/api"
	"SpectraIDS/internal/broadcast"
	"SpectraIDS/internal/classifier"
	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"
	"SpectraIDS/internal/notification"
	"SpectraIDS/internal/pipeline"
	"SpectraIDS/internal/probe"
	"SpectraIDS/internal/query"
	"SpectraIDS/internal/scorer"
	"SpectraIDS/internal/sink"
	"SpectraIDS/internal/snapshot"
	"SpectraIDS/internal/source"
	"SpectraIDS/internal/websocket"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("config", *configPath).Msg("configuration loaded")

	var clf model.Classifier
	if m, err := classifier.Load(cfg.Classifier.ModelPath); err != nil {
		logging.Warn().Err(err).Str("path", cfg.Classifier.ModelPath).Msg("classifier unavailable, scoring in degraded mode")
	} else {
		clf = m
		logging.Info().Strs("classes", m.Classes()).Msg("classifier loaded")
	}

	b := broadcast.New(cfg.Broadcast.OutboxSize)
	sim := source.NewSimulator()

	var opts []pipeline.Option
	if cfg.Archive.Enabled {
		opts = append(opts, pipeline.WithArchive(snapshot.NewWriter(cfg.Archive.RootPath)))
	}
	ctrl := pipeline.New(cfg.Pipeline, sim, scorer.New(clf), b, opts...)

	var embedded *probe.EmbeddedServer
	var relay *probe.Publisher
	if cfg.NATS.Enabled {
		natsCfg := cfg.NATS
		if natsCfg.Embedded {
			embedded, err = probe.StartEmbedded("127.0.0.1", natsCfg.EmbeddedPort)
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to start embedded nats server")
			}
			natsCfg.URL = embedded.ClientURL()
		}
		relay, err = probe.NewPublisherFromConfig(natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start nats relay")
		}
		b.RegisterSink(relay)
	}

	var chSink *sink.ClickHouseSink
	var apiOpts []api.Option
	if cfg.ClickHouse.Enabled {
		chSink, err = sink.NewClickHouseSink(cfg.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to start clickhouse sink")
		}
		b.RegisterSink(chSink)

		q, err := query.NewClickHouseQuerier(cfg.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create clickhouse querier")
		}
		apiOpts = append(apiOpts, api.WithQuerier(q))
	}

	var alerts *alerter.Alerter
	if cfg.Alerter.Enabled {
		alerts, err = alerter.NewAlerter(cfg.Alerter, notification.NewEmailNotifier(cfg.Alerter.SMTP))
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create alerter")
		}
		b.RegisterSink(alerts)
		alerts.Start()
	}

	if cfg.Simulator.Autostart {
		if err := ctrl.Start(cfg.Simulator.Interval); err != nil {
			logging.Fatal().Err(err).Msg("failed to start simulator")
		}
	}

	srv := api.NewServer(ctrl, websocket.NewHandler(b), cfg.Server.UploadLimitBytes, apiOpts...)
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().Str("addr", server.Addr).Msg("ids server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("ids server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Error().Err(err).Msg("server stopped with error")
	}

	ctrl.Close()
	b.Close()
	if alerts != nil {
		alerts.Stop()
	}
	if relay != nil {
		relay.Close()
	}
	if chSink != nil {
		if err := chSink.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close clickhouse sink")
		}
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	logging.Info().Msg("ids server exited")
}
