package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/marketdepth/orderbookd/api/httpserver"
	"github.com/marketdepth/orderbookd/internal/aggregator"
	"github.com/marketdepth/orderbookd/internal/audit"
	"github.com/marketdepth/orderbookd/internal/config"
	"github.com/marketdepth/orderbookd/internal/engine"
	"github.com/marketdepth/orderbookd/internal/health"
	"github.com/marketdepth/orderbookd/internal/logging"
	"github.com/marketdepth/orderbookd/internal/sink"
	"github.com/marketdepth/orderbookd/internal/session"
	"github.com/marketdepth/orderbookd/internal/sink/mongosink"
	"github.com/marketdepth/orderbookd/internal/sink/natssink"
	"github.com/marketdepth/orderbookd/pkg/shutdown"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "c", "config/orderbookd.json", "configuration file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.Development {
		level = zerolog.DebugLevel
	}
	logging.Init(cfg.Development, level)
	logger := logging.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Sink.Mongo.URI))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongo")
	}

	durableSink, err := mongosink.New(ctx, mongoClient, collectionPrefix(cfg), 0, 0, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize mongo sink")
	}

	var supplementary []sink.Sink
	if cfg.Sink.NATS != nil {
		natsSink, err := natssink.New(cfg.Sink.NATS.GetNATSURIs(), cfg.Sink.NATS.Stream, cfg.Sink.NATS.Subject)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize nats sink, continuing without it")
		} else {
			supplementary = append(supplementary, natsSink)
			defer natsSink.Close()
		}
	}
	fanOut := sink.NewFanOut(durableSink, logger, supplementary...)

	var trail *audit.Trail
	if cfg.Postgres != nil {
		trail, err = audit.Open(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.SSLMode, cfg.Postgres.TimeZone)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to open audit trail, continuing without it")
			trail = nil
		}
	}

	eng, err := engine.New(cfg, trail, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}
	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start engine")
	}

	bandEdges, err := cfg.DepthBandEdges()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse depth bands")
	}

	supervisor := health.New(time.Duration(cfg.StalenessThresholdMS)*time.Millisecond, logger, eng.OnStale)

	agg := aggregator.New(time.Duration(cfg.EmitIntervalMS)*time.Millisecond, bandEdges, fanOut, supervisor, sessionRunID(), logger)
	eng.ForEachSession(func(exchangeID, symbol string, s *session.Session) {
		agg.AddSession(exchangeID, symbol, s)
	})

	go agg.Run(ctx)

	httpSrv := httpserver.New(sessionProviderAdapter{eng}, logger)
	go func() {
		if err := httpSrv.Run(cfg.HTTP.ListenAddr); err != nil {
			logger.Error().Err(err).Msg("ops http server stopped")
		}
	}()

	sd := shutdown.NewShutdown(logger)
	sd.HookShutdownCallback("engine", eng.Shutdown, 30*time.Second)
	sd.HookShutdownCallback("mongo", func() {
		_ = mongoClient.Disconnect(context.Background())
	}, 10*time.Second)
	sd.HookShutdownCallback("durable-sink", durableSink.Close, 10*time.Second)
	sd.HookShutdownCallback("cancel-context", cancel, 0)

	logger.Info().Str("listen_addr", cfg.HTTP.ListenAddr).Msg("orderbookd started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
}

func collectionPrefix(cfg *config.Config) string {
	if cfg.Sink.Mongo.CollectionName != "" {
		return cfg.Sink.Mongo.CollectionName
	}
	return "depth"
}

// sessionRunID is stamped into every emitted document's metadata,
// distinguishing one process run from the next.
func sessionRunID() string {
	return uuid.NewString()
}

type sessionProviderAdapter struct {
	eng *engine.Engine
}

func (s sessionProviderAdapter) Sessions() []httpserver.SessionInfo {
	snapshots := s.eng.Sessions()
	out := make([]httpserver.SessionInfo, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, httpserver.SessionInfo{
			Exchange:     snap.Exchange,
			Symbol:       snap.Symbol,
			State:        snap.State,
			LastUpdateAt: snap.LastUpdateAt,
		})
	}
	return out
}

func (s sessionProviderAdapter) SessionTransitions(exchangeID, symbol string) ([]httpserver.TransitionInfo, error) {
	rows, err := s.eng.SessionTransitions(exchangeID, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]httpserver.TransitionInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, httpserver.TransitionInfo{
			FromState: row.FromState,
			ToState:   row.ToState,
			At:        row.At,
		})
	}
	return out, nil
}
