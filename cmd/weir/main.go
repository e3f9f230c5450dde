// Command weir hosts the coordinated checkpointing and recovery layer of a
// stream pipeline: the checkpoint coordinator, the recovery manager and the
// status http service. The operator pipeline itself registers against the
// coordinator from outside this process boundary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/internal/httpd"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/recovery"
	"github.com/tarungka/weir/state"
)

var (
	buildString = "unknown"
	ko          = koanf.New(".")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	initFlags(ko)

	if ko.Bool("version") {
		fmt.Println(buildString)
		os.Exit(0)
	}
	logger.SetDevelopment(ko.Bool("dev"))

	log.Info().Str("build", buildString).Msg("starting weir")

	backend, err := newBackend(ko)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state backend")
	}
	defer backend.Close()

	checkpointCfg := checkpoint.DefaultConfig()
	if err := ko.Unmarshal("checkpoint", &checkpointCfg); err != nil {
		log.Fatal().Err(err).Msg("invalid checkpoint config")
	}
	coordinator, err := checkpoint.NewCoordinator(backend, checkpointCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.LoadRetainedCheckpoints(ctx); err != nil {
		log.Error().Err(err).Msg("could not load retained checkpoints, starting fresh")
	}

	recoveryCfg := recovery.DefaultConfig()
	if err := ko.Unmarshal("recovery", &recoveryCfg); err != nil {
		log.Fatal().Err(err).Msg("invalid recovery config")
	}
	manager := recovery.NewManager(coordinator, backend, recoveryCfg)

	statusService := httpd.New(ko.String("http.addr"), coordinator, manager)
	if err := statusService.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start status service")
	}
	defer statusService.Close()

	if err := coordinator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start checkpoint loop")
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	<-done

	log.Info().Msg("shutting down")
	coordinator.Stop()
}

func newBackend(ko *koanf.Koanf) (state.Backend, error) {
	switch backendType := ko.String("backend.type"); backendType {
	case "fs":
		return state.NewFSBackend(state.FSConfig{
			BaseDir:     ko.String("backend.fs.base_dir"),
			Compression: ko.String("backend.fs.compression"),
		})
	case "memory":
		return state.NewMemoryBackend(), nil
	case "badger":
		return state.NewBadgerBackend(state.BadgerConfig{
			Dir: ko.String("backend.badger.dir"),
		})
	case "bolt":
		return state.NewBoltBackend(state.BoltConfig{
			Path: ko.String("backend.bolt.path"),
		})
	case "mongo":
		cfg := state.DefaultMongoConfig()
		if uri := ko.String("backend.mongo.uri"); uri != "" {
			cfg.URI = uri
		}
		if db := ko.String("backend.mongo.database"); db != "" {
			cfg.Database = db
		}
		if coll := ko.String("backend.mongo.collection"); coll != "" {
			cfg.Collection = coll
		}
		return state.NewMongoBackend(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
