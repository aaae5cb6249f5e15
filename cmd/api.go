package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/testnet/services/points/api"
	"example.com/testnet/services/points/config"
	"example.com/testnet/services/points/internal/cache"
	"example.com/testnet/services/points/internal/database"
	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/search"
	"example.com/testnet/services/points/internal/service"
	"example.com/testnet/services/points/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling event ingestion and leaderboard reads`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NoopTracer()
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without indexing")
	}

	tasks, err := messaging.NewTaskClient(cfg.Azure)
	if err != nil {
		return err
	}
	defer func() {
		if err := tasks.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing task client")
		}
	}()

	phaseStart, phaseEnd, err := cfg.Points.Window()
	if err != nil {
		return err
	}

	userService := service.NewUserService(db)
	eventService := service.NewEventService(db, service.EventServiceConfig{
		CheckEventOccurredAt:  cfg.Points.CheckEventOccurredAt,
		PhaseStart:            phaseStart,
		PhaseEnd:              phaseEnd,
		AllowBlockMinedPoints: cfg.Points.AllowBlockMinedPoints,
		PhaseMaxBlockSequence: cfg.Points.PhaseMaxBlockSequence,
	}, tasks, elasticClient)
	rankService := service.NewRankService(db, redisCache)

	server := api.NewServer(cfg, userService, eventService, rankService, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
