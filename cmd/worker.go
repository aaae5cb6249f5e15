package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/testnet/services/points/config"
	"example.com/testnet/services/points/internal/cache"
	"example.com/testnet/services/points/internal/database"
	"example.com/testnet/services/points/internal/messaging"
	"example.com/testnet/services/points/internal/service"
	"example.com/testnet/services/points/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that recomputes point aggregates from queued tasks and sweeps stale aggregates`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

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

	tasks, err := messaging.NewTaskClient(cfg.Azure)
	if err != nil {
		return err
	}
	defer func() {
		if err := tasks.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing task client")
		}
	}()

	pointsService := service.NewPointsService(db, tasks, redisCache, cfg.Points.SweepBatchSize)
	processor := service.NewTaskProcessor(pointsService, tracer)

	receiver, err := messaging.NewReceiver(cfg.Azure)
	if err != nil {
		return err
	}
	defer func() {
		if err := receiver.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing queue receiver")
		}
	}()

	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting task queue processor")
		return receiver.Run(ctx, processor)
	})

	// Fallback for lost messages and failed enqueues: periodically re-enqueue
	// recomputes for aggregates older than their ledger.
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Points.SweepInterval),
			gocron.NewTask(func() {
				if err := pointsService.SweepStaleAggregates(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to sweep stale aggregates")
				}
			}),
		)
		if err != nil {
			return err
		}

		log.Info().Dur("interval", cfg.Points.SweepInterval).Msg("Starting stale aggregate sweep")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
