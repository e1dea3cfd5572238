package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dealdrip/dealdrip/pkg/cmd"
	"github.com/dealdrip/dealdrip/pkg/config"
	"github.com/dealdrip/dealdrip/pkg/engagement"
	"github.com/dealdrip/dealdrip/pkg/log"
)

const defaultMetricsPort = 9090

func main() {
	command := &cli.Command{
		Name:                  "dealdrip-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute messaging runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent run executors",
				Value:   10,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port to expose Prometheus metrics on",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the engagement callback queue (disabled if empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "engagement-queue",
				Usage:   "Redis list to pop engagement callbacks from",
				Value:   engagement.DefaultQueue,
				Sources: cli.EnvVars("ENGAGEMENT_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional worker.yaml overriding flag defaults",
				Value:   "",
				Sources: cli.EnvVars("WORKER_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("dealdrip-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing DealDrip Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			workerCfg := WorkerConfig{
				ID:          workerID,
				Workers:     command.Int("workers"),
				MetricsPort: command.Int("metrics-port"),
				RedisAddr:   command.String("redis-addr"),
				RedisQueue:  command.String("engagement-queue"),
			}

			if path := command.String("config"); path != "" {
				file, err := config.LoadWorkerFile(path)
				if err != nil {
					return err
				}

				if file.Workers > 0 {
					workerCfg.Workers = file.Workers
				}

				if file.MetricsPort > 0 {
					workerCfg.MetricsPort = file.MetricsPort
				}

				if file.Engagement.RedisAddr != "" {
					workerCfg.RedisAddr = file.Engagement.RedisAddr
				}

				if file.Engagement.Queue != "" {
					workerCfg.RedisQueue = file.Engagement.Queue
				}

				workerCfg.ChannelDefaults = file.Channels
			}

			worker := NewWorkerManager(
				workerCfg,
				persistence,
				eventBus,
				logger,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
