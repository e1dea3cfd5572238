package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealdrip/dealdrip/pkg/audit"
	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/channels/email"
	"github.com/dealdrip/dealdrip/pkg/channels/sms"
	"github.com/dealdrip/dealdrip/pkg/channels/whatsapp"
	"github.com/dealdrip/dealdrip/pkg/engagement"
	"github.com/dealdrip/dealdrip/pkg/eventbus"
	"github.com/dealdrip/dealdrip/pkg/events"
	"github.com/dealdrip/dealdrip/pkg/metrics"
	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
	"github.com/dealdrip/dealdrip/pkg/scheduler"
	"github.com/dealdrip/dealdrip/pkg/triggers"
)

// WorkerConfig carries the command-line settings for one worker process.
type WorkerConfig struct {
	ID          string
	Workers     int
	MetricsPort int
	RedisAddr   string
	RedisQueue  string

	// Boot state of the channel kill switches, keyed by channel name.
	ChannelDefaults map[string]bool
}

// WorkerManager wires the trigger listener, the run scheduler and the
// engagement ingestor together and runs them until a shutdown signal.
type WorkerManager struct {
	cfg         WorkerConfig
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus

	switchboard *channels.Switchboard
	aggregator  *metrics.Aggregator
	scheduler   *scheduler.Scheduler
	listener    *triggers.Listener
	ingestor    *engagement.Ingestor
	metricsSrv  *http.Server
}

func NewWorkerManager(
	cfg WorkerConfig,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkerManager {
	logger = logger.With("module", "dealdrip-worker", "worker_id", cfg.ID)

	switchboard := channels.NewSwitchboard()
	for name, enabled := range cfg.ChannelDefaults {
		switchboard.SetEnabled(models.Channel(name), enabled)
	}

	registry := channels.NewRegistry(
		email.NewAdapter(switchboard, consoleProvider(logger, "email")),
		sms.NewAdapter(switchboard, consoleProvider(logger, "sms")),
		whatsapp.NewAdapter(switchboard, consoleProvider(logger, "whatsapp")),
	)

	registerer := prometheus.NewRegistry()
	aggregator := metrics.NewAggregator(registerer)
	sink := audit.NewSink(persistence, logger)

	sched := scheduler.NewScheduler(
		scheduler.Config{WorkerID: cfg.ID, Workers: cfg.Workers},
		persistence,
		registry,
		aggregator,
		sink,
		eventBus,
		clockwork.NewRealClock(),
		logger,
	)

	listener := triggers.NewListener(persistence, eventBus, sched, nil, logger)

	var ingestor *engagement.Ingestor
	if cfg.RedisAddr != "" {
		ingestor = engagement.NewIngestor(
			cfg.RedisQueue,
			map[string]string{"addr": cfg.RedisAddr},
			persistence,
			aggregator,
			eventBus,
			logger,
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))

	return &WorkerManager{
		cfg:         cfg,
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		switchboard: switchboard,
		aggregator:  aggregator,
		scheduler:   sched,
		listener:    listener,
		ingestor:    ingestor,
		metricsSrv: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	// Counters restart from the logs so rates survive process restarts.
	if err := w.aggregator.Rebuild(ctx, w.persistence.Attempts(), w.persistence.Engagements()); err != nil {
		w.logger.WarnContext(ctx, "Failed to rebuild metrics from logs", "error", err)
	}

	if err := w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.ChannelToggledEvent, w.handleChannelToggled); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	if w.ingestor != nil {
		if err := w.ingestor.Start(ctx); err != nil {
			return err
		}
	}

	go func() {
		w.logger.Info("Serving metrics", "addr", w.metricsSrv.Addr)

		if err := w.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("Metrics server stopped", "error", err)
		}
	}()

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return w.stop(ctx)
}

func (w *WorkerManager) stop(ctx context.Context) error {
	if w.ingestor != nil {
		if err := w.ingestor.Stop(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop engagement ingestor", "error", err)
		}
	}

	if err := w.scheduler.Stop(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return w.metricsSrv.Shutdown(shutdownCtx)
}

func (w *WorkerManager) handleTriggerReceived(ctx context.Context, event any) error {
	triggerEvent, ok := event.(*events.TriggerEvent)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	runIDs, err := w.listener.OnEvent(ctx, *triggerEvent)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to process trigger event",
			"event_id", triggerEvent.ID,
			"trigger_type", triggerEvent.Type,
			"error", err,
		)

		return err
	}

	if len(runIDs) > 0 {
		w.logger.InfoContext(ctx, "Runs created from trigger",
			"event_id", triggerEvent.ID,
			"trigger_type", triggerEvent.Type,
			"runs", len(runIDs),
		)
	}

	return nil
}

func (w *WorkerManager) handleChannelToggled(ctx context.Context, event any) error {
	toggled, ok := event.(*events.ChannelToggled)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ChannelToggled")

		return nil
	}

	w.switchboard.SetEnabled(toggled.Channel, toggled.Enabled)
	w.logger.InfoContext(ctx, "Channel switch updated", "channel", toggled.Channel, "enabled", toggled.Enabled)

	return nil
}
