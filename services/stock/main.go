package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ordersaga/internal/eventbus"
	"ordersaga/internal/events"
	"ordersaga/internal/inbox"
	"ordersaga/internal/outbox"
	"ordersaga/internal/tracelog"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).With().Str("service", "stock").Logger()

	cfg := LoadConfig()

	repo, err := NewRepository(cfg.DBPath)
	must(err)
	defer repo.Close()

	if cfg.SeedOnStart {
		must(repo.SeedDemo(context.Background()))
		log.Info().Msg("seeded demo stock")
	}

	sink := tracelog.NewZerologSink(log.Logger)

	retry := eventbus.DefaultRetry
	retry.MaxAttempts = cfg.RetryAttempts
	bus, err := eventbus.NewBus(cfg.RabbitURL, eventbus.Options{
		Service: consumerGroup,
		Retry:   retry,
		Sink:    sink,
		Logger:  log.Logger,
	})
	must(err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chaos := NewChaos()
	consumer := NewReservationConsumer(repo, chaos, log.Logger)
	must(bus.Subscribe(ctx, consumerGroup, events.TypeOrderCreated, consumer.HandleOrderCreated))
	log.Info().Msg("reservation consumer started")

	relay := outbox.NewRelay(repo.DB(), bus, outbox.RelayOptions{
		PollInterval: cfg.PollInterval,
		Debounce:     cfg.OutboxDebounce,
		Logger:       log.Logger,
	})
	go relay.Run(ctx)
	go pruneLoop(ctx, repo, cfg.Retention)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: NewServer(repo, chaos, log.Logger).Handler(),
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		log.Warn().Msg("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func pruneLoop(ctx context.Context, repo *Repository, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := outbox.Prune(ctx, repo.DB(), retention); err != nil {
				log.Warn().Err(err).Msg("outbox prune failed")
			}
			if _, err := inbox.Prune(ctx, repo.DB(), retention); err != nil {
				log.Warn().Err(err).Msg("inbox prune failed")
			}
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
