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
	"ordersaga/internal/tracelog"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).With().Str("service", "notification").Logger()

	cfg := LoadConfig()

	repo, err := NewRepository(cfg.DBPath)
	must(err)
	defer repo.Close()

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

	hub := NewHub()
	consumer, err := NewConsumer(repo, hub, log.Logger)
	must(err)
	must(bus.Subscribe(ctx, consumerGroup, events.TypeOrderCreated, consumer.HandleOrderCreated))
	must(bus.Subscribe(ctx, consumerGroup, events.TypeStockReserved, consumer.HandleStockReserved))
	must(bus.Subscribe(ctx, consumerGroup, events.TypeStockReservationFailed, consumer.HandleStockReservationFailed))
	log.Info().Msg("notification consumers started")

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: NewServer(repo, hub, log.Logger).Handler(),
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

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
