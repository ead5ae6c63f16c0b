package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/ledger"
	"github.com/kai-familiar/marmot-cli/internal/msg/relay"
	"github.com/kai-familiar/marmot-cli/internal/service"
	"github.com/kai-familiar/marmot-cli/pkg/kafka"
	"github.com/kai-familiar/marmot-cli/pkg/server"
)

type Subscriber interface {
	Run(ctx context.Context)
	Stop() error
}

// Relay consumes notifications from kafka and hands each one to the local
// on-message command at most once.
type Relay struct {
	Cfg           *config.Relay
	Log           *zap.Logger
	Store         *Store
	Retention     *ledger.Retention
	Subscriber    Subscriber
	MetricsServer server.HTTPServer
}

func NewRelay(cfg *config.Relay, log *zap.Logger) (*Relay, error) {
	reg := initRegistry()
	metrics := dispatch.NewMetrics(reg)

	store, err := initStore(log, &cfg.Ledger)
	if err != nil {
		return nil, err
	}

	retention, err := initRetention(log, &cfg.Ledger, store.Ledger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatcher, err := initDispatcher(log, &cfg.Dispatch, metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	delivery := service.NewDeliveryService(log, store.Ledger, dispatcher, metrics)

	opts := []kafka.ConsumerOption{kafka.WithBalancerConsumer(kafka.RoundrobinBalanceStrategy)}
	if cfg.Kafka.Oldest {
		opts = append(opts, kafka.WithOldestOffset())
	}

	consumerGroup, err := kafka.NewConsumerGroupRunner(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		[]string{cfg.Kafka.Topic},
		cfg.Kafka.BufferSize,
		opts...,
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	go func() {
		startAndRunningStr := <-consumerGroup.Info()

		log.Info(startAndRunningStr)
	}()

	subscriber := relay.NewSubscriber(log, relay.Config{
		WorkerCount: cfg.Kafka.WorkerCount,
		Topic:       cfg.Kafka.Topic,
	}, consumerGroup, delivery)

	var metricsServer server.HTTPServer
	if cfg.Metrics.Addr != "" {
		metricsServer = server.NewHTTPServer(
			server.WithListenAddr(cfg.Metrics.Addr),
			server.WithHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		)
	}

	return &Relay{
		Cfg:           cfg,
		Log:           log,
		Store:         store,
		Retention:     retention,
		Subscriber:    subscriber,
		MetricsServer: metricsServer,
	}, nil
}

// Run blocks until ctx is canceled or the metrics server fails.
func (a *Relay) Run(ctx context.Context) error {
	errs := make(chan error, 1)

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Run(); err != nil {
				errs <- err
			}
		}()
	}

	go a.Retention.Run(ctx)

	done := make(chan struct{})
	go func() {
		a.Subscriber.Run(ctx)
		close(done)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("metrics server: %w", err)
	case <-done:
		return nil
	}
}

func (a *Relay) Shutdown() error {
	var errs []error

	if err := a.Subscriber.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop subscriber: %w", err))
	}

	a.Log.Debug("Subscriber stopped")

	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown metrics server: %w", err))
		}

		a.Log.Debug("Metrics server shutdown")
	}

	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}

	a.Log.Debug("Ledger closed")

	return shutdownError(errs)
}
