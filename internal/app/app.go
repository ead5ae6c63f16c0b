package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/ledger"
	"github.com/kai-familiar/marmot-cli/pkg/redis"
)

// Store is the delivery ledger plus the redis connection behind it, if any.
type Store struct {
	Ledger ledger.Ledger
	RDB    redis.Redis
}

func (s *Store) Close() error {
	var errs []error

	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close ledger: %w", err))
		}
	}

	if s.RDB != nil {
		if err := s.RDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close RDB: %w", err))
		}
	}

	return errors.Join(errs...)
}

func initRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

func initStore(log *zap.Logger, cfg *config.Ledger) (*Store, error) {
	switch cfg.Driver {
	case config.LedgerRedis:
		rdb, err := redis.New(&redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}

		log.Debug("Redis ledger initialized")

		return &Store{
			Ledger: ledger.NewRedis(rdb.Client(), cfg.Retention.MaxAge),
			RDB:    rdb,
		}, nil
	default:
		l, err := ledger.NewBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}

		log.Debug("Bolt ledger initialized", zap.String("path", cfg.Path))

		return &Store{Ledger: l}, nil
	}
}

func initRetention(log *zap.Logger, cfg *config.Ledger, l ledger.Ledger) (*ledger.Retention, error) {
	retention, err := ledger.NewRetention(log, l, cfg.Retention.Cron, cfg.Retention.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger retention: %w", err)
	}

	return retention, nil
}

func initDispatcher(log *zap.Logger, cfg *config.Dispatch, metrics *dispatch.Metrics) (*dispatch.Dispatcher, error) {
	d, err := dispatch.New(log, dispatch.Config{
		Command: cfg.OnMessage,
		Timeout: cfg.Timeout,
	}, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	log.Debug("Dispatcher initialized", zap.String("command", cfg.OnMessage))

	return d, nil
}

// shutdownError wraps whatever failed during shutdown in ErrShutdown.
func shutdownError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", apperrors.ErrShutdown, errors.Join(errs...))
}
