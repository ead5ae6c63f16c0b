package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/api/http/handler"
	"github.com/kai-familiar/marmot-cli/internal/api/http/route"
	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/ledger"
	"github.com/kai-familiar/marmot-cli/internal/service"
	"github.com/kai-familiar/marmot-cli/pkg/server"
)

// Inbox is the receiving end of the webhook handler.
type Inbox struct {
	Cfg        *config.Inbox
	Log        *zap.Logger
	Store      *Store
	Retention  *ledger.Retention
	Hub        *handler.Hub
	Queue      *service.DispatchQueue
	HTTPServer server.HTTPServer

	queueDone chan struct{}
}

func NewInbox(cfg *config.Inbox, log *zap.Logger) (*Inbox, error) {
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

	var dispatcher service.Dispatcher
	if cfg.Dispatch.OnMessage != "" {
		d, err := initDispatcher(log, &cfg.Dispatch, metrics)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		dispatcher = d
	} else {
		log.Info("dispatch.on_message is empty, notifications are only streamed")
	}

	delivery := service.NewDeliveryService(log, store.Ledger, dispatcher, metrics)

	var (
		queue        *service.DispatchQueue
		handlerQueue handler.NotificationQueue
	)
	if dispatcher != nil {
		queue = service.NewDispatchQueue(log, delivery, service.DefaultQueueSize)
		handlerQueue = queue
	}

	hub := handler.NewHub(log, cfg.HTTPServer.WebSocket.PingInterval, cfg.HTTPServer.WebSocket.SendBuffer)

	router := route.SetupRouter(
		log,
		cfg,
		reg,
		handler.NewHealthHandler(),
		handler.NewNotificationHandler(log, delivery, handlerQueue, hub, 0),
		hub,
	)

	httpServer := server.NewHTTPServer(
		server.WithAddr(cfg.HTTPServer.Host, cfg.HTTPServer.Port),
		server.WithTimeout(cfg.HTTPServer.Timeout.Read, cfg.HTTPServer.Timeout.Write, cfg.HTTPServer.Timeout.Idle),
		server.WithHandler(router),
	)

	return &Inbox{
		Cfg:        cfg,
		Log:        log,
		Store:      store,
		Retention:  retention,
		Hub:        hub,
		Queue:      queue,
		HTTPServer: httpServer,
		queueDone:  make(chan struct{}),
	}, nil
}

// Run serves until Shutdown is called.
func (a *Inbox) Run(ctx context.Context) error {
	if a.Queue != nil {
		// accepted notifications are drained on shutdown, not abandoned
		go func() {
			a.Queue.Run(context.WithoutCancel(ctx))
			close(a.queueDone)
		}()
	} else {
		close(a.queueDone)
	}

	go a.Retention.Run(ctx)

	a.Log.Info("Inbox listening",
		zap.String("host", a.Cfg.HTTPServer.Host),
		zap.Uint16("port", a.Cfg.HTTPServer.Port),
		zap.String("base_path", a.Cfg.HTTPServer.BasePath),
	)

	if err := a.HTTPServer.Run(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func (a *Inbox) Shutdown() error {
	var errs []error

	if err := a.HTTPServer.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
	}

	a.Log.Debug("Http server shutdown")

	a.Hub.Close()

	if a.Queue != nil {
		a.Queue.Close()

		select {
		case <-a.queueDone:
			a.Log.Debug("Dispatch queue drained")
		default:
			a.Log.Info("Waiting for queued notifications to be dispatched")
			<-a.queueDone
		}
	}

	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}

	a.Log.Debug("Ledger closed")

	return shutdownError(errs)
}
