package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PriceAlarm/internal/service/ratelimit"
	"PriceAlarm/internal/usecase"
	"PriceAlarm/pkg/config"
	xhttp "PriceAlarm/pkg/http"
	pkgkafka "PriceAlarm/pkg/kafka"
	applogger "PriceAlarm/pkg/logger"
)

// WebhookRegistrar points the bot platform at our webhook.
type WebhookRegistrar interface {
	SetWebhook(ctx context.Context, url string) error
}

// Resource is an infrastructure client closed on shutdown.
type Resource struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	scheduler  *usecase.Scheduler
	httpServer *xhttp.Server
	bot        WebhookRegistrar
	consumer   *pkgkafka.Consumer
	sink       pkgkafka.MessageHandler
	limiter    *ratelimit.Limiter
	resources  []Resource

	sweepStop chan struct{}
}

// New creates a new App instance with all dependencies. consumer and sink may
// be nil; resources are closed in reverse order.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.Scheduler,
	httpServer *xhttp.Server,
	bot WebhookRegistrar,
	consumer *pkgkafka.Consumer,
	sink pkgkafka.MessageHandler,
	limiter *ratelimit.Limiter,
	resources ...Resource,
) *App {
	return &App{
		cfg:        cfg,
		log:        l,
		scheduler:  scheduler,
		httpServer: httpServer,
		bot:        bot,
		consumer:   consumer,
		sink:       sink,
		limiter:    limiter,
		resources:  resources,
		sweepStop:  make(chan struct{}),
	}
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.closeResources()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	cancel()
	return a.Shutdown(context.Background())
}

// Start brings components up in dependency order: webhook registration, HTTP,
// the history consumer, then the scheduler.
func (a *App) Start(ctx context.Context) error {
	if url := a.cfg.Telegram.WebhookURL; url != "" && a.bot != nil {
		regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := a.bot.SetWebhook(regCtx, url)
		cancel()
		if err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		a.log.Info("webhook registered", applogger.String("path", a.cfg.Telegram.WebhookPath))
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	if a.consumer != nil && a.sink != nil {
		a.consumer.RegisterHandler(a.sink)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.sink.Topic()))
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if a.limiter != nil {
		go a.sweepLimiter(5 * time.Minute)
	}
	return nil
}

func (a *App) sweepLimiter(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-a.sweepStop:
			return
		case <-t.C:
			if n := a.limiter.Sweep(every); n > 0 {
				a.log.Debug("rate limiter swept", applogger.Int("chats", n))
			}
		}
	}
}

// Shutdown stops intake first, lets an in-flight cycle finish, then closes
// infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.log.Info("shutting down...")
	close(a.sweepStop)

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop error", applogger.Error(err))
	}
	if a.consumer != nil && a.sink != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.log.RemoveCollector()
	a.closeResources()

	a.log.Info("shutdown complete")
	return nil
}

func (a *App) closeResources() {
	for i := len(a.resources) - 1; i >= 0; i-- {
		r := a.resources[i]
		if r.Close == nil {
			continue
		}
		if err := r.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", r.Name), applogger.Error(err))
		}
	}
}
