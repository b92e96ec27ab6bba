//go:build wireinject
// +build wireinject

package di

import (
	"PriceAlarm/pkg/config"
	"PriceAlarm/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRedisCache,
		ProvideLocker,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Repositories and adapters
		ProvideAlarmStore,
		ProvideTriggerRecorder,
		ProvideTriggerSink,
		ProvideQuoteSource,
		ProvideTelegramClient,
		ProvideNotifier,

		// Use cases
		ProvideQuoteFetcher,
		ProvideEvaluator,
		ProvideScheduler,
		ProvideAlarmService,
		ProvideCommandLimiter,
		ProvideCommandRouter,

		// Transport and application
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
