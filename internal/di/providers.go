package di

import (
	"context"
	"fmt"
	"time"

	"PriceAlarm/internal/domain/repository"
	"PriceAlarm/internal/handler/api"
	internalrepo "PriceAlarm/internal/repository"
	"PriceAlarm/internal/service/ratelimit"
	"PriceAlarm/internal/service/telegram"
	"PriceAlarm/internal/service/yahoo"
	"PriceAlarm/internal/usecase"
	"PriceAlarm/pkg/cache"
	pkgch "PriceAlarm/pkg/clickhouse"
	"PriceAlarm/pkg/config"
	xhttp "PriceAlarm/pkg/http"
	pkgkafka "PriceAlarm/pkg/kafka"
	applogger "PriceAlarm/pkg/logger"
	"PriceAlarm/pkg/metrics"
	"PriceAlarm/pkg/server"

	"github.com/rs/zerolog"
)

// ProvideLogger builds the root logger from the log section and attaches the
// error-log collector when it is enabled. Child loggers share the collector,
// so it must be in place before any component derives one.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		minLevel, err := zerolog.ParseLevel(cfg.Log.Collector.Level)
		if err != nil {
			return nil, fmt.Errorf("log collector level: %w", err)
		}
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			MinLevel:       minLevel,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis when the alarm store or the cycle lease
// needs it. It returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if cfg.Store.Driver != config.StoreRedis && !cfg.Scheduler.Lock.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideLocker backs the cycle lease and webhook dedupe. Redis when
// available, process memory otherwise.
func ProvideLocker(rc *cache.RedisCache) cache.Locker {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache()
}

// ProvideAlarmStore opens the configured alarm store.
func ProvideAlarmStore(cfg *config.Config, rc *cache.RedisCache) (repository.AlarmStore, error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		return internalrepo.NewRedisAlarmStore(rc.Client(), rc.Prefix()), nil
	case config.StoreSQLite:
		s, err := internalrepo.NewSQLiteAlarmStore(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// ProvideClickHouseClient connects and creates the trigger table. It returns
// nil when no ClickHouse host is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouseEnabled() {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.TriggerSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when nothing
// publishes to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTriggerRecorder selects the trigger history backend.
func ProvideTriggerRecorder(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client) repository.TriggerRecorder {
	switch cfg.History.Backend {
	case config.HistoryKafka:
		return internalrepo.NewKafkaTriggerPublisher(producer, cfg.Kafka.Topic)
	case config.HistoryClickHouse:
		return internalrepo.NewClickHouseTriggerStore(ch.DB())
	default:
		return internalrepo.NoopTriggerRecorder{}
	}
}

// ProvideKafkaConsumer creates the trigger history consumer, or nil when
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l.With(applogger.String("component", "kafka_consumer"))),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideTriggerSink sinks the trigger topic into ClickHouse. It returns nil
// when the consumer is disabled.
func ProvideTriggerSink(cfg *config.Config, ch *pkgch.Client, m repository.Metrics) pkgkafka.MessageHandler {
	if !cfg.Kafka.Consumer.Enabled || ch == nil {
		return nil
	}
	return usecase.NewTriggerSinkHandler(cfg.Kafka.Topic, internalrepo.NewClickHouseTriggerStore(ch.DB()), m)
}

func ProvideQuoteSource(cfg *config.Config) repository.QuoteSource {
	return yahoo.New(cfg.Quotes.BaseURL, cfg.Quotes.Timeout)
}

func ProvideTelegramClient(cfg *config.Config, l *applogger.Logger) *telegram.Client {
	return telegram.New(
		cfg.Telegram.APIURL,
		cfg.Telegram.BotToken,
		cfg.Telegram.Timeout,
		cfg.Telegram.RatePerSecond,
		l.With(applogger.String("component", "telegram")),
	)
}

func ProvideNotifier(tg *telegram.Client) repository.Notifier {
	return tg
}

func ProvideQuoteFetcher(cfg *config.Config, src repository.QuoteSource, m repository.Metrics, l *applogger.Logger) *usecase.QuoteFetcher {
	return usecase.NewQuoteFetcher(src, cfg.Quotes.MarketSuffix, m, l)
}

func ProvideEvaluator(n repository.Notifier, m repository.Metrics, l *applogger.Logger) *usecase.Evaluator {
	return usecase.NewEvaluator(n, m, l)
}

// ProvideScheduler builds the check-cycle scheduler. The lease is used only
// when scheduler.lock.enabled is set.
func ProvideScheduler(
	cfg *config.Config,
	store repository.AlarmStore,
	fetcher *usecase.QuoteFetcher,
	evaluator *usecase.Evaluator,
	history repository.TriggerRecorder,
	locker cache.Locker,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	var lease cache.Locker
	if cfg.Scheduler.Lock.Enabled {
		lease = locker
	}
	return usecase.NewScheduler(
		usecase.SchedulerConfig{
			Interval:       cfg.Interval(),
			PostFirePolicy: cfg.Scheduler.PostFirePolicy,
			Concurrency:    cfg.Scheduler.DispatchConcurrency,
			LockKey:        cfg.Scheduler.Lock.Key,
			LockTTL:        cfg.Scheduler.Lock.TTL,
		},
		store, fetcher, evaluator, history, lease, m,
		l.With(applogger.String("component", "scheduler")),
	)
}

func ProvideAlarmService(store repository.AlarmStore, l *applogger.Logger) *usecase.AlarmService {
	return usecase.NewAlarmService(store, l)
}

func ProvideCommandLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(float64(cfg.Telegram.CommandBurst), cfg.Telegram.CommandRefill)
}

func ProvideCommandRouter(svc *usecase.AlarmService, n repository.Notifier, lim *ratelimit.Limiter, l *applogger.Logger) *usecase.CommandRouter {
	return usecase.NewCommandRouter(svc, n, lim, l.With(applogger.String("component", "commands")))
}

// ProvideHTTPServer registers the REST API and the webhook on one echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.AlarmService,
	sched *usecase.Scheduler,
	router *usecase.CommandRouter,
	locker cache.Locker,
) *xhttp.Server {
	handlers := []xhttp.Handler{
		api.NewAlarmsEchoHandler(l, svc, sched),
		api.NewWebhookEchoHandler(cfg.Telegram.WebhookPath, l, router, locker),
	}
	metricsPath := "/metrics"
	if !cfg.Metrics.Enabled {
		metricsPath = ""
	}
	return xhttp.NewServer(handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp assembles the application and the shutdown order of its
// infrastructure clients.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	sched *usecase.Scheduler,
	httpServer *xhttp.Server,
	tg *telegram.Client,
	consumer *pkgkafka.Consumer,
	sink pkgkafka.MessageHandler,
	lim *ratelimit.Limiter,
	store repository.AlarmStore,
	history repository.TriggerRecorder,
	locker cache.Locker,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
) *server.App {
	// closed in reverse: history and store before the clients they use
	resources := []server.Resource{}
	if ch != nil {
		resources = append(resources, server.Resource{Name: "clickhouse", Close: ch.Close})
	}
	if producer != nil {
		resources = append(resources, server.Resource{Name: "kafka_producer", Close: producer.Close})
	}
	resources = append(resources,
		server.Resource{Name: "locker", Close: locker.Close},
		server.Resource{Name: "alarm_store", Close: store.Close},
		server.Resource{Name: "trigger_history", Close: history.Close},
	)

	return server.New(cfg, l, sched, httpServer, tg, consumer, sink, lim, resources...)
}
