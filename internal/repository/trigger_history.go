package repository

import (
	"context"
	"database/sql"
	"fmt"

	"PriceAlarm/internal/domain/models"
	"PriceAlarm/internal/domain/repository"
)

// TriggerSchema is the DDL for the ClickHouse trigger history table.
var TriggerSchema = []string{
	`CREATE TABLE IF NOT EXISTS alarm_triggers (
		fired_at     DateTime64(3, 'UTC'),
		cycle_id     String,
		alarm_id     String,
		recipient_id String,
		ticker       LowCardinality(String),
		direction    LowCardinality(String),
		target       Decimal(18, 4),
		price        Decimal(18, 4),
		delivered    Bool,
		error        String
	) ENGINE = MergeTree
	ORDER BY (ticker, fired_at)
	TTL toDateTime(fired_at) + INTERVAL 180 DAY`,
}

// ClickHouseTriggerStore writes fired alarms to ClickHouse.
type ClickHouseTriggerStore struct {
	db    *sql.DB
	table string
}

var _ repository.TriggerRecorder = (*ClickHouseTriggerStore)(nil)

func NewClickHouseTriggerStore(db *sql.DB) *ClickHouseTriggerStore {
	return &ClickHouseTriggerStore{db: db, table: "alarm_triggers"}
}

func (s *ClickHouseTriggerStore) Record(ctx context.Context, t *models.Trigger) error {
	q := fmt.Sprintf(`INSERT INTO %s
		(fired_at, cycle_id, alarm_id, recipient_id, ticker, direction, target, price, delivered, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		t.FiredAt.UTC(),
		t.CycleID,
		t.AlarmID,
		t.RecipientID,
		t.Ticker,
		string(t.Direction),
		t.Target,
		t.Price,
		t.Delivered,
		t.Error,
	)
	if err != nil {
		return fmt.Errorf("clickhouse: insert trigger: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by pkg/clickhouse.
func (s *ClickHouseTriggerStore) Close() error {
	return nil
}

// TriggerProducer is the part of pkg/kafka.Producer the publisher uses.
type TriggerProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaTriggerPublisher emits fired alarms as JSON events keyed by ticker, so
// one ticker's triggers stay ordered within a partition.
type KafkaTriggerPublisher struct {
	producer TriggerProducer
	topic    string
}

var _ repository.TriggerRecorder = (*KafkaTriggerPublisher)(nil)

func NewKafkaTriggerPublisher(producer TriggerProducer, topic string) *KafkaTriggerPublisher {
	return &KafkaTriggerPublisher{producer: producer, topic: topic}
}

func (p *KafkaTriggerPublisher) Record(ctx context.Context, t *models.Trigger) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(t.Ticker), t); err != nil {
		return fmt.Errorf("kafka: publish trigger: %w", err)
	}
	return nil
}

// Close is a no-op; the producer is shared with the log collector and closed
// by the app.
func (p *KafkaTriggerPublisher) Close() error {
	return nil
}

// NoopTriggerRecorder discards triggers. Used when history.backend is none.
type NoopTriggerRecorder struct{}

func (NoopTriggerRecorder) Record(context.Context, *models.Trigger) error { return nil }
func (NoopTriggerRecorder) Close() error                                 { return nil }
