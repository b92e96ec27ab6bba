package repository

import (
	"context"

	"PriceAlarm/internal/domain/models"
)

// AlarmStore persists alarms. Upsert keeps one alarm per (recipient, ticker).
type AlarmStore interface {
	ListAlarms(ctx context.Context) ([]models.Alarm, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]models.Alarm, error)
	Upsert(ctx context.Context, a *models.Alarm) (*models.Alarm, error)
	Delete(ctx context.Context, id string) error
	DeleteByTicker(ctx context.Context, recipientID, ticker string) error
	DeleteByRecipient(ctx context.Context, recipientID string) (int, error)
	Health(ctx context.Context) error
	Close() error
}

// QuoteSource returns the latest quotes keyed by wire symbol.
// Symbols it cannot price are simply left out of the result.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
}

type Notifier interface {
	Send(ctx context.Context, recipientID, message string) error
}

// TriggerRecorder keeps an audit trail of fired alarms.
type TriggerRecorder interface {
	Record(ctx context.Context, t *models.Trigger) error
	Close() error
}

type Metrics interface {
	RecordCycle(result string, seconds float64)
	RecordAlarmsEvaluated(n int)
	RecordFired(direction string)
	RecordQuoteMissing(ticker string)
	RecordError(kind string)
	RecordLastPrice(ticker string, price float64)
	RecordLatency(op string, seconds float64)
}
