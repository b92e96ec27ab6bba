package usecase

import (
	"context"
	"fmt"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	applogger "PriceAlarm/pkg/logger"

	"github.com/shopspring/decimal"
)

// Outcome of evaluating one alarm against one cycle's quotes.
type Outcome int

const (
	OutcomeNotFired Outcome = iota
	OutcomeMissingQuote
	OutcomeDelivered
	OutcomeDispatchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMissingQuote:
		return "missing_quote"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDispatchFailed:
		return "dispatch_failed"
	default:
		return "not_fired"
	}
}

// Fired reports whether the alarm's condition held, regardless of delivery.
func (o Outcome) Fired() bool {
	return o == OutcomeDelivered || o == OutcomeDispatchFailed
}

// Evaluation is the result for one alarm.
type Evaluation struct {
	Outcome Outcome
	Price   decimal.Decimal
	Err     error
}

// Crossed is the threshold rule. Both directions are inclusive.
func Crossed(d models.Direction, price, target decimal.Decimal) bool {
	switch d {
	case models.DirectionAbove:
		return price.GreaterThanOrEqual(target)
	case models.DirectionBelow:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

// FormatMessage renders the notification text for a fired alarm.
func FormatMessage(a models.Alarm, price decimal.Decimal) string {
	return fmt.Sprintf("Price alert triggered\n\nTicker: %s R$ %s\nCondition: %s R$ %s",
		a.Ticker,
		price.StringFixed(2),
		a.Direction.Label(),
		a.Target.StringFixed(2),
	)
}

// Evaluator matches alarms against quotes and dispatches notifications.
type Evaluator struct {
	notifier drepo.Notifier
	metrics  drepo.Metrics
	log      *applogger.Logger
}

func NewEvaluator(notifier drepo.Notifier, metrics drepo.Metrics, l *applogger.Logger) *Evaluator {
	return &Evaluator{notifier: notifier, metrics: metrics, log: l}
}

// Evaluate never returns an error for a single alarm; failures are reported
// through the Evaluation so siblings keep going.
func (e *Evaluator) Evaluate(ctx context.Context, a models.Alarm, prices map[string]models.Quote) Evaluation {
	q, ok := prices[models.NormalizeTicker(a.Ticker)]
	if !ok {
		e.log.Warn("no price found for ticker",
			applogger.String("ticker", a.Ticker),
			applogger.String("alarm_id", a.ID),
		)
		e.metrics.RecordQuoteMissing(a.Ticker)
		return Evaluation{Outcome: OutcomeMissingQuote}
	}

	if !Crossed(a.Direction, q.Price, a.Target) {
		return Evaluation{Outcome: OutcomeNotFired, Price: q.Price}
	}

	e.metrics.RecordFired(string(a.Direction))
	if err := e.notifier.Send(ctx, a.RecipientID, FormatMessage(a, q.Price)); err != nil {
		e.metrics.RecordError("alarm_dispatch")
		e.log.Error("alarm dispatch failed",
			applogger.String("alarm_id", a.ID),
			applogger.String("recipient_id", a.RecipientID),
			applogger.String("ticker", a.Ticker),
			applogger.Error(err),
		)
		return Evaluation{Outcome: OutcomeDispatchFailed, Price: q.Price, Err: err}
	}

	e.log.Info("alarm fired",
		applogger.String("alarm_id", a.ID),
		applogger.String("ticker", a.Ticker),
		applogger.String("direction", string(a.Direction)),
		applogger.String("target", a.Target.String()),
		applogger.String("price", q.Price.String()),
	)
	return Evaluation{Outcome: OutcomeDelivered, Price: q.Price}
}
