package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	pkgkafka "PriceAlarm/pkg/kafka"
)

// TriggerSinkHandler consumes trigger events from Kafka and writes them to the
// history store.
type TriggerSinkHandler struct {
	topic   string
	store   drepo.TriggerRecorder
	metrics drepo.Metrics
}

func NewTriggerSinkHandler(topic string, store drepo.TriggerRecorder, metrics drepo.Metrics) *TriggerSinkHandler {
	return &TriggerSinkHandler{topic: topic, store: store, metrics: metrics}
}

func (h *TriggerSinkHandler) Topic() string { return h.topic }

func (h *TriggerSinkHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Trigger
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode trigger: %w", err)
	}
	if t.AlarmID == "" || t.Ticker == "" {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("decode trigger: missing alarm_id or ticker")
	}
	if !t.FiredAt.IsZero() {
		h.metrics.RecordLatency("trigger_sink_lag", time.Since(t.FiredAt).Seconds())
	}

	start := time.Now()
	err := h.store.Record(ctx, &t)
	h.metrics.RecordLatency("trigger_sink_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*TriggerSinkHandler)(nil)
