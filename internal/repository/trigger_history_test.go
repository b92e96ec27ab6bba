package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PriceAlarm/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func (p *recordingProducer) Close() error { return nil }

func TestKafkaTriggerPublisher_KeysByTicker(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaTriggerPublisher(prod, "alarm-triggers")

	trig := &models.Trigger{
		CycleID:     "c1",
		AlarmID:     "a1",
		RecipientID: "42",
		Ticker:      "PETR4",
		Direction:   models.DirectionAbove,
		Target:      decimal.RequireFromString("30"),
		Price:       decimal.RequireFromString("30.5"),
		FiredAt:     time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Delivered:   true,
	}
	require.NoError(t, pub.Record(context.Background(), trig))

	assert.Equal(t, "alarm-triggers", prod.topic)
	assert.Equal(t, []byte("PETR4"), prod.key)

	b, err := json.Marshal(prod.value)
	require.NoError(t, err)
	var back models.Trigger
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Price.Equal(trig.Price))
	assert.Equal(t, trig.FiredAt, back.FiredAt)
}

func TestKafkaTriggerPublisher_WrapsError(t *testing.T) {
	boom := errors.New("broker down")
	pub := NewKafkaTriggerPublisher(&recordingProducer{err: boom}, "t")

	err := pub.Record(context.Background(), &models.Trigger{Ticker: "X"})
	assert.ErrorIs(t, err, boom)
}

func TestNoopTriggerRecorder(t *testing.T) {
	var r NoopTriggerRecorder
	assert.NoError(t, r.Record(context.Background(), &models.Trigger{}))
	assert.NoError(t, r.Close())
}
