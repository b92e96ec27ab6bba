package usecase

import (
	"context"
	"errors"
	"fmt"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	applogger "PriceAlarm/pkg/logger"
)

// AlarmService is the write path shared by the bot commands and the REST API.
type AlarmService struct {
	store drepo.AlarmStore
	log   *applogger.Logger
}

func NewAlarmService(store drepo.AlarmStore, l *applogger.Logger) *AlarmService {
	return &AlarmService{store: store, log: l}
}

// Set creates or replaces the recipient's alarm for ticker.
func (s *AlarmService) Set(ctx context.Context, recipientID, ticker, direction, target string) (*models.Alarm, error) {
	dir, err := models.ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	tgt, err := models.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	a, err := s.store.Upsert(ctx, &models.Alarm{
		RecipientID: recipientID,
		Ticker:      ticker,
		Direction:   dir,
		Target:      tgt,
	})
	if errors.Is(err, models.ErrInvalidAlarm) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("set alarm: %w", err)
	}
	s.log.Info("alarm set",
		applogger.String("alarm_id", a.ID),
		applogger.String("recipient_id", a.RecipientID),
		applogger.String("ticker", a.Ticker),
		applogger.String("direction", string(a.Direction)),
		applogger.String("target", a.Target.String()),
	)
	return a, nil
}

// List returns the recipient's alarms, or every alarm when recipientID is empty.
func (s *AlarmService) List(ctx context.Context, recipientID string) ([]models.Alarm, error) {
	if recipientID == "" {
		return s.store.ListAlarms(ctx)
	}
	return s.store.ListByRecipient(ctx, recipientID)
}

func (s *AlarmService) Remove(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *AlarmService) RemoveTicker(ctx context.Context, recipientID, ticker string) error {
	return s.store.DeleteByTicker(ctx, recipientID, ticker)
}

func (s *AlarmService) Clear(ctx context.Context, recipientID string) (int, error) {
	n, err := s.store.DeleteByRecipient(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("clear alarms: %w", err)
	}
	s.log.Info("alarms cleared", applogger.String("recipient_id", recipientID), applogger.Int("count", n))
	return n, nil
}

func (s *AlarmService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}
