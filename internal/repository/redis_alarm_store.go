package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceAlarm/internal/domain/models"
	"PriceAlarm/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const upsertMaxRetries = 5

// RedisAlarmStore implements AlarmStore on Redis.
//
// Layout, under prefix p:
//
//	p:alarm:<id>          hash with the alarm fields
//	p:alarms              set of every alarm id
//	p:alarms:r:<chat>     set of the recipient's alarm ids
//	p:alarm:idx           hash "<chat>|<TICKER>" -> id, the uniqueness index
type RedisAlarmStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ repository.AlarmStore = (*RedisAlarmStore)(nil)

func NewRedisAlarmStore(client *redis.Client, prefix string) *RedisAlarmStore {
	return &RedisAlarmStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisAlarmStore) alarmKey(id string) string { return s.prefix + ":alarm:" + id }
func (s *RedisAlarmStore) allKey() string            { return s.prefix + ":alarms" }
func (s *RedisAlarmStore) idxKey() string            { return s.prefix + ":alarm:idx" }
func (s *RedisAlarmStore) recipientKey(r string) string {
	return s.prefix + ":alarms:r:" + r
}

func idxField(recipientID, ticker string) string {
	return recipientID + "|" + ticker
}

func (s *RedisAlarmStore) ListAlarms(ctx context.Context) ([]models.Alarm, error) {
	ids, err := s.client.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list alarm ids: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisAlarmStore) ListByRecipient(ctx context.Context, recipientID string) ([]models.Alarm, error) {
	ids, err := s.client.SMembers(ctx, s.recipientKey(recipientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list recipient alarm ids: %w", err)
	}
	return s.load(ctx, ids)
}

// Upsert runs under WATCH on the uniqueness index so two concurrent creates
// for the same (recipient, ticker) cannot both insert.
func (s *RedisAlarmStore) Upsert(ctx context.Context, a *models.Alarm) (*models.Alarm, error) {
	out := *a
	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	field := idxField(out.RecipientID, out.Ticker)

	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		out.UpdatedAt = now

		id, err := tx.HGet(ctx, s.idxKey(), field).Result()
		switch {
		case errors.Is(err, redis.Nil):
			out.ID = uuid.NewString()
			out.CreatedAt = now
		case err != nil:
			return err
		default:
			out.ID = id
			created, err := tx.HGet(ctx, s.alarmKey(id), "created_at").Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if out.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
				// index pointed at a vanished hash; treat as new
				out.CreatedAt = now
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.alarmKey(out.ID), encodeAlarm(&out))
			pipe.SAdd(ctx, s.allKey(), out.ID)
			pipe.SAdd(ctx, s.recipientKey(out.RecipientID), out.ID)
			pipe.HSet(ctx, s.idxKey(), field, out.ID)
			return nil
		})
		return err
	}

	for i := 0; i < upsertMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.idxKey())
		if err == nil {
			return &out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("redis: upsert alarm: %w", err)
	}
	return nil, fmt.Errorf("redis: upsert alarm: too much contention on %s", field)
}

func (s *RedisAlarmStore) Delete(ctx context.Context, id string) error {
	fields, err := s.client.HMGet(ctx, s.alarmKey(id), "recipient_id", "ticker").Result()
	if err != nil {
		return fmt.Errorf("redis: get alarm: %w", err)
	}
	recipient, _ := fields[0].(string)
	ticker, _ := fields[1].(string)
	if recipient == "" {
		return models.ErrAlarmNotFound
	}
	return s.remove(ctx, id, recipient, ticker)
}

func (s *RedisAlarmStore) DeleteByTicker(ctx context.Context, recipientID, ticker string) error {
	ticker = models.NormalizeTicker(ticker)
	id, err := s.client.HGet(ctx, s.idxKey(), idxField(recipientID, ticker)).Result()
	if errors.Is(err, redis.Nil) {
		return models.ErrAlarmNotFound
	}
	if err != nil {
		return fmt.Errorf("redis: lookup alarm: %w", err)
	}
	return s.remove(ctx, id, recipientID, ticker)
}

// DeleteByRecipient removes exactly the ids it read, under WATCH on the
// recipient set and the uniqueness index, so an Upsert that lands in between
// aborts the transaction instead of leaving an unlisted alarm behind.
func (s *RedisAlarmStore) DeleteByRecipient(ctx context.Context, recipientID string) (int, error) {
	recipientKey := s.recipientKey(recipientID)
	var removed int

	txf := func(tx *redis.Tx) error {
		ids, err := tx.SMembers(ctx, recipientKey).Result()
		if err != nil {
			return err
		}
		alarms, err := s.loadWith(ctx, tx, ids)
		if err != nil {
			return err
		}
		removed = len(alarms)
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.Del(ctx, s.alarmKey(id))
				pipe.SRem(ctx, s.allKey(), id)
				pipe.SRem(ctx, recipientKey, id)
			}
			for _, a := range alarms {
				pipe.HDel(ctx, s.idxKey(), idxField(recipientID, a.Ticker))
			}
			return nil
		})
		return err
	}

	for i := 0; i < upsertMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, recipientKey, s.idxKey())
		if err == nil {
			return removed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, fmt.Errorf("redis: delete alarms: %w", err)
	}
	return 0, fmt.Errorf("redis: delete alarms: too much contention on recipient %s", recipientID)
}

func (s *RedisAlarmStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the cache layer.
func (s *RedisAlarmStore) Close() error {
	return nil
}

func (s *RedisAlarmStore) remove(ctx context.Context, id, recipientID, ticker string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.alarmKey(id))
		pipe.SRem(ctx, s.allKey(), id)
		pipe.SRem(ctx, s.recipientKey(recipientID), id)
		pipe.HDel(ctx, s.idxKey(), idxField(recipientID, ticker))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete alarm: %w", err)
	}
	return nil
}

func (s *RedisAlarmStore) load(ctx context.Context, ids []string) ([]models.Alarm, error) {
	return s.loadWith(ctx, s.client, ids)
}

// loadWith reads alarm hashes through c, which is the client or a WATCHing tx.
func (s *RedisAlarmStore) loadWith(ctx context.Context, c redis.Cmdable, ids []string) ([]models.Alarm, error) {
	alarms := make([]models.Alarm, 0, len(ids))
	if len(ids) == 0 {
		return alarms, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.alarmKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: load alarms: %w", err)
	}

	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			// set member without a hash, left behind by a racing delete
			continue
		}
		a, err := decodeAlarm(h)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, a)
	}
	return alarms, nil
}

func encodeAlarm(a *models.Alarm) map[string]interface{} {
	return map[string]interface{}{
		"id":           a.ID,
		"recipient_id": a.RecipientID,
		"ticker":       a.Ticker,
		"direction":    string(a.Direction),
		"target":       a.Target.String(),
		"created_at":   a.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   a.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeAlarm(h map[string]string) (models.Alarm, error) {
	a := models.Alarm{
		ID:          h["id"],
		RecipientID: h["recipient_id"],
		Ticker:      h["ticker"],
		Direction:   models.Direction(h["direction"]),
	}
	var err error
	if a.Target, err = decimal.NewFromString(h["target"]); err != nil {
		return a, fmt.Errorf("redis: alarm %s target: %w", a.ID, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["created_at"])
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, h["updated_at"])
	return a, nil
}
