package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"PriceAlarm/internal/domain/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_TEST_ADDR is set.
func newTestRedisStore(t *testing.T) *RedisAlarmStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "pricealarm-test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return NewRedisAlarmStore(client, prefix)
}

func TestRedisAlarmStore_Upsert(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, alarm("42", "petr4", models.DirectionAbove, "30"))
	require.NoError(t, err)
	second, err := s.Upsert(ctx, alarm("42", "PETR4", models.DirectionBelow, "28"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	all, err := s.ListAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.DirectionBelow, all[0].Direction)
}

func TestRedisAlarmStore_Deletes(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	a, _ := s.Upsert(ctx, alarm("r1", "PETR4", models.DirectionAbove, "30"))
	_, _ = s.Upsert(ctx, alarm("r1", "BBAS3", models.DirectionBelow, "25"))
	_, _ = s.Upsert(ctx, alarm("r2", "BBAS3", models.DirectionBelow, "25"))

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), models.ErrAlarmNotFound)
	assert.ErrorIs(t, s.DeleteByTicker(ctx, "r1", "PETR4"), models.ErrAlarmNotFound)

	n, err := s.DeleteByRecipient(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := s.ListAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].RecipientID)
}

func TestRedisAlarmStore_ClearRacingUpsertLeavesNoHiddenAlarm(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, _ = s.Upsert(ctx, alarm("r1", fmt.Sprintf("T%d", i), models.DirectionAbove, "10"))
		}
	}()
	for i := 0; i < 20; i++ {
		// contention errors are fine here; only the end state matters
		_, _ = s.DeleteByRecipient(ctx, "r1")
	}
	<-done

	all, err := s.ListAlarms(ctx)
	require.NoError(t, err)
	listed, err := s.ListByRecipient(ctx, "r1")
	require.NoError(t, err)

	ids := func(as []models.Alarm) []string {
		out := make([]string, 0, len(as))
		for _, a := range as {
			out = append(out, a.ID)
		}
		return out
	}
	assert.ElementsMatch(t, ids(all), ids(listed), "every stored alarm is visible to its recipient")

	n, err := s.DeleteByRecipient(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, len(listed), n)
	all, _ = s.ListAlarms(ctx)
	assert.Empty(t, all)
}
