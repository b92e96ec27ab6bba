package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PriceAlarm/internal/domain/models"
	"PriceAlarm/internal/domain/repository"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteAlarmStore implements AlarmStore on a local SQLite file.
type SQLiteAlarmStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.AlarmStore = (*SQLiteAlarmStore)(nil)

// NewSQLiteAlarmStore opens (creating if needed) the database at path.
func NewSQLiteAlarmStore(path string) (*SQLiteAlarmStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteAlarmStore{db: db, now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAlarmStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS alarms (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('ABOVE', 'BELOW')),
		target TEXT NOT NULL,
		created_at INTEGER NOT NULL, -- unix nanoseconds
		updated_at INTEGER NOT NULL,
		UNIQUE(recipient_id, ticker)
	);
	CREATE INDEX IF NOT EXISTS idx_alarms_ticker ON alarms(ticker);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

const alarmColumns = "id, recipient_id, ticker, direction, target, created_at, updated_at"

func (s *SQLiteAlarmStore) ListAlarms(ctx context.Context) ([]models.Alarm, error) {
	return s.query(ctx, "SELECT "+alarmColumns+" FROM alarms ORDER BY created_at")
}

func (s *SQLiteAlarmStore) ListByRecipient(ctx context.Context, recipientID string) ([]models.Alarm, error) {
	return s.query(ctx, "SELECT "+alarmColumns+" FROM alarms WHERE recipient_id = ? ORDER BY ticker", recipientID)
}

// Upsert inserts a, or replaces direction and target of the existing alarm for
// the same (recipient, ticker). The stored id and created_at win on conflict.
func (s *SQLiteAlarmStore) Upsert(ctx context.Context, a *models.Alarm) (*models.Alarm, error) {
	out := *a
	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recipient_id, ticker) DO UPDATE SET
			direction = excluded.direction,
			target = excluded.target,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		uuid.NewString(), out.RecipientID, out.Ticker, string(out.Direction), out.Target.String(), now.UnixNano(), now.UnixNano(),
	)
	var created int64
	if err := row.Scan(&out.ID, &created); err != nil {
		return nil, fmt.Errorf("sqlite: upsert alarm: %w", err)
	}
	out.CreatedAt = time.Unix(0, created).UTC()
	out.UpdatedAt = now
	return &out, nil
}

func (s *SQLiteAlarmStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alarms WHERE id = ?", id)
	return affectedOne(res, err)
}

func (s *SQLiteAlarmStore) DeleteByTicker(ctx context.Context, recipientID, ticker string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alarms WHERE recipient_id = ? AND ticker = ?",
		recipientID, models.NormalizeTicker(ticker))
	return affectedOne(res, err)
}

func (s *SQLiteAlarmStore) DeleteByRecipient(ctx context.Context, recipientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alarms WHERE recipient_id = ?", recipientID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete alarms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteAlarmStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteAlarmStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteAlarmStore) query(ctx context.Context, q string, args ...interface{}) ([]models.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list alarms: %w", err)
	}
	defer rows.Close()

	alarms := make([]models.Alarm, 0)
	for rows.Next() {
		var (
			a         models.Alarm
			direction string
			target    string
			created   int64
			updated   int64
		)
		if err := rows.Scan(&a.ID, &a.RecipientID, &a.Ticker, &direction, &target, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan alarm: %w", err)
		}
		a.Direction = models.Direction(direction)
		if a.Target, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("sqlite: alarm %s target %q: %w", a.ID, target, err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		a.UpdatedAt = time.Unix(0, updated).UTC()
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("sqlite: delete alarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrAlarmNotFound
	}
	return nil
}
