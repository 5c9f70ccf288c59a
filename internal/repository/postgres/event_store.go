package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

const uniqueViolation = "23505"

// appendEventQuery inserts one event only when the stream's head is the
// previous version. Two writers racing past the guard collide on the
// (stream_id, version) unique constraint instead.
const appendEventQuery = `
	INSERT INTO order_events (id, stream_id, stream_type, version, event_type, payload, created_at)
	SELECT $1::text, $2::text, $3::text, $4::int, $5::text, $6::jsonb, $7::timestamptz
	WHERE (SELECT COALESCE(MAX(version), 0) FROM order_events WHERE stream_id = $2::text) = $4::int - 1`

type eventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore over the order_events table.
func NewEventStore(db *sql.DB) repository.EventStore {
	return &eventStore{db: db}
}

// SaveEvents appends events after expectedVersion. A stream that moved on
// yields *entity.VersionConflictError.
func (s *eventStore) SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conflict := &entity.VersionConflictError{StreamID: streamID, Expected: expectedVersion}
	now := time.Now().UTC()
	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
		}

		version := expectedVersion + i + 1
		res, err := tx.ExecContext(ctx, appendEventQuery,
			uuid.NewString(), streamID, streamType, version, event.EventType(), string(payload), now)
		if isUniqueViolation(err) {
			return conflict
		}
		if err != nil {
			return fmt.Errorf("failed to append event %s: %w", event.EventType(), err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		} else if n == 0 {
			return conflict
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return conflict
		}
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func (s *eventStore) LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_type, version, event_type, payload, created_at
		FROM order_events WHERE stream_id = $1 ORDER BY version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for stream %s: %w", streamID, err)
	}
	defer rows.Close()

	records := make([]entity.EventStoreRecord, 0)
	for rows.Next() {
		var (
			rec     entity.EventStoreRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.StreamID, &rec.StreamType, &rec.Version, &rec.EventType, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event record: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return records, nil
}

// isUniqueViolation recognises the error types of both supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
