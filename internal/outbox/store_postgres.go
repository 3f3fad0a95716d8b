package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gridgrant/internal/events"
	id "gridgrant/pkg/domain"
	"gridgrant/pkg/platform/tx"
)

// PostgresStore stages entries through the ambient database/sql transaction
// (so staging commits atomically with the permission save) and serves the
// relay through a pgx pool with row locking.
type PostgresStore struct {
	db   *sql.DB
	pool *pgxpool.Pool
}

func NewPostgresStore(db *sql.DB, pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, pool: pool}
}

// EnsureSchema creates the outbox table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS outbox_entries (
			seq           BIGSERIAL PRIMARY KEY,
			event_kind    TEXT        NOT NULL,
			permission_id UUID        NOT NULL,
			payload       JSONB       NOT NULL,
			staged_at     TIMESTAMPTZ NOT NULL,
			delivered_at  TIMESTAMPTZ,
			attempts      INT         NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS outbox_undelivered_idx
			ON outbox_entries (seq) WHERE delivered_at IS NULL;`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure outbox schema: %w", err)
	}
	return nil
}

// Stage writes the entry inside the caller's transaction when one is in
// context. A transition never commits without its event being staged.
func (s *PostgresStore) Stage(ctx context.Context, event events.Event) error {
	entry, err := Encode(event)
	if err != nil {
		return err
	}
	q := tx.Resolve(ctx, s.db)
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_entries (event_kind, permission_id, payload, staged_at)
		VALUES ($1, $2, $3, $4)`,
		string(entry.EventKind), entry.PermissionID.String(), entry.Payload, entry.StagedAt,
	)
	if err != nil {
		return fmt.Errorf("stage outbox entry: %w", err)
	}
	return nil
}

// NextUndelivered returns the next batch in staging order. Delivery runs on
// a single relay instance; global seq order therefore implies per-permission
// order.
func (s *PostgresStore) NextUndelivered(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_kind, permission_id, payload, staged_at, delivered_at, attempts
		FROM outbox_entries
		WHERE delivered_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query undelivered: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			kind   string
			permID string
		)
		if err := rows.Scan(&e.Seq, &kind, &permID, &e.Payload, &e.StagedAt, &e.DeliveredAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.EventKind = events.Kind(kind)
		pid, err := id.ParsePermissionID(permID)
		if err != nil {
			return nil, fmt.Errorf("outbox entry %d: %w", e.Seq, err)
		}
		e.PermissionID = pid
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate undelivered: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_entries SET delivered_at = $1 WHERE seq = $2`,
		time.Now(), seq,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_entries SET attempts = attempts + 1 WHERE seq = $1`, seq,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
