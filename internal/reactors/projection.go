package reactors

import (
	"context"
	"database/sql"
	"sync"

	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
	"gridgrant/pkg/platform/tx"
)

// MemoryProjection is the in-memory status projection used by tests and
// the simulation profile.
type MemoryProjection struct {
	mu   sync.RWMutex
	rows map[id.PermissionID]ConnectionStatus
}

func NewMemoryProjection() *MemoryProjection {
	return &MemoryProjection{rows: make(map[id.PermissionID]ConnectionStatus)}
}

func (p *MemoryProjection) UpsertStatus(_ context.Context, status ConnectionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[status.PermissionID] = status
	return nil
}

// Status returns the projected status for a permission.
func (p *MemoryProjection) Status(_ context.Context, pid id.PermissionID) (ConnectionStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.rows[pid]
	if !ok {
		return ConnectionStatus{}, dErrors.New(dErrors.CodeNotFound, "no status projected")
	}
	return status, nil
}

// PostgresProjection keeps the queryable status projection in Postgres.
// Upserts by permission id, so redelivered events overwrite rather than
// duplicate.
type PostgresProjection struct {
	db *sql.DB
}

func NewPostgresProjection(db *sql.DB) *PostgresProjection {
	return &PostgresProjection{db: db}
}

// EnsureSchema creates the projection table when missing.
func (p *PostgresProjection) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS permission_status_projection (
			permission_id UUID PRIMARY KEY,
			connection_id TEXT NOT NULL,
			data_need_id  TEXT NOT NULL,
			status        TEXT NOT NULL,
			code          TEXT NOT NULL,
			message       TEXT NOT NULL DEFAULT '',
			updated_at    TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "ensure projection schema", err)
	}
	return nil
}

func (p *PostgresProjection) UpsertStatus(ctx context.Context, status ConnectionStatus) error {
	q := tx.Resolve(ctx, p.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO permission_status_projection
			(permission_id, connection_id, data_need_id, status, code, message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (permission_id) DO UPDATE SET
			status = EXCLUDED.status,
			code = EXCLUDED.code,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at`,
		status.PermissionID.String(),
		status.ConnectionID.String(),
		status.DataNeedID.String(),
		string(status.Status),
		status.Code,
		status.Message,
		status.At,
	)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "upsert status projection", err)
	}
	return nil
}

// Status returns the projected status for a permission.
func (p *PostgresProjection) Status(ctx context.Context, pid id.PermissionID) (ConnectionStatus, error) {
	q := tx.Resolve(ctx, p.db)
	row := q.QueryRowContext(ctx, `
		SELECT permission_id, connection_id, data_need_id, status, code, message, updated_at
		FROM permission_status_projection
		WHERE permission_id = $1`,
		pid.String(),
	)
	var (
		status ConnectionStatus
		rawPID string
	)
	err := row.Scan(&rawPID, &status.ConnectionID, &status.DataNeedID, &status.Status, &status.Code, &status.Message, &status.At)
	if err == sql.ErrNoRows {
		return ConnectionStatus{}, dErrors.New(dErrors.CodeNotFound, "no status projected")
	}
	if err != nil {
		return ConnectionStatus{}, dErrors.Wrap(dErrors.CodeInternal, "read status projection", err)
	}
	status.PermissionID, err = id.ParsePermissionID(rawPID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	return status, nil
}
