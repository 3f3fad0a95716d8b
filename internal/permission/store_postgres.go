package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
	"gridgrant/pkg/platform/tx"
)

// PostgresStore persists snapshots in PostgreSQL. All statements resolve
// against the ambient transaction when one is in context, so a save commits
// atomically with the outbox staging that follows it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the permissions table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS permission_requests (
			permission_id  UUID PRIMARY KEY,
			connection_id  TEXT        NOT NULL,
			data_need_id   TEXT        NOT NULL,
			window_start   TIMESTAMPTZ NOT NULL,
			window_end     TIMESTAMPTZ NOT NULL,
			granularity_ns BIGINT      NOT NULL,
			created        TIMESTAMPTZ NOT NULL,
			terminate_time TIMESTAMPTZ,
			status         TEXT        NOT NULL,
			country        TEXT        NOT NULL,
			region         TEXT        NOT NULL,
			administrator  TEXT        NOT NULL,
			version        BIGINT      NOT NULL
		);
		CREATE INDEX IF NOT EXISTS permission_requests_connection_idx
			ON permission_requests (connection_id);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure permission schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, snap Snapshot) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO permission_requests (
			permission_id, connection_id, data_need_id,
			window_start, window_end, granularity_ns,
			created, terminate_time, status,
			country, region, administrator, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		snap.PermissionID.String(), snap.ConnectionID.String(), snap.DataNeedID.String(),
		snap.Window.Start, snap.Window.End, int64(snap.Granularity),
		snap.Created, snap.TerminateTime, snap.Status.String(),
		snap.DataSource.Country.String(), snap.DataSource.RegionConnector,
		snap.DataSource.PermissionAdministrator, snap.Version,
	)
	if err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE permission_requests SET
			status = $1, terminate_time = $2, version = $3
		WHERE permission_id = $4 AND version = $5`,
		snap.Status.String(), snap.TerminateTime, snap.Version,
		snap.PermissionID.String(), snap.Version-1,
	)
	if err != nil {
		return fmt.Errorf("save permission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save permission: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost version race.
		if _, findErr := s.Find(ctx, snap.PermissionID); findErr != nil {
			return findErr
		}
		return dErrors.New(dErrors.CodeConflict, "permission was modified concurrently")
	}
	return nil
}

const snapshotColumns = `permission_id, connection_id, data_need_id,
	       window_start, window_end, granularity_ns,
	       created, terminate_time, status,
	       country, region, administrator, version`

func (s *PostgresStore) Find(ctx context.Context, pid id.PermissionID) (Snapshot, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM permission_requests
		WHERE permission_id = $1`,
		pid.String(),
	)

	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, dErrors.New(dErrors.CodeNotFound, "permission not found")
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("find permission: %w", err)
	}
	return snap, nil
}

// FindByStatus returns every permission currently in the given status, in
// creation order. Feeds the startup re-arm of administrator timers.
func (s *PostgresStore) FindByStatus(ctx context.Context, status ProcessStatus) ([]Snapshot, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM permission_requests
		WHERE status = $1
		ORDER BY created`,
		status.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("find permissions by status: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("find permissions by status: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find permissions by status: %w", err)
	}
	return out, nil
}

func scanSnapshot(scan func(dest ...any) error) (Snapshot, error) {
	var (
		snap          Snapshot
		permID        string
		connID        string
		needID        string
		granularityNS int64
		terminateTime sql.NullTime
		status        string
		country       string
	)
	err := scan(
		&permID, &connID, &needID,
		&snap.Window.Start, &snap.Window.End, &granularityNS,
		&snap.Created, &terminateTime, &status,
		&country, &snap.DataSource.RegionConnector,
		&snap.DataSource.PermissionAdministrator, &snap.Version,
	)
	if err != nil {
		return Snapshot{}, err
	}

	parsedID, err := id.ParsePermissionID(permID)
	if err != nil {
		return Snapshot{}, err
	}
	parsedStatus, err := ParseProcessStatus(status)
	if err != nil {
		return Snapshot{}, err
	}
	snap.PermissionID = parsedID
	snap.ConnectionID = id.ConnectionID(connID)
	snap.DataNeedID = id.DataNeedID(needID)
	snap.Granularity = time.Duration(granularityNS)
	snap.Status = parsedStatus
	snap.DataSource.Country = id.CountryCode(country)
	if terminateTime.Valid {
		t := terminateTime.Time
		snap.TerminateTime = &t
	}
	return snap, nil
}
