package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/avatarctic/admission-gate/internal/infrastructure/db"
	"github.com/sirupsen/logrus"
)

// WindowDBRepository implements window counter storage on Postgres. The
// increment is a single upsert, so concurrent requests for the same tuple
// cannot both observe the pre-increment count. Stale window rows are retained
// for reporting; live lookups always key on the current window start.
type WindowDBRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewWindowDBRepository creates a new Postgres window repository.
func NewWindowDBRepository(database *db.Database, logger *logrus.Logger) ports.WindowRepository {
	return &WindowDBRepository{db: database, logger: logger}
}

type windowRow struct {
	Identifier    string         `db:"identifier"`
	Kind          string         `db:"identifier_kind"`
	Endpoint      string         `db:"endpoint"`
	WindowStart   time.Time      `db:"window_start"`
	WindowEnd     time.Time      `db:"window_end"`
	RequestsCount int            `db:"requests_count"`
	IsBlocked     bool           `db:"is_blocked"`
	BlockReason   sql.NullString `db:"block_reason"`
}

func (w *windowRow) record() *gate.WindowRecord {
	return &gate.WindowRecord{
		Identifier:    w.Identifier,
		Kind:          gate.IdentifierKind(w.Kind),
		Endpoint:      w.Endpoint,
		WindowStart:   w.WindowStart,
		WindowEnd:     w.WindowEnd,
		RequestsCount: w.RequestsCount,
		IsBlocked:     w.IsBlocked,
		BlockReason:   w.BlockReason.String,
	}
}

// IncrementWindow upserts the tuple's record for the given window.
func (r *WindowDBRepository) IncrementWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	var row windowRow
	query := `
		INSERT INTO window_records (identifier, identifier_kind, endpoint, window_start, window_end, requests_count)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (identifier, identifier_kind, endpoint, window_start) DO UPDATE SET
			requests_count = window_records.requests_count + 1,
			updated_at = now()
		RETURNING identifier, identifier_kind, endpoint, window_start, window_end, requests_count, is_blocked, block_reason`

	err := r.db.DB.GetContext(ctx, &row, query, identifier, string(kind), endpoint, windowStart, windowStart.Add(window))
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("db: failed to increment window")
		}
		return nil, fmt.Errorf("failed to increment window: %w", err)
	}
	return row.record(), nil
}

// PeekWindow reads the tuple's record for the given window without writing.
func (r *WindowDBRepository) PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	var row windowRow
	query := `
		SELECT identifier, identifier_kind, endpoint, window_start, window_end, requests_count, is_blocked, block_reason
		FROM window_records
		WHERE identifier = $1 AND identifier_kind = $2 AND endpoint = $3 AND window_start = $4`

	err := r.db.DB.GetContext(ctx, &row, query, identifier, string(kind), endpoint, windowStart)
	if err != nil {
		if err == sql.ErrNoRows {
			return &gate.WindowRecord{
				Identifier:  identifier,
				Kind:        kind,
				Endpoint:    endpoint,
				WindowStart: windowStart,
				WindowEnd:   windowStart.Add(window),
			}, nil
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("db: failed to peek window")
		}
		return nil, fmt.Errorf("failed to peek window: %w", err)
	}
	return row.record(), nil
}

// MarkBlocked flags the tuple's window row for reporting.
func (r *WindowDBRepository) MarkBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, reason string) error {
	query := `
		UPDATE window_records
		SET is_blocked = true, block_reason = $5, updated_at = now()
		WHERE identifier = $1 AND identifier_kind = $2 AND endpoint = $3 AND window_start = $4`

	if _, err := r.db.DB.ExecContext(ctx, query, identifier, string(kind), endpoint, windowStart, reason); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("db: failed to mark window blocked")
		}
		return fmt.Errorf("failed to mark window blocked: %w", err)
	}
	return nil
}

// GetBlockState retrieves escalation state for the tuple.
func (r *WindowDBRepository) GetBlockState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error) {
	var st gate.BlockState
	query := `
		SELECT identifier, identifier_kind, endpoint, consecutive_violations, blocked_until, last_window_start, last_window_exceeded, updated_at
		FROM block_states
		WHERE identifier = $1 AND identifier_kind = $2 AND endpoint = $3`

	err := r.db.DB.GetContext(ctx, &st, query, identifier, string(kind), endpoint)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gate.ErrNotFound
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("db: failed to get block state")
		}
		return nil, fmt.Errorf("failed to get block state: %w", err)
	}
	return &st, nil
}

// PutBlockState upserts escalation state for the tuple.
func (r *WindowDBRepository) PutBlockState(ctx context.Context, state *gate.BlockState) error {
	query := `
		INSERT INTO block_states (identifier, identifier_kind, endpoint, consecutive_violations, blocked_until, last_window_start, last_window_exceeded, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identifier, identifier_kind, endpoint) DO UPDATE SET
			consecutive_violations = EXCLUDED.consecutive_violations,
			blocked_until = EXCLUDED.blocked_until,
			last_window_start = EXCLUDED.last_window_start,
			last_window_exceeded = EXCLUDED.last_window_exceeded,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.DB.ExecContext(ctx, query,
		state.Identifier, string(state.Kind), state.Endpoint,
		state.ConsecutiveViolations, state.BlockedUntil, state.LastWindowStart, state.LastWindowExceeded, state.UpdatedAt)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": state.Identifier, "endpoint": state.Endpoint}).WithError(err).Error("db: failed to put block state")
		}
		return fmt.Errorf("failed to put block state: %w", err)
	}
	return nil
}

// ListWindows returns records for an endpoint since the given time, newest first.
func (r *WindowDBRepository) ListWindows(ctx context.Context, endpoint string, since time.Time, limit int) ([]*gate.WindowRecord, error) {
	var rows []windowRow
	query := `
		SELECT identifier, identifier_kind, endpoint, window_start, window_end, requests_count, is_blocked, block_reason
		FROM window_records
		WHERE endpoint = $1 AND window_start >= $2
		ORDER BY window_start DESC, requests_count DESC
		LIMIT $3`

	err := r.db.DB.SelectContext(ctx, &rows, query, endpoint, since, limit)
	if err != nil {
		if r.logger != nil {
			r.logger.WithField("endpoint", endpoint).WithError(err).Error("db: failed to list windows")
		}
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	records := make([]*gate.WindowRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].record())
	}
	return records, nil
}
