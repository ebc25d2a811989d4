package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/domain/quota"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/avatarctic/admission-gate/internal/infrastructure/db"
	"github.com/sirupsen/logrus"
)

// QuotaRepository implements quota state storage on Postgres. The daily
// increment is a single upsert whose CASE predicate applies the day-boundary
// reset inside the same statement, so the reset and the increment are one
// atomic round trip; no application-level read-then-write exists.
type QuotaRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewQuotaRepository creates a new Postgres quota repository.
func NewQuotaRepository(database *db.Database, logger *logrus.Logger) ports.QuotaRepository {
	return &QuotaRepository{db: database, logger: logger}
}

// Get retrieves the quota state for an identity.
func (r *QuotaRepository) Get(ctx context.Context, identity string) (*quota.State, error) {
	var st quota.State
	query := `
		SELECT identity, queries_today, total_queries, last_query_date, is_premium, created_at, updated_at
		FROM quota_states
		WHERE identity = $1`

	err := r.db.DB.GetContext(ctx, &st, query, identity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gate.ErrNotFound
		}
		if r.logger != nil {
			r.logger.WithField("identity", identity).WithError(err).Error("db: failed to get quota state")
		}
		return nil, fmt.Errorf("failed to get quota state: %w", err)
	}

	return &st, nil
}

// IncrementDaily creates the row if absent and otherwise increments, resetting
// queries_today first when the stored date differs from today.
func (r *QuotaRepository) IncrementDaily(ctx context.Context, identity string, today time.Time) (*quota.State, error) {
	var st quota.State
	query := `
		INSERT INTO quota_states (identity, queries_today, total_queries, last_query_date)
		VALUES ($1, 1, 1, $2)
		ON CONFLICT (identity) DO UPDATE SET
			queries_today = CASE
				WHEN quota_states.last_query_date = $2 THEN quota_states.queries_today + 1
				ELSE 1
			END,
			last_query_date = $2,
			total_queries = quota_states.total_queries + 1,
			updated_at = now()
		RETURNING identity, queries_today, total_queries, last_query_date, is_premium, created_at, updated_at`

	// DATE comparison must not depend on the server timezone, so the day is
	// passed as a plain calendar date.
	err := r.db.DB.GetContext(ctx, &st, query, identity, today.Format("2006-01-02"))
	if err != nil {
		if r.logger != nil {
			r.logger.WithField("identity", identity).WithError(err).Error("db: failed to increment daily quota")
		}
		return nil, fmt.Errorf("failed to increment daily quota: %w", err)
	}

	return &st, nil
}
