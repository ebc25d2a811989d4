package ports

import (
	"context"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/quota"
)

// QuotaRepository provides point lookup and atomic daily increments for quota
// state. Implementations must fold the day-boundary reset into the increment
// itself (a single conditional update), never a read-then-write at the
// application level: two racing requests must not both observe the
// pre-increment count.
type QuotaRepository interface {
	// Get returns the state for identity, or gate.ErrNotFound when the
	// identity has never been seen.
	Get(ctx context.Context, identity string) (*quota.State, error)
	// IncrementDaily creates the row if absent, resets queries_today when the
	// stored date differs from today, then increments queries_today and
	// total_queries, all in one round trip. Returns the post-increment state.
	IncrementDaily(ctx context.Context, identity string, today time.Time) (*quota.State, error)
}

// PremiumChecker reports whether an identity has an active premium
// subscription. The flag is owned by the user-management collaborator and is
// read-only to this subsystem.
type PremiumChecker interface {
	IsPremium(ctx context.Context, identity string) (bool, error)
}

// QuotaLedger enforces "N free metered calls per identity per calendar day;
// unlimited if premium".
type QuotaLedger interface {
	// Check returns the quota verdict without consuming anything. Repeated
	// calls are idempotent.
	Check(ctx context.Context, identity string) (*quota.Verdict, error)
	// Record consumes one metered call. Call it only after the gated
	// operation completed successfully.
	Record(ctx context.Context, identity string) error
}
