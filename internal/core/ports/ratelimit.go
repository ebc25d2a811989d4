package ports

import (
	"context"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
)

// WindowRepository provides atomic storage for window counters and block
// state. Implementations must be concurrency-safe: the window increment has
// to be a single conditional update (Redis INCR, SQL upsert) so racing
// requests cannot both observe the pre-increment count.
type WindowRepository interface {
	// IncrementWindow atomically increments the counter for the tuple's
	// window starting at windowStart, creating the record when absent.
	// Returns the post-increment record.
	IncrementWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error)
	// PeekWindow returns the current record without incrementing. When no
	// record exists yet it returns a zero-count record with computed bounds.
	PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error)
	// MarkBlocked flags the tuple's window record for reporting.
	MarkBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, reason string) error
	// GetBlockState returns escalation state for the tuple, or gate.ErrNotFound.
	GetBlockState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error)
	// PutBlockState upserts escalation state for the tuple.
	PutBlockState(ctx context.Context, state *gate.BlockState) error
	// ListWindows returns records for an endpoint since the given time, newest
	// first, for reporting. Stores without durable records return
	// gate.ErrUnsupported.
	ListWindows(ctx context.Context, endpoint string, since time.Time, limit int) ([]*gate.WindowRecord, error)
}

// WindowCounter counts requests per (identifier, kind, endpoint) tuple within
// fixed, non-sliding windows. A request right after a boundary starts a fresh
// count, so bursts straddling a boundary can briefly see up to twice the
// nominal rate; this approximation is deliberate.
type WindowCounter interface {
	// Increment records one accepted request and returns the post-increment
	// record for the live window.
	Increment(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.WindowRecord, error)
	// Peek returns the live window record without incrementing.
	Peek(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.WindowRecord, error)
}

// AdaptiveGate layers an escalating block policy over the window counter and
// correlates externally observed suspicious activity. Store failures degrade
// to "do not block": an outage in the limiter must never become a
// self-inflicted denial of service.
type AdaptiveGate interface {
	// Evaluate returns the decision for the tuple plus how long the caller
	// should wait when the decision is not Allow.
	Evaluate(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (gate.Decision, time.Duration, error)
	// ReportSuspicious feeds a fast-path escalation signal (malformed input,
	// disallowed destination, abnormal payload) observed outside the counter.
	ReportSuspicious(ctx context.Context, identifier string, kind gate.IdentifierKind, severity gate.Severity) error
}
