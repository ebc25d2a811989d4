package gate

import (
	"fmt"
	"time"
)

// MaxIdentityLength bounds identity keys so a hostile caller cannot grow
// storage keys without bound.
const MaxIdentityLength = 256

// ValidateIdentity rejects empty or oversized identity keys. Every entry point
// that accepts a caller-supplied key must apply it before touching storage.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity key", ErrInvalidIdentity)
	}
	if len(identity) > MaxIdentityLength {
		return fmt.Errorf("%w: identity key exceeds %d bytes", ErrInvalidIdentity, MaxIdentityLength)
	}
	return nil
}

// Decision is the admission verdict for a single inbound request. Denials are
// ordinary values, not errors; only infrastructure failures travel on the
// error channel.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionThrottled     Decision = "throttled"
	DecisionBlocked       Decision = "blocked"
	DecisionQuotaExceeded Decision = "quota_exceeded"
)

// IdentifierKind says what kind of key usage is tracked under. The core never
// interprets the key itself; the kind only keeps user ids and addresses from
// colliding in storage.
type IdentifierKind string

const (
	IdentifierUser IdentifierKind = "user"
	IdentifierIP   IdentifierKind = "ip"
)

// Severity weights a suspicious-activity signal reported by input validation
// elsewhere in the request pipeline.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// WindowRecord is the counter for one (identifier, kind, endpoint) tuple
// within one fixed window. At most one live record exists per tuple; stale
// records are kept for reporting but never consulted for live decisions.
type WindowRecord struct {
	Identifier    string         `json:"identifier" db:"identifier"`
	Kind          IdentifierKind `json:"identifier_kind" db:"identifier_kind"`
	Endpoint      string         `json:"endpoint" db:"endpoint"`
	WindowStart   time.Time      `json:"window_start" db:"window_start"`
	WindowEnd     time.Time      `json:"window_end" db:"window_end"`
	RequestsCount int            `json:"requests_count" db:"requests_count"`
	IsBlocked     bool           `json:"is_blocked" db:"is_blocked"`
	BlockReason   string         `json:"block_reason,omitempty" db:"block_reason"`
}

// Expired reports whether the record's window has passed.
func (r *WindowRecord) Expired(now time.Time) bool {
	return now.After(r.WindowEnd)
}

// BlockState tracks escalation across windows for one tuple. BlockedUntil,
// once set, only moves forward while violations continue; it is cleared only
// after a full window completes with the count at or under the base limit.
type BlockState struct {
	Identifier            string         `json:"identifier" db:"identifier"`
	Kind                  IdentifierKind `json:"identifier_kind" db:"identifier_kind"`
	Endpoint              string         `json:"endpoint" db:"endpoint"`
	ConsecutiveViolations int            `json:"consecutive_violations" db:"consecutive_violations"`
	BlockedUntil          *time.Time     `json:"blocked_until,omitempty" db:"blocked_until"`
	LastWindowStart       time.Time      `json:"last_window_start" db:"last_window_start"`
	LastWindowExceeded    bool           `json:"last_window_exceeded" db:"last_window_exceeded"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// Blocked reports whether the state carries an active block at the given time.
func (b *BlockState) Blocked(now time.Time) bool {
	return b.BlockedUntil != nil && now.Before(*b.BlockedUntil)
}

// AdmissionResult is the combined verdict returned to the request-handling
// layer: the gate decision plus quota metadata the caller can surface to the
// end user.
type AdmissionResult struct {
	Decision     Decision      `json:"decision"`
	QueriesUsed  int           `json:"queries_used"`
	QueriesLimit int           `json:"queries_limit"`
	Unlimited    bool          `json:"unlimited"`
	ResetTime    time.Time     `json:"reset_time"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
}
