package quota

import "time"

// State is the per-identity daily usage record. QueriesToday is always
// relative to LastQueryDate: when the calendar day changes the counter is
// reset lazily on the next read or increment, never by a background job.
// Rows are never deleted; TotalQueries grows append-only.
type State struct {
	Identity      string    `json:"identity" db:"identity"`
	QueriesToday  int       `json:"queries_today" db:"queries_today"`
	TotalQueries  int64     `json:"total_queries" db:"total_queries"`
	LastQueryDate time.Time `json:"last_query_date" db:"last_query_date"`
	IsPremium     bool      `json:"is_premium" db:"is_premium"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// UsedOn returns the effective count for the given day, applying the lazy
// day-boundary reset without persisting it.
func (s *State) UsedOn(day time.Time) int {
	if !SameDay(s.LastQueryDate, day) {
		return 0
	}
	return s.QueriesToday
}

// Verdict is the outcome of a quota check. A denied verdict carries enough
// context (usage, limit, reset time) for the caller to present actionable
// guidance.
type Verdict struct {
	Allowed      bool      `json:"allowed"`
	QueriesUsed  int       `json:"queries_used"`
	QueriesLimit int       `json:"queries_limit"`
	Unlimited    bool      `json:"unlimited"`
	ResetTime    time.Time `json:"reset_time"`
}

// SameDay compares the calendar dates of two instants as stored, without
// location conversion: DATE columns and the clock's Today() both already
// express the deployment's calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
