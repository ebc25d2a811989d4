package ports

import "time"

// Clock is the time source for all admission decisions. It is injected so the
// quota ledger, window counter and adaptive gate can be tested with a manual
// clock instead of wall time.
type Clock interface {
	// Now returns the current instant in the deployment timezone.
	Now() time.Time
	// Today returns midnight of the current calendar day in the deployment
	// timezone. Daily quotas reset at this boundary.
	Today() time.Time
}
