package clock

import (
	"fmt"
	"time"
)

// TZClock implements ports.Clock against wall time in a fixed deployment
// timezone. Calendar-day boundaries for quota resets are computed in this
// location, not in UTC.
type TZClock struct {
	loc *time.Location
}

// New creates a clock for the given IANA timezone name.
func New(timezone string) (*TZClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &TZClock{loc: loc}, nil
}

func (c *TZClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *TZClock) Today() time.Time {
	y, m, d := c.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}
