package services

import (
	"context"
	"fmt"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// WindowCounterService implements WindowCounter over fixed, non-sliding
// windows. The window key is derived from the truncated clock, so a stale
// record can never be consulted for a live decision: a new window simply
// resolves to a new key.
type WindowCounterService struct {
	repo          ports.WindowRepository
	clock         ports.Clock
	window        time.Duration
	skewTolerance time.Duration
	storeTimeout  time.Duration
	logger        *logrus.Logger
}

// WindowCounterConfig groups configuration parameters for the window counter.
type WindowCounterConfig struct {
	Window        time.Duration
	SkewTolerance time.Duration
	StoreTimeout  time.Duration
}

func NewWindowCounterService(repo ports.WindowRepository, clock ports.Clock, cfg *WindowCounterConfig, logger *logrus.Logger) *WindowCounterService {
	// Apply defaults
	w := time.Hour
	skew := 5 * time.Minute
	st := 200 * time.Millisecond
	if cfg != nil {
		if cfg.Window > 0 {
			w = cfg.Window
		}
		if cfg.SkewTolerance > 0 {
			skew = cfg.SkewTolerance
		}
		if cfg.StoreTimeout > 0 {
			st = cfg.StoreTimeout
		}
	}
	return &WindowCounterService{repo: repo, clock: clock, window: w, skewTolerance: skew, storeTimeout: st, logger: logger}
}

// Window returns the configured window length.
func (s *WindowCounterService) Window() time.Duration { return s.window }

// Increment records one accepted request in the live window.
func (s *WindowCounterService) Increment(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.WindowRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	now := s.clock.Now()
	start := now.Truncate(s.window)
	rec, err := s.repo.IncrementWindow(ctx, identifier, kind, endpoint, start, s.window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return s.sanitize(rec, now), nil
}

// Peek returns the live window record without incrementing.
func (s *WindowCounterService) Peek(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.WindowRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	now := s.clock.Now()
	start := now.Truncate(s.window)
	rec, err := s.repo.PeekWindow(ctx, identifier, kind, endpoint, start, s.window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return s.sanitize(rec, now), nil
}

// sanitize guards against clock skew in stored records: inverted bounds or a
// start too far in the future mean the record cannot be trusted and is treated
// as an empty window.
func (s *WindowCounterService) sanitize(rec *gate.WindowRecord, now time.Time) *gate.WindowRecord {
	if rec.WindowEnd.Before(rec.WindowStart) || rec.WindowStart.After(now.Add(s.skewTolerance)) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"identifier":   rec.Identifier,
				"endpoint":     rec.Endpoint,
				"window_start": rec.WindowStart,
				"window_end":   rec.WindowEnd,
			}).Warn("window counter: clock skew detected, treating record as expired")
		}
		start := now.Truncate(s.window)
		return &gate.WindowRecord{
			Identifier:  rec.Identifier,
			Kind:        rec.Kind,
			Endpoint:    rec.Endpoint,
			WindowStart: start,
			WindowEnd:   start.Add(s.window),
		}
	}
	return rec
}
