package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// AdaptiveGateService layers an escalating block policy over the window
// counter. Per (identifier, endpoint) tuple it runs a small state machine:
//
//	Normal    count <= baseLimit                      -> Allow
//	Throttled baseLimit < count <= hardLimit          -> Throttled
//	Blocked   count > hardLimit, or violations >= escalation threshold
//
// Block duration escalates as baseBlock * multiplier^violations, capped.
// A block lifts only after blockedUntil passes AND a full window completes
// with the count at or under the base limit. Store failures always degrade to
// Allow: an outage here must not turn into a denial of service.
type AdaptiveGateService struct {
	windows      ports.WindowCounter
	repo         ports.WindowRepository
	clock        ports.Clock
	baseLimit    int
	hardLimit    int
	threshold    int
	baseBlock    time.Duration
	multiplier   float64
	maxBlock     time.Duration
	storeTimeout time.Duration
	logger       *logrus.Logger
}

// AdaptiveGateConfig groups configuration parameters for the adaptive gate.
type AdaptiveGateConfig struct {
	BaseLimit           int
	HardLimit           int
	EscalationThreshold int
	BaseBlockDuration   time.Duration
	BackoffMultiplier   float64
	MaxBlockDuration    time.Duration
	StoreTimeout        time.Duration
}

func NewAdaptiveGateService(windows ports.WindowCounter, repo ports.WindowRepository, clock ports.Clock, cfg *AdaptiveGateConfig, logger *logrus.Logger) *AdaptiveGateService {
	// Apply defaults
	s := &AdaptiveGateService{
		windows:      windows,
		repo:         repo,
		clock:        clock,
		baseLimit:    100,
		hardLimit:    200,
		threshold:    3,
		baseBlock:    15 * time.Minute,
		multiplier:   2.0,
		maxBlock:     24 * time.Hour,
		storeTimeout: 200 * time.Millisecond,
		logger:       logger,
	}
	if cfg != nil {
		if cfg.BaseLimit > 0 {
			s.baseLimit = cfg.BaseLimit
		}
		if cfg.HardLimit > 0 {
			s.hardLimit = cfg.HardLimit
		}
		if cfg.EscalationThreshold > 0 {
			s.threshold = cfg.EscalationThreshold
		}
		if cfg.BaseBlockDuration > 0 {
			s.baseBlock = cfg.BaseBlockDuration
		}
		if cfg.BackoffMultiplier > 1 {
			s.multiplier = cfg.BackoffMultiplier
		}
		if cfg.MaxBlockDuration > 0 {
			s.maxBlock = cfg.MaxBlockDuration
		}
		if cfg.StoreTimeout > 0 {
			s.storeTimeout = cfg.StoreTimeout
		}
	}
	return s
}

// Evaluate returns the decision for the tuple. It mutates only block state
// (window transitions, violation bookkeeping); request counters are untouched,
// so repeated calls without a recording are idempotent on counts.
func (s *AdaptiveGateService) Evaluate(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (gate.Decision, time.Duration, error) {
	now := s.clock.Now()

	st, err := s.loadState(ctx, identifier, kind, endpoint)
	if err != nil {
		s.warnFailOpen(identifier, endpoint, err)
		return gate.DecisionAllow, 0, nil
	}

	if st.Blocked(now) {
		return gate.DecisionBlocked, st.BlockedUntil.Sub(now), nil
	}

	// Suspicion blocks apply across all endpoints.
	if endpoint != SuspicionEndpoint {
		if blocked, retry := s.SuspicionBlocked(ctx, identifier, kind); blocked {
			return gate.DecisionBlocked, retry, nil
		}
	}

	rec, err := s.windows.Peek(ctx, identifier, kind, endpoint)
	if err != nil {
		s.warnFailOpen(identifier, endpoint, err)
		return gate.DecisionAllow, 0, nil
	}

	// First request of a new window: if the previous window ended clean the
	// violation streak resets and an expired block is lifted.
	if !rec.WindowStart.Equal(st.LastWindowStart) {
		if !st.LastWindowStart.IsZero() && !st.LastWindowExceeded {
			st.ConsecutiveViolations = 0
			if st.BlockedUntil != nil && now.After(*st.BlockedUntil) {
				st.BlockedUntil = nil
			}
		}
		st.LastWindowStart = rec.WindowStart
		st.LastWindowExceeded = false
		s.saveState(ctx, st)
	}

	// The block expired but the last tracked window was dirty: stay blocked
	// until a full clean window has completed.
	if st.BlockedUntil != nil {
		return gate.DecisionBlocked, rec.WindowEnd.Sub(now), nil
	}

	switch {
	case rec.RequestsCount > s.hardLimit:
		s.recordViolation(ctx, st, now, rec, "hard limit exceeded")
		return gate.DecisionBlocked, s.retryAfter(st, rec, now), nil
	case rec.RequestsCount > s.baseLimit:
		s.recordViolation(ctx, st, now, rec, "base limit exceeded")
		if st.BlockedUntil != nil {
			return gate.DecisionBlocked, s.retryAfter(st, rec, now), nil
		}
		return gate.DecisionThrottled, rec.WindowEnd.Sub(now), nil
	default:
		return gate.DecisionAllow, 0, nil
	}
}

// ReportSuspicious escalates directly from an external anomaly signal,
// bypassing volume thresholds: a single severe anomaly blocks immediately.
func (s *AdaptiveGateService) ReportSuspicious(ctx context.Context, identifier string, kind gate.IdentifierKind, severity gate.Severity) error {
	// Suspicion is endpoint-agnostic; it is tracked under a reserved endpoint
	// name and checked alongside per-endpoint state.
	endpoint := SuspicionEndpoint
	now := s.clock.Now()

	st, err := s.loadState(ctx, identifier, kind, endpoint)
	if err != nil {
		return err
	}

	rec, err := s.windows.Peek(ctx, identifier, kind, endpoint)
	if err != nil {
		return err
	}

	// Signals are the only thing that touches this tuple, so a gap of more
	// than one window since the last signal means a full quiet window elapsed:
	// the streak ends and an expired block is lifted, mirroring the
	// clean-window reset the per-endpoint states get in Evaluate.
	if !st.LastWindowStart.IsZero() && rec.WindowStart.Sub(st.LastWindowStart) > rec.WindowEnd.Sub(rec.WindowStart) {
		st.ConsecutiveViolations = 0
		if st.BlockedUntil != nil && now.After(*st.BlockedUntil) {
			st.BlockedUntil = nil
		}
	}
	st.LastWindowStart = rec.WindowStart
	st.LastWindowExceeded = true

	st.ConsecutiveViolations += s.violationWeight(severity)
	if st.ConsecutiveViolations >= s.threshold {
		s.applyBlock(st, now)
	}
	if err := s.saveState(ctx, st); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"identifier": identifier,
			"severity":   severity,
			"violations": st.ConsecutiveViolations,
			"blocked":    st.BlockedUntil != nil,
		}).Info("adaptive gate: suspicious activity reported")
	}
	return nil
}

// SuspicionEndpoint is the reserved endpoint name under which cross-endpoint
// suspicion signals accumulate.
const SuspicionEndpoint = "*suspicion*"

// SuspicionBlocked reports whether the identifier carries an active
// suspicion-based block, independent of endpoint.
func (s *AdaptiveGateService) SuspicionBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind) (bool, time.Duration) {
	st, err := s.loadState(ctx, identifier, kind, SuspicionEndpoint)
	if err != nil {
		return false, 0
	}
	now := s.clock.Now()
	if st.Blocked(now) {
		return true, st.BlockedUntil.Sub(now)
	}
	return false, 0
}

func (s *AdaptiveGateService) loadState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	st, err := s.repo.GetBlockState(ctx, identifier, kind, endpoint)
	if errors.Is(err, gate.ErrNotFound) {
		return &gate.BlockState{Identifier: identifier, Kind: kind, Endpoint: endpoint}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return st, nil
}

func (s *AdaptiveGateService) saveState(ctx context.Context, st *gate.BlockState) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	st.UpdatedAt = s.clock.Now()
	if err := s.repo.PutBlockState(ctx, st); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identifier": st.Identifier, "endpoint": st.Endpoint}).WithError(err).Warn("adaptive gate: failed to persist block state")
		}
		return fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return nil
}

// recordViolation counts at most one violation per window and applies a block
// when the streak reaches the escalation threshold or the hard limit was
// crossed outright.
func (s *AdaptiveGateService) recordViolation(ctx context.Context, st *gate.BlockState, now time.Time, rec *gate.WindowRecord, reason string) {
	hard := rec.RequestsCount > s.hardLimit
	if !st.LastWindowExceeded {
		st.ConsecutiveViolations++
		st.LastWindowExceeded = true
	}
	if hard || st.ConsecutiveViolations >= s.threshold {
		s.applyBlock(st, now)
		s.markBlocked(ctx, rec, reason)
	}
	s.saveState(ctx, st)
}

// applyBlock sets blockedUntil with exponential backoff. Each additional
// violation strictly extends the block, up to the configured cap.
func (s *AdaptiveGateService) applyBlock(st *gate.BlockState, now time.Time) {
	d := time.Duration(float64(s.baseBlock) * math.Pow(s.multiplier, float64(st.ConsecutiveViolations)))
	if d > s.maxBlock || d <= 0 {
		d = s.maxBlock
	}
	until := now.Add(d)
	if st.BlockedUntil == nil || until.After(*st.BlockedUntil) {
		st.BlockedUntil = &until
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"identifier":    st.Identifier,
			"endpoint":      st.Endpoint,
			"violations":    st.ConsecutiveViolations,
			"blocked_until": st.BlockedUntil,
		}).Info("adaptive gate: block applied")
	}
}

func (s *AdaptiveGateService) markBlocked(ctx context.Context, rec *gate.WindowRecord, reason string) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.repo.MarkBlocked(ctx, rec.Identifier, rec.Kind, rec.Endpoint, rec.WindowStart, reason); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identifier": rec.Identifier, "endpoint": rec.Endpoint}).WithError(err).Debug("adaptive gate: failed to mark window blocked")
		}
	}
}

func (s *AdaptiveGateService) retryAfter(st *gate.BlockState, rec *gate.WindowRecord, now time.Time) time.Duration {
	if st.BlockedUntil != nil {
		return st.BlockedUntil.Sub(now)
	}
	return rec.WindowEnd.Sub(now)
}

func (s *AdaptiveGateService) violationWeight(severity gate.Severity) int {
	switch severity {
	case gate.SeverityHigh:
		// Severe anomalies cross the threshold on their own.
		return s.threshold
	case gate.SeverityMedium:
		return 2
	default:
		return 1
	}
}

func (s *AdaptiveGateService) warnFailOpen(identifier, endpoint string, err error) {
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Warn("adaptive gate: store unreachable, failing open")
	}
}
