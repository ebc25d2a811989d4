package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/domain/quota"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// QuotaLedgerService implements QuotaLedger: N free metered calls per identity
// per calendar day, unlimited for premium identities. The day-boundary reset
// is lazy; Check applies it in memory only and Record folds it into the
// store's atomic increment.
type QuotaLedgerService struct {
	repo         ports.QuotaRepository
	premium      ports.PremiumChecker
	clock        ports.Clock
	dailyLimit   int
	failOpen     bool
	storeTimeout time.Duration
	logger       *logrus.Logger
}

// QuotaLedgerConfig groups configuration parameters for the quota ledger.
type QuotaLedgerConfig struct {
	DailyLimit int
	// FailOpen controls the verdict when the backing store is unreachable.
	FailOpen     bool
	StoreTimeout time.Duration
}

func NewQuotaLedgerService(repo ports.QuotaRepository, premium ports.PremiumChecker, clock ports.Clock, cfg *QuotaLedgerConfig, logger *logrus.Logger) *QuotaLedgerService {
	// Apply defaults
	dl := 5
	st := 200 * time.Millisecond
	fo := true
	if cfg != nil {
		if cfg.DailyLimit > 0 {
			dl = cfg.DailyLimit
		}
		if cfg.StoreTimeout > 0 {
			st = cfg.StoreTimeout
		}
		fo = cfg.FailOpen
	}
	return &QuotaLedgerService{repo: repo, premium: premium, clock: clock, dailyLimit: dl, failOpen: fo, storeTimeout: st, logger: logger}
}

// Check loads the identity's state (treating an unseen identity as zeroed) and
// returns the verdict for today. It never persists the day reset; that happens
// inside Record's atomic increment.
func (s *QuotaLedgerService) Check(ctx context.Context, identity string) (*quota.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	today := s.clock.Today()
	reset := today.AddDate(0, 0, 1)

	st, err := s.repo.Get(ctx, identity)
	if err != nil && !errors.Is(err, gate.ErrNotFound) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "fail_open": s.failOpen}).WithError(err).Warn("quota ledger: store unreachable, applying fail policy")
		}
		return &quota.Verdict{
			Allowed:      s.failOpen,
			QueriesLimit: s.dailyLimit,
			ResetTime:    reset,
		}, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	if st == nil {
		st = &quota.State{Identity: identity, LastQueryDate: today}
	}

	if s.isPremium(ctx, identity, st) {
		return &quota.Verdict{
			Allowed:     true,
			Unlimited:   true,
			QueriesUsed: st.UsedOn(today),
			ResetTime:   reset,
		}, nil
	}

	used := st.UsedOn(today)
	return &quota.Verdict{
		Allowed:      used < s.dailyLimit,
		QueriesUsed:  used,
		QueriesLimit: s.dailyLimit,
		ResetTime:    reset,
	}, nil
}

// Record consumes one metered call. The repository resets the counter for a
// new day and increments in a single conditional update, so a reset applied by
// one call is always observed by concurrent and later calls.
func (s *QuotaLedgerService) Record(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	st, err := s.repo.IncrementDaily(ctx, identity, s.clock.Today())
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("identity", identity).WithError(err).Error("quota ledger: failed to record usage")
		}
		return fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity": identity, "queries_today": st.QueriesToday, "total_queries": st.TotalQueries}).Debug("quota ledger: usage recorded")
	}
	return nil
}

// isPremium prefers the collaborator-owned subscription flag and falls back to
// the snapshot stored with the quota state when the checker is unavailable.
func (s *QuotaLedgerService) isPremium(ctx context.Context, identity string, st *quota.State) bool {
	if s.premium == nil {
		return st.IsPremium
	}
	p, err := s.premium.IsPremium(ctx, identity)
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("identity", identity).WithError(err).Debug("quota ledger: premium lookup failed, using stored flag")
		}
		return st.IsPremium
	}
	return p
}
