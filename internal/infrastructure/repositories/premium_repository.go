package repositories

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/avatarctic/admission-gate/internal/infrastructure/db"
	"github.com/sirupsen/logrus"
)

// PremiumDBRepository answers premium lookups from the premium_identities
// table. The table is written by the user-management system; this subsystem
// only reads it.
type PremiumDBRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewPremiumDBRepository creates a new Postgres premium checker.
func NewPremiumDBRepository(database *db.Database, logger *logrus.Logger) ports.PremiumChecker {
	return &PremiumDBRepository{db: database, logger: logger}
}

// IsPremium reports whether the identity has an unexpired premium entry.
func (r *PremiumDBRepository) IsPremium(ctx context.Context, identity string) (bool, error) {
	var premium bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM premium_identities
			WHERE identity = $1 AND (expires_at IS NULL OR expires_at > now())
		)`

	if err := r.db.DB.GetContext(ctx, &premium, query, identity); err != nil {
		if r.logger != nil {
			r.logger.WithField("identity", identity).WithError(err).Error("db: failed to check premium flag")
		}
		return false, fmt.Errorf("failed to check premium flag: %w", err)
	}
	return premium, nil
}

var premiumSF singleflight.Group

// CachingPremiumChecker decorates a PremiumChecker with a short-TTL cache so
// the hot admission path does not hit the users database on every request.
// Cache failures fall through to the underlying checker.
type CachingPremiumChecker struct {
	next  ports.PremiumChecker
	cache ports.Cache
	ttl   time.Duration
}

func NewCachingPremiumChecker(next ports.PremiumChecker, cache ports.Cache, ttl time.Duration) *CachingPremiumChecker {
	return &CachingPremiumChecker{next: next, cache: cache, ttl: ttl}
}

func (c *CachingPremiumChecker) IsPremium(ctx context.Context, identity string) (bool, error) {
	key := "premium:" + identity
	if c.cache != nil {
		if b, ok, err := c.cache.Get(ctx, key); err == nil && ok && len(b) == 1 {
			return b[0] == '1', nil
		}
	}
	v, err, _ := premiumSF.Do(key, func() (any, error) {
		p, err := c.next.IsPremium(ctx, identity)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			b := []byte{'0'}
			if p {
				b[0] = '1'
			}
			_ = c.cache.Set(ctx, key, b, c.ttl)
		}
		return p, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
