package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/ports"
)

// blockStateTTL keeps abandoned block state from accumulating forever. It
// comfortably exceeds the maximum block duration.
const blockStateTTL = 48 * time.Hour

// WindowRedisRepository implements window counter storage on Redis. Counters
// use INCR+EXPIRE in a transactional pipeline, keyed by window start, so the
// increment is one atomic round trip. Records expire instead of being
// retained, so this backend does not support reporting.
type WindowRedisRepository struct {
	r      redis.Cmdable
	prefix string
	logger *logrus.Logger
}

// NewWindowRedisRepository creates a new Redis window repository.
func NewWindowRedisRepository(r redis.Cmdable, prefix string, logger *logrus.Logger) ports.WindowRepository {
	if prefix == "" {
		prefix = "admission"
	}
	return &WindowRedisRepository{r: r, prefix: prefix, logger: logger}
}

func (r *WindowRedisRepository) windowKey(identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time) string {
	return fmt.Sprintf("%s:window:%s:%s:%s:%d", r.prefix, kind, identifier, endpoint, windowStart.Unix())
}

func (r *WindowRedisRepository) blockKey(identifier string, kind gate.IdentifierKind, endpoint string) string {
	return fmt.Sprintf("%s:block:%s:%s:%s", r.prefix, kind, identifier, endpoint)
}

// IncrementWindow atomically increments the tuple's counter for the window.
// The key carries a TTL of twice the window so a stale counter can never be
// read as live but survives long enough for in-flight peeks.
func (r *WindowRedisRepository) IncrementWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	key := r.windowKey(identifier, kind, endpoint, windowStart)
	pipe := r.r.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("redis: failed to increment window")
		}
		return nil, fmt.Errorf("failed to increment window: %w", err)
	}
	return &gate.WindowRecord{
		Identifier:    identifier,
		Kind:          kind,
		Endpoint:      endpoint,
		WindowStart:   windowStart,
		WindowEnd:     windowStart.Add(window),
		RequestsCount: int(incr.Val()),
	}, nil
}

// PeekWindow reads the counter without incrementing.
func (r *WindowRedisRepository) PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	key := r.windowKey(identifier, kind, endpoint, windowStart)
	count, err := r.r.Get(ctx, key).Int()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint}).WithError(err).Error("redis: failed to peek window")
		}
		return nil, fmt.Errorf("failed to peek window: %w", err)
	}
	return &gate.WindowRecord{
		Identifier:    identifier,
		Kind:          kind,
		Endpoint:      endpoint,
		WindowStart:   windowStart,
		WindowEnd:     windowStart.Add(window),
		RequestsCount: count,
	}, nil
}

// MarkBlocked is a no-op beyond logging on Redis: expiring counters keep no
// durable record to annotate.
func (r *WindowRedisRepository) MarkBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, reason string) error {
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"identifier": identifier, "endpoint": endpoint, "reason": reason}).Debug("redis: window blocked (not persisted)")
	}
	return nil
}

// GetBlockState retrieves escalation state for the tuple.
func (r *WindowRedisRepository) GetBlockState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error) {
	raw, err := r.r.Get(ctx, r.blockKey(identifier, kind, endpoint)).Bytes()
	if err == redis.Nil {
		return nil, gate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block state: %w", err)
	}
	var st gate.BlockState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode block state: %w", err)
	}
	return &st, nil
}

// PutBlockState stores escalation state for the tuple with a housekeeping TTL.
func (r *WindowRedisRepository) PutBlockState(ctx context.Context, state *gate.BlockState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode block state: %w", err)
	}
	if err := r.r.Set(ctx, r.blockKey(state.Identifier, state.Kind, state.Endpoint), raw, blockStateTTL).Err(); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identifier": state.Identifier, "endpoint": state.Endpoint}).WithError(err).Error("redis: failed to put block state")
		}
		return fmt.Errorf("failed to put block state: %w", err)
	}
	return nil
}

// ListWindows is unsupported: Redis counters expire and keep no history.
func (r *WindowRedisRepository) ListWindows(ctx context.Context, endpoint string, since time.Time, limit int) ([]*gate.WindowRecord, error) {
	return nil, gate.ErrUnsupported
}
