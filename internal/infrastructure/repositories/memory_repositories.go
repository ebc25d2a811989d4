package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/domain/quota"
)

// In-memory stores for tests and single-process development. They hold the
// same atomicity guarantees as the durable backends (one mutex-guarded
// increment, never read-then-write through the public API), but counts are
// process-local: running more than one instance against them under-counts,
// which is exactly why production deployments use Postgres or Redis.

// MemoryQuotaRepository is a mutex-guarded in-memory quota store.
type MemoryQuotaRepository struct {
	mu     sync.Mutex
	states map[string]*quota.State
}

func NewMemoryQuotaRepository() *MemoryQuotaRepository {
	return &MemoryQuotaRepository{states: make(map[string]*quota.State)}
}

func (r *MemoryQuotaRepository) Get(ctx context.Context, identity string) (*quota.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[identity]
	if !ok {
		return nil, gate.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *MemoryQuotaRepository) IncrementDaily(ctx context.Context, identity string, today time.Time) (*quota.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[identity]
	if !ok {
		st = &quota.State{Identity: identity, CreatedAt: today}
		r.states[identity] = st
	}
	if !quota.SameDay(st.LastQueryDate, today) {
		st.QueriesToday = 0
		st.LastQueryDate = today
	}
	st.QueriesToday++
	st.TotalQueries++
	st.UpdatedAt = today
	cp := *st
	return &cp, nil
}

// SetPremium marks an identity as premium; test helper.
func (r *MemoryQuotaRepository) SetPremium(identity string, premium bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[identity]
	if !ok {
		st = &quota.State{Identity: identity}
		r.states[identity] = st
	}
	st.IsPremium = premium
}

// MemoryWindowRepository is a mutex-guarded in-memory window/block-state store.
type MemoryWindowRepository struct {
	mu      sync.Mutex
	windows map[string]*gate.WindowRecord
	blocks  map[string]*gate.BlockState
}

func NewMemoryWindowRepository() *MemoryWindowRepository {
	return &MemoryWindowRepository{
		windows: make(map[string]*gate.WindowRecord),
		blocks:  make(map[string]*gate.BlockState),
	}
}

func windowKey(identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", kind, identifier, endpoint, windowStart.Unix())
}

func blockKey(identifier string, kind gate.IdentifierKind, endpoint string) string {
	return fmt.Sprintf("%s|%s|%s", kind, identifier, endpoint)
}

func (r *MemoryWindowRepository) IncrementWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := windowKey(identifier, kind, endpoint, windowStart)
	rec, ok := r.windows[key]
	if !ok {
		rec = &gate.WindowRecord{
			Identifier:  identifier,
			Kind:        kind,
			Endpoint:    endpoint,
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(window),
		}
		r.windows[key] = rec
	}
	rec.RequestsCount++
	cp := *rec
	return &cp, nil
}

func (r *MemoryWindowRepository) PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.windows[windowKey(identifier, kind, endpoint, windowStart)]; ok {
		cp := *rec
		return &cp, nil
	}
	return &gate.WindowRecord{
		Identifier:  identifier,
		Kind:        kind,
		Endpoint:    endpoint,
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(window),
	}, nil
}

func (r *MemoryWindowRepository) MarkBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.windows[windowKey(identifier, kind, endpoint, windowStart)]; ok {
		rec.IsBlocked = true
		rec.BlockReason = reason
	}
	return nil
}

func (r *MemoryWindowRepository) GetBlockState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.blocks[blockKey(identifier, kind, endpoint)]
	if !ok {
		return nil, gate.ErrNotFound
	}
	cp := *st
	if st.BlockedUntil != nil {
		until := *st.BlockedUntil
		cp.BlockedUntil = &until
	}
	return &cp, nil
}

func (r *MemoryWindowRepository) PutBlockState(ctx context.Context, state *gate.BlockState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	if state.BlockedUntil != nil {
		until := *state.BlockedUntil
		cp.BlockedUntil = &until
	}
	r.blocks[blockKey(state.Identifier, state.Kind, state.Endpoint)] = &cp
	return nil
}

func (r *MemoryWindowRepository) ListWindows(ctx context.Context, endpoint string, since time.Time, limit int) ([]*gate.WindowRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []*gate.WindowRecord
	for _, rec := range r.windows {
		if rec.Endpoint != endpoint || rec.WindowStart.Before(since) {
			continue
		}
		cp := *rec
		records = append(records, &cp)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}
