package services_test

import (
	"context"
	"testing"
	"time"

	impl "github.com/avatarctic/admission-gate/internal/application/services"
	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/infrastructure/repositories"
)

type windowRepoMock struct {
	repositories.MemoryWindowRepository
	peekFn func(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error)
}

func (m *windowRepoMock) PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	if m.peekFn != nil {
		return m.peekFn(ctx, identifier, kind, endpoint, windowStart, window)
	}
	return m.MemoryWindowRepository.PeekWindow(ctx, identifier, kind, endpoint, windowStart, window)
}

func newCounter(repo *repositories.MemoryWindowRepository, clk *fakeClock) *impl.WindowCounterService {
	return impl.NewWindowCounterService(repo, clk, &impl.WindowCounterConfig{Window: time.Hour}, nil)
}

func TestWindowCounter_IncrementCounts(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	svc := newCounter(repo, clk)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		rec, err := svc.Increment(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if rec.RequestsCount != i {
			t.Fatalf("increment %d: count = %d", i, rec.RequestsCount)
		}
		if !rec.WindowStart.Equal(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("window start = %v", rec.WindowStart)
		}
		if !rec.WindowEnd.Equal(rec.WindowStart.Add(time.Hour)) {
			t.Fatalf("window end = %v", rec.WindowEnd)
		}
	}
}

func TestWindowCounter_FreshWindowAfterBoundary(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 50, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	svc := newCounter(repo, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Increment(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	clk.Advance(15 * time.Minute) // crosses 11:00
	rec, err := svc.Increment(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("increment in new window: %v", err)
	}
	if rec.RequestsCount != 1 {
		t.Fatalf("new window count = %d, want 1", rec.RequestsCount)
	}
	if !rec.WindowStart.Equal(time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("new window start = %v", rec.WindowStart)
	}
}

func TestWindowCounter_PeekDoesNotIncrement(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	svc := newCounter(repo, clk)
	ctx := context.Background()

	if _, err := svc.Increment(ctx, "u1", gate.IdentifierUser, "/v1/query"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	for i := 0; i < 10; i++ {
		rec, err := svc.Peek(ctx, "u1", gate.IdentifierUser, "/v1/query")
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if rec.RequestsCount != 1 {
			t.Fatalf("peek changed the count: %d", rec.RequestsCount)
		}
	}
}

func TestWindowCounter_PeekUnseenTupleIsZero(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	svc := newCounter(repositories.NewMemoryWindowRepository(), clk)

	rec, err := svc.Peek(context.Background(), "nobody", gate.IdentifierUser, "/v1/query")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if rec.RequestsCount != 0 {
		t.Fatalf("unseen tuple count = %d, want 0", rec.RequestsCount)
	}
}

func TestWindowCounter_ClockSkewTreatedAsExpired(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	clk := newFakeClock(now)
	repo := &windowRepoMock{peekFn: func(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
		// A record claiming to start an hour in the future.
		return &gate.WindowRecord{
			Identifier:    identifier,
			Kind:          kind,
			Endpoint:      endpoint,
			WindowStart:   now.Add(time.Hour),
			WindowEnd:     now.Add(2 * time.Hour),
			RequestsCount: 42,
		}, nil
	}}
	svc := impl.NewWindowCounterService(repo, clk, &impl.WindowCounterConfig{Window: time.Hour, SkewTolerance: 5 * time.Minute}, nil)

	rec, err := svc.Peek(context.Background(), "u1", gate.IdentifierUser, "/v1/query")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if rec.RequestsCount != 0 {
		t.Fatalf("skewed record must not be trusted: count = %d", rec.RequestsCount)
	}
}
