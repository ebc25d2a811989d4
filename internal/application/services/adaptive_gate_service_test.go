package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	impl "github.com/avatarctic/admission-gate/internal/application/services"
	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/infrastructure/repositories"
)

func newGate(repo *repositories.MemoryWindowRepository, clk *fakeClock) (*impl.AdaptiveGateService, *impl.WindowCounterService) {
	counter := impl.NewWindowCounterService(repo, clk, &impl.WindowCounterConfig{Window: time.Hour}, nil)
	g := impl.NewAdaptiveGateService(counter, repo, clk, &impl.AdaptiveGateConfig{
		BaseLimit:           10,
		HardLimit:           20,
		EscalationThreshold: 3,
		BaseBlockDuration:   15 * time.Minute,
		BackoffMultiplier:   2.0,
		MaxBlockDuration:    24 * time.Hour,
	}, nil)
	return g, counter
}

func fill(t *testing.T, counter *impl.WindowCounterService, n int, identifier string, kind gate.IdentifierKind, endpoint string) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := counter.Increment(context.Background(), identifier, kind, endpoint); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
}

func TestAdaptiveGate_AllowUnderBaseLimit(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, counter := newGate(repositories.NewMemoryWindowRepository(), clk)

	fill(t, counter, 10, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	decision, retry, err := g.Evaluate(context.Background(), "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != gate.DecisionAllow || retry != 0 {
		t.Fatalf("decision = %s retry = %v, want allow", decision, retry)
	}
}

func TestAdaptiveGate_ThrottleBetweenLimits(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, counter := newGate(repositories.NewMemoryWindowRepository(), clk)

	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	decision, retry, err := g.Evaluate(context.Background(), "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != gate.DecisionThrottled {
		t.Fatalf("decision = %s, want throttled", decision)
	}
	if retry <= 0 || retry > time.Hour {
		t.Fatalf("throttle retry = %v, want within the window", retry)
	}
}

func TestAdaptiveGate_BlockOverHardLimit(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, counter := newGate(repositories.NewMemoryWindowRepository(), clk)

	fill(t, counter, 21, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	decision, retry, err := g.Evaluate(context.Background(), "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != gate.DecisionBlocked {
		t.Fatalf("decision = %s, want blocked", decision)
	}
	if retry <= 0 {
		t.Fatalf("blocked retry = %v, want positive", retry)
	}
}

func TestAdaptiveGate_EscalationAcrossWindows(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, counter := newGate(repositories.NewMemoryWindowRepository(), clk)
	ctx := context.Background()

	// Window 1: exceeds the base limit, first violation, throttled.
	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	decision, firstRetry, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if decision != gate.DecisionThrottled {
		t.Fatalf("window 1 decision = %s, want throttled", decision)
	}

	// Window 2: another dirty window, second violation.
	clk.Advance(time.Hour)
	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if decision, _, _ = g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionThrottled {
		t.Fatalf("window 2 decision = %s, want throttled", decision)
	}

	// Window 3: third violation crosses the escalation threshold.
	clk.Advance(time.Hour)
	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	decision, blockedRetry, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if decision != gate.DecisionBlocked {
		t.Fatalf("window 3 decision = %s, want blocked", decision)
	}
	if blockedRetry <= firstRetry {
		t.Fatalf("escalated retry %v must exceed first-violation retry %v", blockedRetry, firstRetry)
	}
}

func TestAdaptiveGate_CleanWindowResetsViolations(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	g, counter := newGate(repo, clk)
	ctx := context.Background()

	// Two dirty windows.
	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	clk.Advance(time.Hour)
	fill(t, counter, 15, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")

	// A clean window, then a fresh one: the streak must be gone.
	clk.Advance(time.Hour)
	fill(t, counter, 3, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	clk.Advance(time.Hour)
	fill(t, counter, 1, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionAllow {
		t.Fatalf("decision after clean window = %s, want allow", decision)
	}

	st, err := repo.GetBlockState(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("get block state: %v", err)
	}
	if st.ConsecutiveViolations != 0 {
		t.Fatalf("violations after clean window = %d, want 0", st.ConsecutiveViolations)
	}
}

func TestAdaptiveGate_BlockLiftsOnlyAfterCleanWindow(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, counter := newGate(repositories.NewMemoryWindowRepository(), clk)
	ctx := context.Background()

	fill(t, counter, 21, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionBlocked {
		t.Fatal("expected block after hard limit")
	}

	// Next window: the block duration has passed but the previous window was
	// dirty, so the gate stays closed until a clean window completes.
	clk.Advance(time.Hour)
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionBlocked {
		t.Fatal("block must persist until a clean window completes")
	}

	// The blocked window stayed clean; the window after it opens the gate.
	clk.Advance(time.Hour)
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionAllow {
		t.Fatal("expected allow after a clean window")
	}
}

func TestAdaptiveGate_SevereSuspicionBlocksImmediately(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, _ := newGate(repositories.NewMemoryWindowRepository(), clk)
	ctx := context.Background()

	if err := g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityHigh); err != nil {
		t.Fatalf("report suspicious: %v", err)
	}

	// The block applies to every endpoint, not just the noisy one.
	decision, retry, err := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision != gate.DecisionBlocked || retry <= 0 {
		t.Fatalf("decision = %s retry = %v, want blocked", decision, retry)
	}
}

func TestAdaptiveGate_RepeatedSuspicionExtendsBlock(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	g, _ := newGate(repositories.NewMemoryWindowRepository(), clk)
	ctx := context.Background()

	g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityHigh)
	_, firstRetry, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")

	g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityLow)
	_, secondRetry, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query")

	if secondRetry <= firstRetry {
		t.Fatalf("block must escalate: first %v, second %v", firstRetry, secondRetry)
	}
}

func TestAdaptiveGate_SuspicionDecaysAfterQuietWindow(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	g, _ := newGate(repo, clk)
	ctx := context.Background()

	g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityHigh)
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionBlocked {
		t.Fatal("expected block after severe signal")
	}

	// The block expires and two full quiet windows pass; the next low signal
	// starts a fresh streak instead of re-blocking at escalated duration.
	clk.Advance(3 * time.Hour)
	if err := g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityLow); err != nil {
		t.Fatalf("report suspicious: %v", err)
	}

	st, err := repo.GetBlockState(ctx, "1.2.3.4", gate.IdentifierIP, impl.SuspicionEndpoint)
	if err != nil {
		t.Fatalf("get suspicion state: %v", err)
	}
	if st.ConsecutiveViolations != 1 {
		t.Fatalf("violations after quiet window = %d, want 1", st.ConsecutiveViolations)
	}
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionAllow {
		t.Fatalf("low signal after a quiet window must not block")
	}
}

func TestAdaptiveGate_AdjacentWindowSuspicionStillEscalates(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	repo := repositories.NewMemoryWindowRepository()
	g, _ := newGate(repo, clk)
	ctx := context.Background()

	g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityMedium)

	// A signal in the very next window continues the streak; no quiet window
	// has completed in between.
	clk.Advance(time.Hour)
	g.ReportSuspicious(ctx, "1.2.3.4", gate.IdentifierIP, gate.SeverityMedium)

	st, err := repo.GetBlockState(ctx, "1.2.3.4", gate.IdentifierIP, impl.SuspicionEndpoint)
	if err != nil {
		t.Fatalf("get suspicion state: %v", err)
	}
	if st.ConsecutiveViolations != 4 {
		t.Fatalf("violations = %d, want 4", st.ConsecutiveViolations)
	}
	if decision, _, _ := g.Evaluate(ctx, "1.2.3.4", gate.IdentifierIP, "/v1/query"); decision != gate.DecisionBlocked {
		t.Fatal("streak across adjacent windows must block")
	}
}

func TestAdaptiveGate_FailsOpenOnStoreError(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	failing := &failingWindowRepo{err: errors.New("connection refused")}
	counter := impl.NewWindowCounterService(failing, clk, &impl.WindowCounterConfig{Window: time.Hour}, nil)
	g := impl.NewAdaptiveGateService(counter, failing, clk, nil, nil)

	decision, _, err := g.Evaluate(context.Background(), "1.2.3.4", gate.IdentifierIP, "/v1/query")
	if err != nil {
		t.Fatalf("evaluate must not surface store errors: %v", err)
	}
	if decision != gate.DecisionAllow {
		t.Fatalf("decision = %s, want fail-open allow", decision)
	}
}

type failingWindowRepo struct{ err error }

func (f *failingWindowRepo) IncrementWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	return nil, f.err
}
func (f *failingWindowRepo) PeekWindow(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, window time.Duration) (*gate.WindowRecord, error) {
	return nil, f.err
}
func (f *failingWindowRepo) MarkBlocked(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string, windowStart time.Time, reason string) error {
	return f.err
}
func (f *failingWindowRepo) GetBlockState(ctx context.Context, identifier string, kind gate.IdentifierKind, endpoint string) (*gate.BlockState, error) {
	return nil, f.err
}
func (f *failingWindowRepo) PutBlockState(ctx context.Context, state *gate.BlockState) error {
	return f.err
}
func (f *failingWindowRepo) ListWindows(ctx context.Context, endpoint string, since time.Time, limit int) ([]*gate.WindowRecord, error) {
	return nil, f.err
}
