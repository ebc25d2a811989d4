package ports

import (
	"context"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
)

// AdmissionController is the single entry point the request-handling layer
// uses: one combined call composing the adaptive gate and the quota ledger.
type AdmissionController interface {
	// EvaluateAdmission is read-only: calling it repeatedly without
	// RecordSuccess changes no counters. Returns gate.ErrInvalidIdentity for
	// an empty or malformed identity key.
	EvaluateAdmission(ctx context.Context, identity string, kind gate.IdentifierKind, endpoint string) (*gate.AdmissionResult, error)
	// RecordSuccess consumes quota and window budget for one completed
	// metered operation. Call it only after the operation succeeded.
	RecordSuccess(ctx context.Context, identity string, kind gate.IdentifierKind, endpoint string) error
	// ReportSuspiciousSignal forwards a suspicion signal from input-validation
	// code to the adaptive gate.
	ReportSuspiciousSignal(ctx context.Context, identifier string, kind gate.IdentifierKind, severity gate.Severity) error
}
