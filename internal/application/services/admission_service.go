package services

import (
	"context"
	"errors"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/domain/quota"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// AdmissionService composes the adaptive gate and the quota ledger into the
// single combined decision the request-handling layer consumes. The gate is
// consulted first (blocks are cheapest to answer), then the daily quota.
type AdmissionService struct {
	quota   ports.QuotaLedger
	gate    ports.AdaptiveGate
	windows ports.WindowCounter
	clock   ports.Clock
	logger  *logrus.Logger
}

func NewAdmissionService(quota ports.QuotaLedger, adaptiveGate ports.AdaptiveGate, windows ports.WindowCounter, clock ports.Clock, logger *logrus.Logger) *AdmissionService {
	return &AdmissionService{quota: quota, gate: adaptiveGate, windows: windows, clock: clock, logger: logger}
}

// EvaluateAdmission is read-only: no counter changes until RecordSuccess.
func (s *AdmissionService) EvaluateAdmission(ctx context.Context, identity string, kind gate.IdentifierKind, endpoint string) (*gate.AdmissionResult, error) {
	if err := gate.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	decision, retryAfter, err := s.gate.Evaluate(ctx, identity, kind, endpoint)
	if err != nil && s.logger != nil {
		// The gate already degraded to a fail-open decision; just log.
		s.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(err).Warn("admission: gate evaluation degraded")
	}
	if decision == gate.DecisionBlocked {
		return &gate.AdmissionResult{Decision: gate.DecisionBlocked, RetryAfter: retryAfter}, nil
	}

	verdict, err := s.quota.Check(ctx, identity)
	if err != nil {
		if !errors.Is(err, gate.ErrStoreUnavailable) {
			return nil, err
		}
		// Verdict already reflects the configured fail policy.
		if s.logger != nil {
			s.logger.WithField("identity", identity).WithError(err).Warn("admission: quota check degraded")
		}
	}
	if verdict == nil {
		verdict = &quota.Verdict{Allowed: true}
	}
	result := &gate.AdmissionResult{
		Decision:     decision,
		QueriesUsed:  verdict.QueriesUsed,
		QueriesLimit: verdict.QueriesLimit,
		Unlimited:    verdict.Unlimited,
		ResetTime:    verdict.ResetTime,
		RetryAfter:   retryAfter,
	}
	if !verdict.Allowed {
		result.Decision = gate.DecisionQuotaExceeded
		result.RetryAfter = verdict.ResetTime.Sub(s.clock.Now())
	}
	return result, nil
}

// RecordSuccess increments both the daily quota and the live window counter.
// Failed downstream operations are never recorded, so they do not cost quota.
func (s *AdmissionService) RecordSuccess(ctx context.Context, identity string, kind gate.IdentifierKind, endpoint string) error {
	if err := gate.ValidateIdentity(identity); err != nil {
		return err
	}

	qErr := s.quota.Record(ctx, identity)
	_, wErr := s.windows.Increment(ctx, identity, kind, endpoint)
	if wErr != nil && s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(wErr).Error("admission: failed to record window usage")
	}
	return errors.Join(qErr, wErr)
}

// ReportSuspiciousSignal feeds the fast-path escalation from input-validation
// code elsewhere in the pipeline.
func (s *AdmissionService) ReportSuspiciousSignal(ctx context.Context, identifier string, kind gate.IdentifierKind, severity gate.Severity) error {
	if err := gate.ValidateIdentity(identifier); err != nil {
		return err
	}
	return s.gate.ReportSuspicious(ctx, identifier, kind, severity)
}
