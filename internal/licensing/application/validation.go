package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

// ValidationScheduler decides when the license needs revalidation. It is
// pull based: callers invoke EnsureFresh on app lifecycle events and there
// is no standing timer. A validation becomes due when the last successful
// one is older than the validation interval, when time tampering was
// detected, or when the clock reads earlier than the last validation.
type ValidationScheduler struct {
	service *Service
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewValidationScheduler creates a new validation scheduler.
func NewValidationScheduler(service *Service, logger *slog.Logger, metrics observability.Metrics) *ValidationScheduler {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &ValidationScheduler{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// NeedsValidation reports whether a validation attempt is due.
func (v *ValidationScheduler) NeedsValidation(ctx context.Context) (bool, error) {
	return v.service.NeedsValidation(ctx)
}

// EnsureFresh validates the license if a validation is due and is a no-op
// otherwise. Offline failures are absorbed by the grace period and are not
// returned as errors.
func (v *ValidationScheduler) EnsureFresh(ctx context.Context) error {
	due, err := v.service.NeedsValidation(ctx)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	license, err := v.service.Current(ctx)
	if err != nil {
		return err
	}
	wasInGrace := license.Status == domain.StatusGracePeriod

	result, err := v.service.Validate(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotActivated) {
			return nil
		}
		return err
	}

	v.metrics.Counter(observability.MetricLicenseValidations, 1,
		observability.T("status", string(result.Status)))
	if result.TamperSuspected {
		v.metrics.Counter(observability.MetricLicenseTamperFlags, 1)
	}
	if result.InGracePeriod && !wasInGrace {
		v.metrics.Counter(observability.MetricLicenseGraceEntries, 1)
	}

	switch {
	case result.Downgraded:
		v.logger.Warn("license downgraded during validation", "status", result.Status)
	case result.InGracePeriod:
		v.logger.Info("license validation deferred to grace period")
	default:
		v.logger.Debug("license validated", "status", result.Status)
	}
	return nil
}
