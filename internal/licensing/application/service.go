package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/felixgeelhaar/nekosync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
)

// Config tunes the validation cadence and the offline grace window.
type Config struct {
	ValidationInterval time.Duration
	GracePeriod        time.Duration
}

// DefaultConfig returns the stock windows.
func DefaultConfig() Config {
	return Config{
		ValidationInterval: domain.ValidationInterval,
		GracePeriod:        domain.GracePeriodDuration,
	}
}

// Service handles license activation, deactivation and validation against
// the remote identity authority. All license state transitions go through
// this service; the cached record is the single source of truth in-process.
type Service struct {
	mu        sync.Mutex
	repo      domain.Repository
	authority domain.IdentityAuthority
	publisher eventbus.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	accountID string
	deviceID  string
	cfg       Config
	cache     *domain.License // In-memory cache, guarded by mu
}

// NewService creates a new license service. Zero values in cfg fall back
// to the defaults.
func NewService(
	repo domain.Repository,
	authority domain.IdentityAuthority,
	publisher eventbus.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
	accountID string,
	deviceID string,
	cfg Config,
) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = domain.ValidationInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = domain.GracePeriodDuration
	}
	return &Service{
		repo:      repo,
		authority: authority,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		accountID: accountID,
		deviceID:  deviceID,
		cfg:       cfg,
	}
}

// ValidationResult describes the outcome of a validation attempt.
type ValidationResult struct {
	// Status is the license status after the attempt.
	Status domain.Status
	// Downgraded is true when the attempt ended the license's entitlements
	// (revoked, expired, or grace deadline passed).
	Downgraded bool
	// InGracePeriod is true when the authority was unreachable and paid
	// features are riding the grace window.
	InGracePeriod bool
	// TamperSuspected is true when the wall clock had moved backwards since
	// the last validation.
	TamperSuspected bool
}

// StatusReport is the read-only license state exposed to callers.
type StatusReport struct {
	IsPro              bool          `json:"is_pro"`
	Status             domain.Status `json:"status"`
	LicenseKey         string        `json:"license_key,omitempty"`
	Plan               string        `json:"plan,omitempty"`
	ActivatedAt        time.Time     `json:"activated_at,omitempty"`
	LastValidatedAt    time.Time     `json:"last_validated_at,omitempty"`
	ExpiresAt          time.Time     `json:"expires_at,omitempty"`
	NeedsValidation    bool          `json:"needs_validation"`
	InGracePeriod      bool          `json:"in_grace_period"`
	GracePeriodEndsAt  *time.Time    `json:"grace_period_ends_at,omitempty"`
	TimeTamperDetected bool          `json:"time_tamper_detected"`
}

// Current returns a copy of the current license, creating the unactivated
// first-run record if none exists.
func (s *Service) Current(ctx context.Context) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, err := s.currentLocked(ctx)
	if err != nil {
		return nil, err
	}
	cp := *license
	return &cp, nil
}

func (s *Service) currentLocked(ctx context.Context) (*domain.License, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	license, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	// No license file exists - first run
	if license == nil {
		license = domain.NewUnactivated()
		if err := s.repo.Save(ctx, license); err != nil {
			s.logger.Warn("failed to save first-run license record", "error", err)
			// Continue with the in-memory record
		}
	}

	s.cache = license
	return license, nil
}

// Activate binds the key to the configured account and stores the resulting
// license. No local state changes unless the authority confirms the bind.
func (s *Service) Activate(ctx context.Context, key string) (*domain.License, error) {
	key = domain.NormalizeKey(key)
	if !domain.ValidKeyFormat(key) {
		return nil, domain.ErrInvalidKey
	}
	if s.accountID == "" {
		return nil, errors.New("account id is not configured")
	}

	result, err := s.authority.Bind(ctx, key, s.accountID, s.deviceID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	license := domain.NewActivated(key, s.accountID, result.Plan, result.ExpiresAt, s.clock.Now())
	if err := s.repo.Save(ctx, license); err != nil {
		return nil, err
	}
	s.cache = license

	s.logger.Info("license activated",
		"key", license.MaskedKey(),
		"plan", license.Plan,
		"expires_at", license.ExpiresAt,
	)
	s.publishLicenseEvent(ctx, eventbus.RouteLicenseActivated, license)

	cp := *license
	return &cp, nil
}

// Deactivate unbinds the key and clears local state. Local state is cleared
// only after the authority confirms the unbind; on failure the license stays
// as it was.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	license, err := s.currentLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !license.IsActivated() {
		s.mu.Unlock()
		return domain.ErrNotActivated
	}
	key := license.Key
	account := license.BoundAccountID
	s.mu.Unlock()

	if err := s.authority.Unbind(ctx, key, account, s.deviceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := domain.NewUnactivated()
	if err := s.repo.Save(ctx, cleared); err != nil {
		return err
	}
	s.cache = cleared

	s.logger.Info("license deactivated")
	s.publishLicenseEvent(ctx, eventbus.RouteLicenseDeactivated, cleared)
	return nil
}

// Validate checks the license against the authority and applies the
// resulting transition. The authority is not consulted for revoked
// licenses; that state is terminal until a new key is activated.
func (s *Service) Validate(ctx context.Context) (*ValidationResult, error) {
	s.mu.Lock()
	license, err := s.currentLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !license.IsActivated() {
		s.mu.Unlock()
		return nil, domain.ErrNotActivated
	}
	if license.Status == domain.StatusRevoked {
		s.mu.Unlock()
		return &ValidationResult{Status: domain.StatusRevoked}, nil
	}

	now := s.clock.Now()
	tamper := now.Before(license.LastValidatedAt)
	if tamper {
		license.FlagTimeTamper()
		s.logger.Warn("wall clock moved backwards since last validation",
			"last_validated_at", license.LastValidatedAt,
			"now", now,
		)
	}
	key := license.Key
	account := license.BoundAccountID
	s.mu.Unlock()

	result, checkErr := s.authority.CheckEntitlement(ctx, key, account)

	s.mu.Lock()
	defer s.mu.Unlock()

	license = s.cache
	if license == nil || license.Key != key {
		// Deactivated or rebound while the check was in flight.
		return nil, domain.ErrNotActivated
	}
	now = s.clock.Now()

	if checkErr != nil {
		if !errors.Is(checkErr, domain.ErrNetworkUnavailable) {
			return nil, checkErr
		}
		return s.applyOfflineLocked(ctx, license, now, tamper)
	}

	switch result.Status {
	case domain.EntitlementActive:
		license.Plan = result.Plan
		license.ExpiresAt = result.ExpiresAt
		license.MarkValidated(now)
		if err := s.repo.Save(ctx, license); err != nil {
			return nil, err
		}
		s.publishLicenseEvent(ctx, eventbus.RouteLicenseValidated, license)
		return &ValidationResult{Status: license.Status, TamperSuspected: tamper}, nil

	case domain.EntitlementRevoked:
		license.MarkRevoked()
		if err := s.repo.Save(ctx, license); err != nil {
			return nil, err
		}
		s.logger.Warn("license revoked by authority", "key", license.MaskedKey())
		s.publishLicenseEvent(ctx, eventbus.RouteLicenseDowngraded, license)
		return &ValidationResult{Status: license.Status, Downgraded: true, TamperSuspected: tamper}, nil

	case domain.EntitlementExpired:
		license.MarkExpired()
		if err := s.repo.Save(ctx, license); err != nil {
			return nil, err
		}
		s.logger.Warn("license expired", "key", license.MaskedKey())
		s.publishLicenseEvent(ctx, eventbus.RouteLicenseDowngraded, license)
		return &ValidationResult{Status: license.Status, Downgraded: true, TamperSuspected: tamper}, nil

	default:
		return nil, fmt.Errorf("unexpected entitlement status %q", result.Status)
	}
}

// applyOfflineLocked handles a validation attempt that could not reach the
// authority. Grace opens only from the active state; offline time never
// restores entitlements that were already lost.
func (s *Service) applyOfflineLocked(ctx context.Context, license *domain.License, now time.Time, tamper bool) (*ValidationResult, error) {
	switch {
	case license.GraceExpired(now):
		license.MarkExpired()
		if err := s.repo.Save(ctx, license); err != nil {
			return nil, err
		}
		s.logger.Warn("grace period ended without reaching the authority")
		s.publishLicenseEvent(ctx, eventbus.RouteLicenseDowngraded, license)
		return &ValidationResult{Status: license.Status, Downgraded: true, TamperSuspected: tamper}, nil

	case license.Status == domain.StatusActive:
		license.EnterGracePeriod(now, s.cfg.GracePeriod)
		if err := s.repo.Save(ctx, license); err != nil {
			return nil, err
		}
		s.logger.Warn("authority unreachable, grace period opened",
			"grace_period_ends_at", *license.GracePeriodEndsAt,
		)
		return &ValidationResult{Status: license.Status, InGracePeriod: true, TamperSuspected: tamper}, nil

	case license.Status == domain.StatusGracePeriod:
		// Still inside the window: state unchanged, deadline untouched.
		if tamper {
			if err := s.repo.Save(ctx, license); err != nil {
				return nil, err
			}
		}
		return &ValidationResult{Status: license.Status, InGracePeriod: true, TamperSuspected: tamper}, nil

	default:
		// Expired stays expired.
		return &ValidationResult{Status: license.Status, TamperSuspected: tamper}, nil
	}
}

// NeedsValidation reports whether a validation attempt is due now.
func (s *Service) NeedsValidation(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, err := s.currentLocked(ctx)
	if err != nil {
		return false, err
	}
	return license.NeedsValidation(s.clock.Now(), s.cfg.ValidationInterval), nil
}

// Status assembles the read-only license state for display and for the
// sync layer.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, err := s.currentLocked(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		IsPro:              license.IsPro(),
		Status:             license.Status,
		LicenseKey:         license.MaskedKey(),
		Plan:               license.Plan,
		ActivatedAt:        license.ActivatedAt,
		LastValidatedAt:    license.LastValidatedAt,
		ExpiresAt:          license.ExpiresAt,
		NeedsValidation:    license.NeedsValidation(s.clock.Now(), s.cfg.ValidationInterval),
		InGracePeriod:      license.Status == domain.StatusGracePeriod,
		TimeTamperDetected: license.TimeTamperDetected,
	}
	if license.GracePeriodEndsAt != nil {
		ends := *license.GracePeriodEndsAt
		report.GracePeriodEndsAt = &ends
	}
	return report, nil
}

// ClearCache clears the in-memory license cache.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
}

func (s *Service) publishLicenseEvent(ctx context.Context, route string, license *domain.License) {
	if s.publisher == nil {
		return
	}
	payload := eventbus.LicenseEvent{
		Event:      route,
		AccountID:  license.BoundAccountID,
		MaskedKey:  license.MaskedKey(),
		Status:     string(license.Status),
		OccurredAt: s.clock.Now(),
	}
	if err := eventbus.PublishJSON(ctx, s.publisher, route, payload); err != nil {
		s.logger.Warn("failed to publish license event", "event", route, "error", err)
	}
}
