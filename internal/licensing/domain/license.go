package domain

import (
	"regexp"
	"strings"
	"time"
)

// Status represents the current state of a license.
type Status string

const (
	// StatusUnactivated indicates no license key has been activated.
	StatusUnactivated Status = "unactivated"
	// StatusActive indicates the key is bound and the last validation passed.
	StatusActive Status = "active"
	// StatusGracePeriod indicates validation cannot reach the authority but
	// paid features remain available until the grace deadline.
	StatusGracePeriod Status = "grace_period"
	// StatusExpired indicates the license term or grace period has ended.
	StatusExpired Status = "expired"
	// StatusRevoked indicates the authority revoked the key. The state is
	// terminal until a new key is activated.
	StatusRevoked Status = "revoked"
)

// GracePeriodDuration is the default for how long paid features stay
// available while the authority is unreachable.
const GracePeriodDuration = 7 * 24 * time.Hour

// ValidationInterval is the default for how stale a successful validation
// may get before a new one is due.
const ValidationInterval = 24 * time.Hour

// keyPattern matches keys like NEKO-TEST-1234-5678.
var keyPattern = regexp.MustCompile(`^NEKO-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizeKey trims and uppercases a key as entered by the user.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether key has the NEKO-XXXX-XXXX-XXXX shape.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// License is the locally persisted record of a key binding.
type License struct {
	Version            int        `json:"version"`
	Key                string     `json:"key,omitempty"`
	BoundAccountID     string     `json:"bound_account_id,omitempty"`
	Plan               string     `json:"plan,omitempty"`
	ActivatedAt        time.Time  `json:"activated_at,omitempty"`
	LastValidatedAt    time.Time  `json:"last_validated_at,omitempty"`
	ExpiresAt          time.Time  `json:"expires_at,omitempty"`
	GracePeriodEndsAt  *time.Time `json:"grace_period_ends_at,omitempty"`
	Status             Status     `json:"status"`
	TimeTamperDetected bool       `json:"time_tamper_detected,omitempty"`
}

// NewUnactivated creates the first-run license record.
func NewUnactivated() *License {
	return &License{
		Version: 1,
		Status:  StatusUnactivated,
	}
}

// NewActivated creates the license record for a fresh successful bind.
func NewActivated(key, accountID, plan string, expiresAt, now time.Time) *License {
	return &License{
		Version:         1,
		Key:             key,
		BoundAccountID:  accountID,
		Plan:            plan,
		ActivatedAt:     now,
		LastValidatedAt: now,
		ExpiresAt:       expiresAt,
		Status:          StatusActive,
	}
}

// IsActivated returns true if a license key has been activated.
func (l *License) IsActivated() bool {
	return l != nil && l.Key != "" && l.Status != StatusUnactivated
}

// IsPro reports whether paid editor features are available. The grace
// period keeps them alive while the authority is unreachable; syncing is
// gated separately and requires StatusActive.
func (l *License) IsPro() bool {
	if l == nil {
		return false
	}
	return l.Status == StatusActive || l.Status == StatusGracePeriod
}

// NeedsValidation reports whether a validation attempt is due at now. A
// clock that reads earlier than the last validation is itself a reason to
// validate: the tamper check in the validation path must get a chance to
// run.
func (l *License) NeedsValidation(now time.Time, interval time.Duration) bool {
	if !l.IsActivated() {
		return false
	}
	if l.TimeTamperDetected {
		return true
	}
	if now.Before(l.LastValidatedAt) {
		return true
	}
	return now.Sub(l.LastValidatedAt) >= interval
}

// MarkValidated records a successful online validation.
func (l *License) MarkValidated(now time.Time) {
	l.Status = StatusActive
	l.LastValidatedAt = now
	l.GracePeriodEndsAt = nil
	l.TimeTamperDetected = false
}

// EnterGracePeriod opens the offline grace window. The deadline is set once
// per offline episode; repeated failures never extend it.
func (l *License) EnterGracePeriod(now time.Time, grace time.Duration) {
	if l.Status == StatusGracePeriod {
		return
	}
	deadline := now.Add(grace)
	l.GracePeriodEndsAt = &deadline
	l.Status = StatusGracePeriod
}

// GraceExpired reports whether now is past the grace deadline.
func (l *License) GraceExpired(now time.Time) bool {
	return l != nil && l.Status == StatusGracePeriod &&
		l.GracePeriodEndsAt != nil && now.After(*l.GracePeriodEndsAt)
}

// MarkExpired ends the license term or the grace window.
func (l *License) MarkExpired() {
	l.Status = StatusExpired
	l.GracePeriodEndsAt = nil
}

// MarkRevoked records an authority revocation.
func (l *License) MarkRevoked() {
	l.Status = StatusRevoked
	l.GracePeriodEndsAt = nil
}

// FlagTimeTamper records that the wall clock ran backwards since the last
// validation. The flag is a soft signal: it forces revalidation and clears
// on the next successful online validation.
func (l *License) FlagTimeTamper() {
	l.TimeTamperDetected = true
}

// GraceDaysRemaining returns the number of days remaining in the grace
// period, rounded up. Returns 0 if not in grace period.
func (l *License) GraceDaysRemaining(now time.Time) int {
	if l == nil || l.GracePeriodEndsAt == nil {
		return 0
	}
	remaining := l.GracePeriodEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours()/24) + 1 // Round up
}

// MaskedKey returns the license key with middle sections masked for display.
// e.g., "NEKO-****-****-5678"
func (l *License) MaskedKey() string {
	if l == nil || l.Key == "" {
		return ""
	}
	key := l.Key
	if len(key) <= 5 {
		return key
	}
	// For short keys, show first 5 chars and mask the rest
	if len(key) < 12 {
		return key[:5] + strings.Repeat("*", len(key)-5)
	}
	// For standard keys (NEKO-XXXX-XXXX-XXXX), show prefix, mask middle,
	// show last segment
	return key[:5] + "****-****-" + key[len(key)-4:]
}
