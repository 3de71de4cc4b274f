package domain

import (
	"context"
	"time"
)

// EntitlementStatus is the authority's verdict on a bound key. The set is
// closed; implementations reject verdicts outside it at the wire boundary.
type EntitlementStatus string

const (
	EntitlementActive  EntitlementStatus = "active"
	EntitlementExpired EntitlementStatus = "expired"
	EntitlementRevoked EntitlementStatus = "revoked"
)

// BindResult is the authority's response to a successful bind.
type BindResult struct {
	Plan      string
	ExpiresAt time.Time
}

// EntitlementResult is the authority's response to an entitlement check.
type EntitlementResult struct {
	Status    EntitlementStatus
	Plan      string
	ExpiresAt time.Time
}

// IdentityAuthority is the remote licensing service. Implementations map
// transport failures to ErrNetworkUnavailable and authority rejections to
// the sentinel errors in this package.
type IdentityAuthority interface {
	// Bind activates key for the account on this device.
	Bind(ctx context.Context, key, accountID, deviceID string) (*BindResult, error)

	// CheckEntitlement revalidates a bound key.
	CheckEntitlement(ctx context.Context, key, accountID string) (*EntitlementResult, error)

	// Unbind releases the key binding for this device.
	Unbind(ctx context.Context, key, accountID, deviceID string) error
}
