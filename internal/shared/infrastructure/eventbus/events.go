package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Routing keys published on the nekosync.events exchange.
const (
	RouteLicenseActivated   = "license.activated"
	RouteLicenseDeactivated = "license.deactivated"
	RouteLicenseValidated   = "license.validated"
	RouteLicenseDowngraded  = "license.downgraded"
	RouteSyncCompleted      = "sync.completed"
	RouteSyncFailed         = "sync.failed"
)

// LicenseEvent is the payload for license.* events.
type LicenseEvent struct {
	Event      string    `json:"event"`
	AccountID  string    `json:"account_id,omitempty"`
	MaskedKey  string    `json:"masked_key,omitempty"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SyncEvent is the payload for sync.* events.
type SyncEvent struct {
	Event      string    `json:"event"`
	CycleID    string    `json:"cycle_id"`
	AccountID  string    `json:"account_id,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Manual     bool      `json:"manual"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PublishJSON marshals payload and publishes it under routingKey.
func PublishJSON(ctx context.Context, pub Publisher, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, routingKey, body)
}
