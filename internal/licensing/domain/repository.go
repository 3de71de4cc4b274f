package domain

import "context"

// Repository stores the single license record bound to this device.
type Repository interface {
	// Load returns the stored license, or nil, nil before first activation.
	Load(ctx context.Context) (*License, error)

	// Save persists the license record.
	Save(ctx context.Context, license *License) error

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context) error

	// Exists reports whether a record is stored.
	Exists(ctx context.Context) bool
}
