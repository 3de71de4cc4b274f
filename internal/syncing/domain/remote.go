package domain

import (
	"context"
	"time"
)

// RemoteInfo describes the remote copy of the library without its content.
type RemoteInfo struct {
	Exists     bool
	ModifiedAt time.Time
}

// RemoteSnapshot is the remote copy of the library.
type RemoteSnapshot struct {
	ModifiedAt time.Time
	Content    []byte
}

// LocalSnapshot is the local copy of the library.
type LocalSnapshot struct {
	ModifiedAt time.Time
	Content    []byte
}

// RemoteStore is the opaque remote blob store holding one library per
// account. Implementations map transport failures to ErrNetworkUnavailable
// and credential rejections to ErrUnauthorized.
type RemoteStore interface {
	// Exists checks whether remote data exists for the account.
	Exists(ctx context.Context) (*RemoteInfo, error)

	// Pull downloads the remote library.
	Pull(ctx context.Context) (*RemoteSnapshot, error)

	// Push uploads the local library and returns the modification time the
	// store recorded for it.
	Push(ctx context.Context, content []byte) (time.Time, error)
}

// LocalStore reads and writes the synced local library.
type LocalStore interface {
	// Snapshot returns the current local content.
	// Returns nil, nil if the library does not exist yet.
	Snapshot(ctx context.Context) (*LocalSnapshot, error)

	// Apply replaces the local content with a pulled remote snapshot,
	// stamping the remote modification time on it.
	Apply(ctx context.Context, snap *RemoteSnapshot) error

	// MarkPushed records the remote modification time for content that was
	// just uploaded, so an unchanged library compares equal to the remote
	// on the next cycle. A library modified since the snapshot was taken
	// is left alone.
	MarkPushed(ctx context.Context, snap *LocalSnapshot, remoteModifiedAt time.Time) error
}

// Lease serializes sync cycles across devices sharing an account. Acquire
// returns ErrLeaseHeld while another device is mid-cycle.
type Lease interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
}
