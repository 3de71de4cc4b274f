package domain

import "errors"

var (
	// ErrNetworkUnavailable indicates the remote store could not be
	// reached. Cycles failing this way follow the retry ladder.
	ErrNetworkUnavailable = errors.New("remote store unreachable")

	// ErrUnauthorized indicates the remote store rejected the credentials.
	// Cycles failing this way abort without retries.
	ErrUnauthorized = errors.New("remote store rejected credentials")

	// ErrLeaseHeld indicates another device is mid-cycle on this account.
	ErrLeaseHeld = errors.New("sync lease held by another device")
)
