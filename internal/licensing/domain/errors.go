package domain

import "errors"

var (
	// ErrNotActivated indicates no license key is activated on this install.
	ErrNotActivated = errors.New("no license activated")

	// ErrInvalidKey indicates the key failed the local shape check or the
	// authority does not recognize it.
	ErrInvalidKey = errors.New("invalid license key")

	// ErrKeyRevoked indicates the authority has revoked the key.
	ErrKeyRevoked = errors.New("license key revoked")

	// ErrAlreadyBound indicates the key is bound to a different account.
	ErrAlreadyBound = errors.New("license key already bound to another account")

	// ErrDeviceLimitReached indicates the key reached its device cap.
	ErrDeviceLimitReached = errors.New("device limit reached for license key")

	// ErrNetworkUnavailable indicates the license authority could not be
	// reached.
	ErrNetworkUnavailable = errors.New("license authority unreachable")
)
