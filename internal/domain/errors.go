package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNoWalletAvailable = errors.New("no wallet available")
	ErrReceiptPending    = errors.New("receipt not yet available")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrUnknownSigner     = errors.New("no key for signer")
	ErrLockHeld          = errors.New("lock already held")
	ErrBelowProfitFloor  = errors.New("expected return below profit floor")
	ErrInvalidPosition   = errors.New("invalid position snapshot")
)
