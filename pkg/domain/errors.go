package domain

import "errors"

// Rejected-operation outcomes. Every one of them aborts the operation with no
// observable side effects; callers match them with errors.Is.
var (
	// ErrIndexExhausted reports the identifier counter sits at its maximum value.
	ErrIndexExhausted = errors.New("asset index exhausted")
	// ErrUnknownAsset reports a referenced asset id has no stored record.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrSameAsset reports breed was invoked with identical parent ids.
	ErrSameAsset = errors.New("parents must be distinct assets")
	// ErrNotOwner reports the caller does not own the referenced asset.
	ErrNotOwner = errors.New("caller is not the asset owner")
	// ErrInsufficientFunds reports the bond could not be reserved.
	ErrInsufficientFunds = errors.New("insufficient free balance")
	// ErrTooManyOwned reports the account's owned list is at capacity.
	ErrTooManyOwned = errors.New("account owns too many assets")
	// ErrNotFound reports an owned-list entry that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAssetExists reports a second write of an immutable asset record.
	ErrAssetExists = errors.New("asset already exists")
)
