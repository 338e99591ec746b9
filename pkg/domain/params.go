package domain

import (
	"errors"
	"fmt"
	"math"
)

// Params are deployment constants. They are fixed for the lifetime of a
// ledger and never mutated by operations.
type Params struct {
	// MaxOwnedPerAccount bounds every account's owned list.
	MaxOwnedPerAccount uint32
	// ReservePerAsset is the bond locked for each asset an account holds.
	ReservePerAsset Amount
	// IDBits is the identifier width; the counter is exhausted at 2^IDBits-1.
	IDBits uint8
}

// DefaultParams mirrors the reference runtime configuration.
func DefaultParams() Params {
	return Params{MaxOwnedPerAccount: 3, ReservePerAsset: 1_000, IDBits: 32}
}

// Validate reports configuration that would make the ledger unusable.
func (p Params) Validate() error {
	var errs []error
	if p.MaxOwnedPerAccount == 0 {
		errs = append(errs, errors.New("max owned per account must be positive"))
	}
	if p.IDBits == 0 || p.IDBits > 64 {
		errs = append(errs, fmt.Errorf("id bits must be within 1..64, got %d", p.IDBits))
	}
	return errors.Join(errs...)
}

// MaxAssetID is the largest value representable with the configured width.
// A counter equal to it can no longer allocate.
func (p Params) MaxAssetID() AssetID {
	if p.IDBits >= 64 {
		return AssetID(math.MaxUint64)
	}
	return AssetID(uint64(1)<<p.IDBits - 1)
}
