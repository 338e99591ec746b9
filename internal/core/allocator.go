package core

import (
	"fmt"

	"creatureledger/pkg/domain"
)

// Allocator hands out asset identifiers from the persisted counter. Allocate
// and Commit must run inside the same transaction so an aborted operation
// never consumes an identifier.
type Allocator struct {
	max domain.AssetID
}

// NewAllocator bounds allocation by the configured identifier width.
func NewAllocator(params domain.Params) Allocator {
	return Allocator{max: params.MaxAssetID()}
}

// Allocate returns the next identifier without advancing the counter.
func (a Allocator) Allocate(view domain.TransactionView) (domain.AssetID, error) {
	id := view.NextAssetID()
	if id >= a.max {
		return 0, fmt.Errorf("allocate asset id %d: %w", id, domain.ErrIndexExhausted)
	}
	return id, nil
}

// Commit advances the counter past id.
func (a Allocator) Commit(tx domain.Transaction, id domain.AssetID) error {
	return tx.SetNextAssetID(id + 1)
}
