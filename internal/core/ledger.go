package core

import (
	"fmt"

	"creatureledger/pkg/domain"
)

// Cross combines two genomes bit by bit: where mask has a 1 the bit comes
// from a, otherwise from b.
func Cross(a, b, mask domain.Genome) domain.Genome {
	var child domain.Genome
	for i := range child {
		child[i] = (a[i] & mask[i]) | (b[i] &^ mask[i])
	}
	return child
}

// Escrow moves funds between an account's free and reserved balance.
type Escrow struct{}

// Reserve locks amount from the free balance.
func (Escrow) Reserve(tx domain.Transaction, account domain.Account, amount domain.Amount) error {
	bal := tx.Balance(account)
	if bal.Free < amount {
		return fmt.Errorf("reserve %d for %s (free %d): %w", amount, account, bal.Free, domain.ErrInsufficientFunds)
	}
	bal.Free -= amount
	bal.Reserved += amount
	return tx.SetBalance(account, bal)
}

// Release unlocks up to amount back into the free balance. Only storage
// faults surface as errors.
func (Escrow) Release(tx domain.Transaction, account domain.Account, amount domain.Amount) error {
	bal := tx.Balance(account)
	moved := min(amount, bal.Reserved)
	bal.Reserved -= moved
	bal.Free += moved
	return tx.SetBalance(account, bal)
}

// Ownership maintains the asset -> owner map and each account's owned list.
type Ownership struct {
	maxOwned int
}

// NewOwnership bounds owned lists by the configured capacity.
func NewOwnership(params domain.Params) Ownership {
	return Ownership{maxOwned: int(params.MaxOwnedPerAccount)}
}

// Assign records account as the owner of id.
func (Ownership) Assign(tx domain.Transaction, id domain.AssetID, account domain.Account) error {
	return tx.SetOwner(id, account)
}

// Unassign clears the owner of id only if it is account.
func (Ownership) Unassign(tx domain.Transaction, id domain.AssetID, account domain.Account) error {
	if owner, ok := tx.OwnerOf(id); !ok || owner != account {
		return nil
	}
	return tx.DeleteOwner(id)
}

// ListAppend adds id to the account's owned list.
func (o Ownership) ListAppend(tx domain.Transaction, account domain.Account, id domain.AssetID) error {
	ids := tx.OwnedAssets(account)
	if len(ids) >= o.maxOwned {
		return fmt.Errorf("append asset %s to %s: %w", id, account, domain.ErrTooManyOwned)
	}
	return tx.SetOwnedAssets(account, append(ids, id))
}

// ListRemove drops id from the account's owned list. The last entry takes the
// removed slot, so list order is not stable.
func (Ownership) ListRemove(tx domain.Transaction, account domain.Account, id domain.AssetID) error {
	ids := tx.OwnedAssets(account)
	for i, held := range ids {
		if held != id {
			continue
		}
		last := len(ids) - 1
		ids[i] = ids[last]
		return tx.SetOwnedAssets(account, ids[:last])
	}
	return fmt.Errorf("asset %s in owned list of %s: %w", id, account, domain.ErrNotFound)
}

// AssetStore keeps immutable asset records.
type AssetStore struct{}

// Put stores a new asset; records are create-only.
func (AssetStore) Put(tx domain.Transaction, asset domain.Asset) error {
	return tx.CreateAsset(asset)
}

// Get looks up an asset record.
func (AssetStore) Get(view domain.TransactionView, id domain.AssetID) (domain.Asset, bool) {
	return view.FindAsset(id)
}
