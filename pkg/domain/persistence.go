package domain

import "context"

// TransactionView provides read-only access to ledger state. Slices returned
// are copies owned by the caller.
type TransactionView interface {
	NextAssetID() AssetID
	FindAsset(id AssetID) (Asset, bool)
	OwnerOf(id AssetID) (Account, bool)
	OwnedAssets(account Account) []AssetID
	Balance(account Account) Balance
	ListAssets() []Asset
	ListAccounts() []Account
}

// Transaction exposes the writes a persistence implementation must support
// within an atomic scope. Every write may fail; a failed write aborts the
// surrounding transaction and none of its writes become visible.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	SetNextAssetID(id AssetID) error
	CreateAsset(asset Asset) error
	SetOwner(id AssetID, account Account) error
	DeleteOwner(id AssetID) error
	SetOwnedAssets(account Account, ids []AssetID) error
	SetBalance(account Account, balance Balance) error
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetAsset(id AssetID) (Asset, bool)
	ListAssets() []Asset
	OwnerOf(id AssetID) (Account, bool)
	OwnedAssets(account Account) []AssetID
	Balance(account Account) Balance
	NextAssetID() AssetID
}
