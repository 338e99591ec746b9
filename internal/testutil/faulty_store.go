// Package testutil hosts helpers shared by ledger tests. It only depends on
// the domain contracts so any package's tests can import it.
package testutil

import (
	"context"
	"errors"
	"sync"

	"creatureledger/pkg/domain"
)

// ErrInjected is returned by the write a FaultyStore was told to fail.
var ErrInjected = errors.New("injected storage fault")

// FaultyStore wraps a PersistentStore and fails the N-th write inside each
// transaction. Reads are passed through untouched.
type FaultyStore struct {
	domain.PersistentStore

	mu         sync.Mutex
	failAt     int
	lastWrites int
}

// NewFaultyStore wraps store with fault injection disabled.
func NewFaultyStore(store domain.PersistentStore) *FaultyStore {
	return &FaultyStore{PersistentStore: store}
}

// FailAt arms the store to fail the n-th write (1-based) of every following
// transaction. Zero disarms it.
func (f *FaultyStore) FailAt(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = n
}

// LastWrites reports how many writes the most recent transaction attempted,
// counting the failed one.
func (f *FaultyStore) LastWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastWrites
}

// RunInTransaction implements domain.PersistentStore.
func (f *FaultyStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	f.mu.Lock()
	failAt := f.failAt
	f.mu.Unlock()
	ftx := &faultyTx{failAt: failAt}
	res, err := f.PersistentStore.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ftx.Transaction = tx
		return fn(ftx)
	})
	f.mu.Lock()
	f.lastWrites = ftx.writes
	f.mu.Unlock()
	return res, err
}

type faultyTx struct {
	domain.Transaction
	failAt int
	writes int
}

func (t *faultyTx) write() error {
	t.writes++
	if t.failAt > 0 && t.writes == t.failAt {
		return ErrInjected
	}
	return nil
}

func (t *faultyTx) SetNextAssetID(id domain.AssetID) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.SetNextAssetID(id)
}

func (t *faultyTx) CreateAsset(asset domain.Asset) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.CreateAsset(asset)
}

func (t *faultyTx) SetOwner(id domain.AssetID, account domain.Account) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.SetOwner(id, account)
}

func (t *faultyTx) DeleteOwner(id domain.AssetID) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.DeleteOwner(id)
}

func (t *faultyTx) SetOwnedAssets(account domain.Account, ids []domain.AssetID) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.SetOwnedAssets(account, ids)
}

func (t *faultyTx) SetBalance(account domain.Account, balance domain.Balance) error {
	if err := t.write(); err != nil {
		return err
	}
	return t.Transaction.SetBalance(account, balance)
}
