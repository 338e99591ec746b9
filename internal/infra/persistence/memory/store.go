// Package memory provides an in-memory implementation of the ledger
// persistence store used for tests, ephemeral environments and as the
// transactional engine underneath the durable backends.
package memory

import (
	"context"
	"creatureledger/pkg/domain"
	"fmt"
	"sort"
	"sync"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Asset aliases domain.Asset for in-memory persistence operations.
	Asset = domain.Asset
	// AssetID aliases domain.AssetID.
	AssetID = domain.AssetID
	// Account aliases domain.Account.
	Account = domain.Account
	// Balance aliases domain.Balance.
	Balance = domain.Balance
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState is the single ledger aggregate: counter, asset records,
// ownership map, owned lists and balances.
type memoryState struct {
	nextID   AssetID
	assets   map[AssetID]Asset
	owners   map[AssetID]Account
	owned    map[Account][]AssetID
	balances map[Account]Balance
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	NextID   AssetID               `json:"next_id"`
	Assets   map[AssetID]Asset     `json:"assets"`
	Owners   map[AssetID]Account   `json:"owners"`
	Owned    map[Account][]AssetID `json:"owned"`
	Balances map[Account]Balance   `json:"balances"`
}

func newMemoryState() memoryState {
	return memoryState{
		assets:   make(map[AssetID]Asset),
		owners:   make(map[AssetID]Account),
		owned:    make(map[Account][]AssetID),
		balances: make(map[Account]Balance),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.nextID = s.nextID
	for k, v := range s.assets {
		cloned.assets[k] = v
	}
	for k, v := range s.owners {
		cloned.owners[k] = v
	}
	for k, v := range s.owned {
		cloned.owned[k] = cloneIDs(v)
	}
	for k, v := range s.balances {
		cloned.balances[k] = v
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		NextID:   cloned.nextID,
		Assets:   cloned.assets,
		Owners:   cloned.owners,
		Owned:    cloned.owned,
		Balances: cloned.balances,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.nextID = s.NextID
	for k, v := range s.Assets {
		state.assets[k] = v
	}
	for k, v := range s.Owners {
		state.owners[k] = v
	}
	for k, v := range s.Owned {
		if len(v) == 0 {
			continue
		}
		state.owned[k] = cloneIDs(v)
	}
	for k, v := range s.Balances {
		state.balances[k] = v
	}
	return state
}

func cloneIDs(ids []AssetID) []AssetID {
	if len(ids) == 0 {
		return nil
	}
	return append([]AssetID(nil), ids...)
}

// Store provides an in-memory transactional store for the ledger.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// transaction represents a mutation set applied to a private copy of the state.
type transaction struct {
	state   memoryState
	changes []Change
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) NextAssetID() AssetID { return v.state.nextID }

// FindAsset retrieves an asset by ID from the snapshot.
func (v transactionView) FindAsset(id AssetID) (Asset, bool) {
	a, ok := v.state.assets[id]
	return a, ok
}

// OwnerOf returns the owning account of an asset.
func (v transactionView) OwnerOf(id AssetID) (Account, bool) {
	a, ok := v.state.owners[id]
	return a, ok
}

// OwnedAssets returns a copy of the account's owned list.
func (v transactionView) OwnedAssets(account Account) []AssetID {
	return cloneIDs(v.state.owned[account])
}

// Balance returns the account balance; unknown accounts have a zero balance.
func (v transactionView) Balance(account Account) Balance {
	return v.state.balances[account]
}

// ListAssets returns all assets ordered by ID.
func (v transactionView) ListAssets() []Asset {
	out := make([]Asset, 0, len(v.state.assets))
	for _, a := range v.state.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAccounts returns every account holding assets or funds, sorted.
func (v transactionView) ListAccounts() []Account {
	seen := make(map[Account]struct{}, len(v.state.balances)+len(v.state.owned))
	for acct := range v.state.balances {
		seen[acct] = struct{}{}
	}
	for acct := range v.state.owned {
		seen[acct] = struct{}{}
	}
	out := make([]Account, 0, len(seen))
	for acct := range seen {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn and every blocking rule pass.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit is RunInTransaction with a hook that receives the
// staged state after the rules pass and before it replaces the live state.
// The hook runs under the write lock, so readers never see state it has not
// accepted; a hook error discards the transaction.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, beforeSwap func(Snapshot) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone()}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if beforeSwap != nil {
		if err := beforeSwap(snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView { return newTransactionView(&tx.state) }

func (tx *transaction) NextAssetID() AssetID                  { return tx.view().NextAssetID() }
func (tx *transaction) FindAsset(id AssetID) (Asset, bool)    { return tx.view().FindAsset(id) }
func (tx *transaction) OwnerOf(id AssetID) (Account, bool)    { return tx.view().OwnerOf(id) }
func (tx *transaction) OwnedAssets(account Account) []AssetID { return tx.view().OwnedAssets(account) }
func (tx *transaction) Balance(account Account) Balance       { return tx.view().Balance(account) }
func (tx *transaction) ListAssets() []Asset                   { return tx.view().ListAssets() }
func (tx *transaction) ListAccounts() []Account               { return tx.view().ListAccounts() }

// SetNextAssetID stores the allocator counter.
func (tx *transaction) SetNextAssetID(id AssetID) error {
	before := tx.state.nextID
	tx.state.nextID = id
	tx.recordChange(Change{Entity: domain.EntityAllocator, Action: domain.ActionUpdate, Before: before, After: id})
	return nil
}

// CreateAsset stores a new immutable asset record.
func (tx *transaction) CreateAsset(asset Asset) error {
	if _, exists := tx.state.assets[asset.ID]; exists {
		return fmt.Errorf("asset %d: %w", asset.ID, domain.ErrAssetExists)
	}
	tx.state.assets[asset.ID] = asset
	tx.recordChange(Change{Entity: domain.EntityAsset, Action: domain.ActionCreate, EntityID: asset.ID.String(), After: asset})
	return nil
}

// SetOwner points the ownership map entry for id at account.
func (tx *transaction) SetOwner(id AssetID, account Account) error {
	before, existed := tx.state.owners[id]
	tx.state.owners[id] = account
	change := Change{Entity: domain.EntityOwnership, Action: domain.ActionCreate, EntityID: id.String(), After: account}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.recordChange(change)
	return nil
}

// DeleteOwner clears the ownership map entry for id.
func (tx *transaction) DeleteOwner(id AssetID) error {
	before, ok := tx.state.owners[id]
	if !ok {
		return nil
	}
	delete(tx.state.owners, id)
	tx.recordChange(Change{Entity: domain.EntityOwnership, Action: domain.ActionDelete, EntityID: id.String(), Before: before})
	return nil
}

// SetOwnedAssets replaces an account's owned list. An empty list removes the entry.
func (tx *transaction) SetOwnedAssets(account Account, ids []AssetID) error {
	before := cloneIDs(tx.state.owned[account])
	if len(ids) == 0 {
		delete(tx.state.owned, account)
	} else {
		tx.state.owned[account] = cloneIDs(ids)
	}
	tx.recordChange(Change{Entity: domain.EntityOwnedList, Action: domain.ActionUpdate, EntityID: string(account), Before: before, After: cloneIDs(ids)})
	return nil
}

// SetBalance stores an account balance. A zero balance removes the entry.
func (tx *transaction) SetBalance(account Account, balance Balance) error {
	before := tx.state.balances[account]
	if balance == (Balance{}) {
		delete(tx.state.balances, account)
	} else {
		tx.state.balances[account] = balance
	}
	tx.recordChange(Change{Entity: domain.EntityBalance, Action: domain.ActionUpdate, EntityID: string(account), Before: before, After: balance})
	return nil
}

// GetAsset retrieves an asset by ID.
func (s *Store) GetAsset(id AssetID) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assets[id]
	return a, ok
}

// ListAssets returns all assets ordered by ID.
func (s *Store) ListAssets() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAssets()
}

// OwnerOf returns the current owner of an asset.
func (s *Store) OwnerOf(id AssetID) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.owners[id]
	return a, ok
}

// OwnedAssets returns a copy of the account's owned list.
func (s *Store) OwnedAssets(account Account) []AssetID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIDs(s.state.owned[account])
}

// Balance returns the account balance.
func (s *Store) Balance(account Account) Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.balances[account]
}

// NextAssetID returns the allocator counter.
func (s *Store) NextAssetID() AssetID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.nextID
}
