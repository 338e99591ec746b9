package core

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"creatureledger/pkg/domain"
)

// Rule names registered by NewDefaultRulesEngine.
const (
	RuleOwnershipConsistency = "ownership_consistency"
	RuleEscrowBacking        = "escrow_backing"
	RuleOwnedCap             = "owned_cap"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the ledger invariants for
// the given parameters.
func NewDefaultRulesEngine(params domain.Params) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewOwnershipConsistencyRule())
	engine.Register(NewEscrowBackingRule(params.ReservePerAsset))
	engine.Register(NewOwnedCapRule(params.MaxOwnedPerAccount))
	return engine
}

// scope is the set of assets and accounts a change set touched; rules only
// inspect these.
type scope struct {
	assets   map[domain.AssetID]struct{}
	accounts map[domain.Account]struct{}
}

func scopeOf(changes []domain.Change) scope {
	sc := scope{assets: make(map[domain.AssetID]struct{}), accounts: make(map[domain.Account]struct{})}
	addAccount := func(v any) {
		if acct, ok := v.(domain.Account); ok && acct != "" {
			sc.accounts[acct] = struct{}{}
		}
	}
	addIDs := func(v any) {
		if ids, ok := v.([]domain.AssetID); ok {
			for _, id := range ids {
				sc.assets[id] = struct{}{}
			}
		}
	}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityAsset, domain.EntityOwnership:
			if id, err := domain.ParseAssetID(change.EntityID); err == nil {
				sc.assets[id] = struct{}{}
			}
			addAccount(change.Before)
			addAccount(change.After)
		case domain.EntityOwnedList:
			sc.accounts[domain.Account(change.EntityID)] = struct{}{}
			addIDs(change.Before)
			addIDs(change.After)
		case domain.EntityBalance:
			sc.accounts[domain.Account(change.EntityID)] = struct{}{}
		}
	}
	return sc
}

func (sc scope) sortedAccounts() []domain.Account {
	out := make([]domain.Account, 0, len(sc.accounts))
	for acct := range sc.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (sc scope) sortedAssets() []domain.AssetID {
	out := make([]domain.AssetID, 0, len(sc.assets))
	for id := range sc.assets {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// NewOwnershipConsistencyRule blocks commits where the ownership map and the
// owned lists disagree.
func NewOwnershipConsistencyRule() domain.Rule {
	return ownershipConsistencyRule{}
}

type ownershipConsistencyRule struct{}

func (ownershipConsistencyRule) Name() string { return RuleOwnershipConsistency }

func (ownershipConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	sc := scopeOf(changes)
	res := domain.Result{}
	block := func(entity domain.EntityType, id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleOwnershipConsistency,
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, id := range sc.sortedAssets() {
		_, exists := view.FindAsset(id)
		owner, owned := view.OwnerOf(id)
		switch {
		case exists && !owned:
			block(domain.EntityAsset, id.String(), fmt.Sprintf("asset %s has no owner", id))
		case !exists && owned:
			block(domain.EntityOwnership, id.String(), fmt.Sprintf("owner %s recorded for missing asset %s", owner, id))
		case owned && !slices.Contains(view.OwnedAssets(owner), id):
			block(domain.EntityOwnership, id.String(), fmt.Sprintf("asset %s missing from owned list of %s", id, owner))
		}
	}
	for _, acct := range sc.sortedAccounts() {
		seen := make(map[domain.AssetID]struct{})
		for _, id := range view.OwnedAssets(acct) {
			if _, dup := seen[id]; dup {
				block(domain.EntityOwnedList, string(acct), fmt.Sprintf("asset %s listed twice for %s", id, acct))
				continue
			}
			seen[id] = struct{}{}
			if owner, ok := view.OwnerOf(id); !ok || owner != acct {
				block(domain.EntityOwnedList, string(acct), fmt.Sprintf("asset %s listed for %s but owned by %q", id, acct, owner))
			}
		}
	}
	return res, nil
}

// NewEscrowBackingRule blocks commits where an account's reserved balance is
// not exactly one bond per held asset.
func NewEscrowBackingRule(perAsset domain.Amount) domain.Rule {
	return escrowBackingRule{perAsset: perAsset}
}

type escrowBackingRule struct {
	perAsset domain.Amount
}

func (escrowBackingRule) Name() string { return RuleEscrowBacking }

func (r escrowBackingRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, acct := range scopeOf(changes).sortedAccounts() {
		held := domain.Amount(len(view.OwnedAssets(acct)))
		want := held * r.perAsset
		if got := view.Balance(acct).Reserved; got != want {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleEscrowBacking,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("account %s reserves %d for %d assets, expected %d", acct, got, held, want),
				Entity:   domain.EntityBalance,
				EntityID: string(acct),
			})
		}
	}
	return res, nil
}

// NewOwnedCapRule blocks commits that leave an owned list above capacity.
func NewOwnedCapRule(maxOwned uint32) domain.Rule {
	return ownedCapRule{maxOwned: int(maxOwned)}
}

type ownedCapRule struct {
	maxOwned int
}

func (ownedCapRule) Name() string { return RuleOwnedCap }

func (r ownedCapRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, acct := range scopeOf(changes).sortedAccounts() {
		if n := len(view.OwnedAssets(acct)); n > r.maxOwned {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleOwnedCap,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("account %s holds %d assets, capacity %d", acct, n, r.maxOwned),
				Entity:   domain.EntityOwnedList,
				EntityID: string(acct),
			})
		}
	}
	return res, nil
}
