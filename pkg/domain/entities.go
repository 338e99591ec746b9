// Package domain defines the creature ledger's records, the persistence
// contracts implemented by infra packages and the rules evaluated inside
// transaction boundaries. It must not depend on internal packages.
package domain

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// EntityType identifies the kind of ledger record touched by a change.
type EntityType string

// Supported ledger entity types.
const (
	// EntityAsset is an immutable creature record.
	EntityAsset EntityType = "asset"
	// EntityOwnership is an asset -> account ownership entry.
	EntityOwnership EntityType = "ownership"
	// EntityOwnedList is an account's list of held asset identifiers.
	EntityOwnedList EntityType = "owned_list"
	// EntityBalance is an account's free and reserved funds.
	EntityBalance EntityType = "balance"
	// EntityAllocator is the next asset identifier counter.
	EntityAllocator EntityType = "allocator"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// AssetID uniquely identifies a creature for its entire existence.
type AssetID uint64

func (id AssetID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseAssetID parses the decimal representation produced by AssetID.String.
func ParseAssetID(s string) (AssetID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse asset id %q: %w", s, err)
	}
	return AssetID(v), nil
}

// GenomeSize is the fixed genome length in bytes.
const GenomeSize = 16

// Genome is the 16-byte trait encoding fixed when an asset is created.
type Genome [GenomeSize]byte

func (g Genome) String() string { return hex.EncodeToString(g[:]) }

// MarshalText encodes the genome as lowercase hex.
func (g Genome) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(GenomeSize))
	hex.Encode(out, g[:])
	return out, nil
}

// UnmarshalText decodes a 32 character hex genome.
func (g *Genome) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(GenomeSize) {
		return fmt.Errorf("genome must be %d hex characters, got %d", hex.EncodedLen(GenomeSize), len(text))
	}
	var decoded Genome
	if _, err := hex.Decode(decoded[:], text); err != nil {
		return fmt.Errorf("decode genome: %w", err)
	}
	*g = decoded
	return nil
}

// Asset is a creature record. It is never mutated after creation.
type Asset struct {
	ID     AssetID `json:"id"`
	Genome Genome  `json:"genome"`
}

// Account is an opaque, externally authenticated identity.
type Account string

// Amount is a quantity of funds in the smallest unit.
type Amount uint64

// Balance tracks the spendable and bonded funds of an account.
type Balance struct {
	Free     Amount `json:"free"`
	Reserved Amount `json:"reserved"`
}

// Total returns free plus reserved funds.
func (b Balance) Total() Amount { return b.Free + b.Reserved }

// Change describes a mutation applied to a ledger record during a transaction.
type Change struct {
	Entity   EntityType
	Action   Action
	EntityID string
	Before   any
	After    any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the transaction change set.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation prevents a commit.
func (r Result) HasBlocking() bool { return len(r.Blocking()) > 0 }

// RuleViolationError aborts a transaction whose result has blocking
// violations.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + describeViolations(blocking)
}
