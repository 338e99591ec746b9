package domain

import "time"

// EventKind names a ledger notification.
type EventKind string

// Notifications emitted after an operation commits.
const (
	EventCreated     EventKind = "created"
	EventBred        EventKind = "bred"
	EventTransferred EventKind = "transferred"
)

// Event is a notification observable by external subscribers. Account is the
// caller for created/bred and the previous owner for transferred; To is only
// set for transfers and Genome only for created/bred.
type Event struct {
	Kind       EventKind `json:"kind"`
	Account    Account   `json:"account"`
	To         Account   `json:"to,omitempty"`
	AssetID    AssetID   `json:"asset_id"`
	Genome     *Genome   `json:"genome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Created builds a created notification.
func Created(account Account, id AssetID, genome Genome) Event {
	return Event{Kind: EventCreated, Account: account, AssetID: id, Genome: &genome}
}

// Bred builds a bred notification.
func Bred(account Account, id AssetID, genome Genome) Event {
	return Event{Kind: EventBred, Account: account, AssetID: id, Genome: &genome}
}

// Transferred builds a transferred notification.
func Transferred(from, to Account, id AssetID) Event {
	return Event{Kind: EventTransferred, Account: from, To: to, AssetID: id}
}
