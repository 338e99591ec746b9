// Package ledgerapi exposes the creature ledger over HTTP.
package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"creatureledger/internal/core"
	"creatureledger/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Ledger is the subset of core.Service the handler drives.
type Ledger interface {
	Mint(ctx context.Context, caller domain.Account) (domain.Asset, domain.Result, error)
	Breed(ctx context.Context, caller domain.Account, parent1, parent2 domain.AssetID) (domain.Asset, domain.Result, error)
	Transfer(ctx context.Context, caller domain.Account, id domain.AssetID, newOwner domain.Account) (domain.Result, error)
	Asset(id domain.AssetID) (domain.Asset, bool)
	OwnerOf(id domain.AssetID) (domain.Account, bool)
	OwnedBy(account domain.Account) []domain.AssetID
	Balance(account domain.Account) domain.Balance
}

var _ Ledger = (*core.Service)(nil)

// Creature is the wire form of an asset with its owner.
type Creature struct {
	ID     domain.AssetID `json:"id"`
	Genome domain.Genome  `json:"genome"`
	Owner  domain.Account `json:"owner,omitempty"`
}

// BreedRequest names the two parents of a new creature.
type BreedRequest struct {
	Parent1 domain.AssetID `json:"parent1"`
	Parent2 domain.AssetID `json:"parent2"`
}

// TransferRequest names the receiving account.
type TransferRequest struct {
	To domain.Account `json:"to"`
}

// Handler routes creature ledger requests. Reads are public; writes act for
// the account resolved by Auth.
type Handler struct {
	ledger Ledger
	auth   Authenticator
	logger core.Logger
	mux    *http.ServeMux
}

// NewHandler constructs the HTTP surface of ledger. A nil logger discards
// server-side failures.
func NewHandler(ledger Ledger, auth Authenticator, logger core.Logger) *Handler {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	if logger == nil {
		logger = discardLogger{}
	}
	h := &Handler{ledger: ledger, auth: auth, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/v1/creatures", h.handleMint)
	h.mux.HandleFunc("POST /api/v1/creatures/breed", h.handleBreed)
	h.mux.HandleFunc("POST /api/v1/creatures/{id}/transfer", h.handleTransfer)
	h.mux.HandleFunc("GET /api/v1/creatures/{id}", h.handleGetCreature)
	h.mux.HandleFunc("GET /api/v1/accounts/{account}/creatures", h.handleOwned)
	h.mux.HandleFunc("GET /api/v1/accounts/{account}/balance", h.handleBalance)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	asset, _, err := h.ledger.Mint(r.Context(), caller)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"creature": Creature{ID: asset.ID, Genome: asset.Genome, Owner: caller}})
}

func (h *Handler) handleBreed(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req BreedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, _, err := h.ledger.Breed(r.Context(), caller, req.Parent1, req.Parent2)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"creature": Creature{ID: asset.ID, Genome: asset.Genome, Owner: caller}})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseAssetID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	if _, err := h.ledger.Transfer(r.Context(), caller, id, req.To); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	asset, _ := h.ledger.Asset(id)
	owner, _ := h.ledger.OwnerOf(id)
	writeJSON(w, http.StatusOK, map[string]any{"creature": Creature{ID: asset.ID, Genome: asset.Genome, Owner: owner}})
}

func (h *Handler) handleGetCreature(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseAssetID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, ok := h.ledger.Asset(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("asset %s: %s", id, domain.ErrUnknownAsset))
		return
	}
	owner, _ := h.ledger.OwnerOf(id)
	writeJSON(w, http.StatusOK, map[string]any{"creature": Creature{ID: asset.ID, Genome: asset.Genome, Owner: owner}})
}

func (h *Handler) handleOwned(w http.ResponseWriter, r *http.Request) {
	account := domain.Account(r.PathValue("account"))
	ids := slices.Clone(h.ledger.OwnedBy(account))
	slices.Sort(ids)
	creatures := make([]Creature, 0, len(ids))
	for _, id := range ids {
		asset, ok := h.ledger.Asset(id)
		if !ok {
			continue
		}
		creatures = append(creatures, Creature{ID: asset.ID, Genome: asset.Genome, Owner: account})
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "creatures": creatures})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := domain.Account(r.PathValue("account"))
	bal := h.ledger.Balance(account)
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "free": bal.Free, "reserved": bal.Reserved})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	account, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return account, true
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("ledger request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// StatusFor maps ledger errors to HTTP status codes.
func StatusFor(err error) int {
	var violation domain.RuleViolationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnknownAsset), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSameAsset):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrTooManyOwned), errors.Is(err, domain.ErrIndexExhausted):
		return http.StatusConflict
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
