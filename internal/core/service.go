// Package core implements the creature ledger: identifier allocation, genome
// synthesis and crossover, escrow, ownership bookkeeping and the Mint, Breed
// and Transfer operations that combine them atomically.
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"creatureledger/internal/infra/persistence/memory"
	"creatureledger/pkg/domain"
)

const (
	opMint     = "mint"
	opBreed    = "breed"
	opTransfer = "transfer"
	opDeposit  = "deposit"
)

// Option configures optional Service collaborators.
type Option func(*serviceOptions)

type serviceOptions struct {
	params  domain.Params
	entropy EntropySource
	sink    NotificationSink
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		params:  domain.DefaultParams(),
		sink:    noopSink{},
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
}

// WithParams overrides the ledger constants.
func WithParams(params domain.Params) Option {
	return func(o *serviceOptions) { o.params = params }
}

// WithEntropy overrides the genome entropy source.
func WithEntropy(source EntropySource) Option {
	return func(o *serviceOptions) {
		if source != nil {
			o.entropy = source
		}
	}
}

// WithNotificationSink sets where committed events are published.
func WithNotificationSink(sink NotificationSink) Option {
	return func(o *serviceOptions) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Service orchestrates ledger operations. Each operation runs in exactly one
// store transaction; any failure leaves no trace in the ledger and emits no
// notification.
type Service struct {
	store     domain.PersistentStore
	params    domain.Params
	allocator Allocator
	genomes   *GenomeGenerator
	escrow    Escrow
	ownership Ownership
	assets    AssetStore
	sink      NotificationSink
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.entropy == nil {
		cfg.entropy = NewEpochEntropy(DefaultEntropyRefresh)
	}
	return &Service{
		store:     store,
		params:    cfg.params,
		allocator: NewAllocator(cfg.params),
		genomes:   NewGenomeGenerator(cfg.entropy),
		ownership: NewOwnership(cfg.params),
		sink:      cfg.sink,
		logger:    cfg.logger,
		audit:     cfg.audit,
		metrics:   cfg.metrics,
		tracer:    cfg.tracer,
		clock:     cfg.clock,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store guarded
// by the default invariant rules for params.
func NewInMemoryService(params domain.Params, opts ...Option) *Service {
	store := memory.NewStore(NewDefaultRulesEngine(params))
	return NewService(store, append([]Option{WithParams(params)}, opts...)...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Params returns the ledger constants the service enforces.
func (s *Service) Params() domain.Params { return s.params }

func (s *Service) now() time.Time { return s.clock.Now() }

// run executes fn in a store transaction wrapped with tracing, metrics,
// audit and logging. fn reports the entity it acted on for the audit trail.
func (s *Service) run(ctx context.Context, op string, caller domain.Account, fn func(tx domain.Transaction) (string, error)) (domain.Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, caller, entityID, duration, err)
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
	}
	if err != nil {
		var violation domain.RuleViolationError
		if errors.As(err, &violation) {
			s.logger.Error("ledger invariant violated", "operation", op, "caller", caller, "error", err)
		} else {
			s.logger.Info("operation rejected", "operation", op, "caller", caller, "error", err)
		}
		return res, err
	}
	s.logger.Debug("operation committed", "operation", op, "caller", caller, "entity_id", entityID, "duration", duration)
	return res, nil
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	event.OccurredAt = s.now()
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("publish notification failed", "kind", event.Kind, "asset_id", event.AssetID, "error", err)
	}
}

// issue stores a newly allocated asset, hands it to owner and advances the
// counter. The owner's bond must already be reserved.
func (s *Service) issue(tx domain.Transaction, owner domain.Account, asset domain.Asset) error {
	if err := s.assets.Put(tx, asset); err != nil {
		return err
	}
	if err := s.ownership.Assign(tx, asset.ID, owner); err != nil {
		return err
	}
	if err := s.ownership.ListAppend(tx, owner, asset.ID); err != nil {
		return err
	}
	return s.allocator.Commit(tx, asset.ID)
}

// Mint creates an asset with a freshly generated genome for caller and locks
// its bond.
func (s *Service) Mint(ctx context.Context, caller domain.Account) (domain.Asset, domain.Result, error) {
	var minted domain.Asset
	res, err := s.run(ctx, opMint, caller, func(tx domain.Transaction) (string, error) {
		id, err := s.allocator.Allocate(tx)
		if err != nil {
			return "", err
		}
		if err := s.escrow.Reserve(tx, caller, s.params.ReservePerAsset); err != nil {
			return id.String(), err
		}
		asset := domain.Asset{ID: id, Genome: s.genomes.Generate(caller)}
		if err := s.issue(tx, caller, asset); err != nil {
			return id.String(), err
		}
		minted = asset
		return id.String(), nil
	})
	if err != nil {
		return domain.Asset{}, res, fmt.Errorf("mint: %w", err)
	}
	s.publish(ctx, domain.Created(caller, minted.ID, minted.Genome))
	return minted, res, nil
}

// Breed creates a child of two distinct existing assets for caller. The
// caller does not need to own either parent.
func (s *Service) Breed(ctx context.Context, caller domain.Account, parent1, parent2 domain.AssetID) (domain.Asset, domain.Result, error) {
	var child domain.Asset
	res, err := s.run(ctx, opBreed, caller, func(tx domain.Transaction) (string, error) {
		if parent1 == parent2 {
			return "", fmt.Errorf("parent %s given twice: %w", parent1, domain.ErrSameAsset)
		}
		p1, ok := s.assets.Get(tx, parent1)
		if !ok {
			return "", fmt.Errorf("parent %s: %w", parent1, domain.ErrUnknownAsset)
		}
		p2, ok := s.assets.Get(tx, parent2)
		if !ok {
			return "", fmt.Errorf("parent %s: %w", parent2, domain.ErrUnknownAsset)
		}
		id, err := s.allocator.Allocate(tx)
		if err != nil {
			return "", err
		}
		if err := s.escrow.Reserve(tx, caller, s.params.ReservePerAsset); err != nil {
			return id.String(), err
		}
		mask := s.genomes.Generate(caller)
		asset := domain.Asset{ID: id, Genome: Cross(p1.Genome, p2.Genome, mask)}
		if err := s.issue(tx, caller, asset); err != nil {
			return id.String(), err
		}
		child = asset
		return id.String(), nil
	})
	if err != nil {
		return domain.Asset{}, res, fmt.Errorf("breed: %w", err)
	}
	s.publish(ctx, domain.Bred(caller, child.ID, child.Genome))
	return child, res, nil
}

// Transfer moves an asset the caller owns to newOwner, releasing the
// caller's bond and reserving one from newOwner. Transferring to oneself is
// permitted and leaves balances unchanged.
func (s *Service) Transfer(ctx context.Context, caller domain.Account, id domain.AssetID, newOwner domain.Account) (domain.Result, error) {
	res, err := s.run(ctx, opTransfer, caller, func(tx domain.Transaction) (string, error) {
		entityID := id.String()
		if _, ok := s.assets.Get(tx, id); !ok {
			return entityID, fmt.Errorf("asset %s: %w", id, domain.ErrUnknownAsset)
		}
		if owner, ok := tx.OwnerOf(id); !ok || owner != caller {
			return entityID, fmt.Errorf("asset %s: %w", id, domain.ErrNotOwner)
		}
		if err := s.ownership.ListRemove(tx, caller, id); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return entityID, err
			}
			s.logger.Error("owned list out of sync with ownership map", "asset_id", id, "owner", caller)
			return entityID, fmt.Errorf("asset %s: %w", id, domain.ErrNotOwner)
		}
		if err := s.escrow.Release(tx, caller, s.params.ReservePerAsset); err != nil {
			return entityID, err
		}
		if err := s.escrow.Reserve(tx, newOwner, s.params.ReservePerAsset); err != nil {
			return entityID, err
		}
		if err := s.ownership.Assign(tx, id, newOwner); err != nil {
			return entityID, err
		}
		if err := s.ownership.ListAppend(tx, newOwner, id); err != nil {
			return entityID, err
		}
		return entityID, nil
	})
	if err != nil {
		return res, fmt.Errorf("transfer: %w", err)
	}
	s.publish(ctx, domain.Transferred(caller, newOwner, id))
	return res, nil
}

// Deposit credits free funds to an account.
func (s *Service) Deposit(ctx context.Context, account domain.Account, amount domain.Amount) (domain.Balance, error) {
	var updated domain.Balance
	_, err := s.run(ctx, opDeposit, account, func(tx domain.Transaction) (string, error) {
		bal := tx.Balance(account)
		if amount > domain.Amount(math.MaxUint64)-bal.Total() {
			return string(account), fmt.Errorf("deposit %d to %s overflows balance", amount, account)
		}
		bal.Free += amount
		if err := tx.SetBalance(account, bal); err != nil {
			return string(account), err
		}
		updated = bal
		return string(account), nil
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("deposit: %w", err)
	}
	return updated, nil
}

// Asset returns the stored record for id.
func (s *Service) Asset(id domain.AssetID) (domain.Asset, bool) { return s.store.GetAsset(id) }

// OwnerOf returns the current owner of id.
func (s *Service) OwnerOf(id domain.AssetID) (domain.Account, bool) { return s.store.OwnerOf(id) }

// OwnedBy returns the assets held by account. Order is not meaningful.
func (s *Service) OwnedBy(account domain.Account) []domain.AssetID {
	return s.store.OwnedAssets(account)
}

// Balance returns the free and reserved funds of account.
func (s *Service) Balance(account domain.Account) domain.Balance { return s.store.Balance(account) }

// NextAssetID returns the identifier the next successful mint or breed will use.
func (s *Service) NextAssetID() domain.AssetID { return s.store.NextAssetID() }
