package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"creatureledger/internal/blob"
	"creatureledger/internal/config"
	"creatureledger/internal/core"
	"creatureledger/internal/journal"
	"creatureledger/pkg/domain"
)

// ledger bundles the service with the resources it must release.
type ledger struct {
	svc     *core.Service
	store   domain.PersistentStore
	journal *journal.Worker
}

func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...core.Option) (*ledger, error) {
	params := cfg.Params()
	store, err := core.OpenPersistentStore(cfg.Storage(), core.NewDefaultRulesEngine(params))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	l := &ledger{store: store}
	sinks := core.Sinks{notificationLog(logger)}
	if cfg.JournalEnabled() {
		blobs, err := blob.Open(ctx, cfg.Blob())
		if err != nil {
			_ = l.Close(ctx)
			return nil, fmt.Errorf("open journal: %w", err)
		}
		l.journal = journal.NewWorker(blobs,
			journal.WithBatchSize(cfg.JournalBatch),
			journal.WithFlushInterval(cfg.JournalFlush),
			journal.WithLogger(logger),
		)
		l.journal.Start()
		sinks = append(sinks, l.journal)
	}
	opts := []core.Option{
		core.WithParams(params),
		core.WithEntropy(core.NewEpochEntropy(cfg.EntropyRefresh)),
		core.WithNotificationSink(sinks),
		core.WithLogger(logger),
		core.WithAuditRecorder(auditLog{logger: logger}),
	}
	l.svc = core.NewService(store, append(opts, extra...)...)
	return l, nil
}

// Close drains the journal and closes the store.
func (l *ledger) Close(ctx context.Context) error {
	var errs []error
	if l.journal != nil {
		if err := l.journal.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop journal: %w", err))
		}
	}
	if closer, ok := l.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func notificationLog(logger *slog.Logger) core.NotificationSink {
	return core.SinkFunc(func(ctx context.Context, event domain.Event) error {
		attrs := []any{"kind", event.Kind, "account", event.Account, "asset_id", event.AssetID}
		if event.To != "" {
			attrs = append(attrs, "to", event.To)
		}
		if event.Genome != nil {
			attrs = append(attrs, "genome", event.Genome.String())
		}
		logger.InfoContext(ctx, "notification", attrs...)
		return nil
	})
}

// auditLog writes audit entries to the structured log.
type auditLog struct {
	logger *slog.Logger
}

func (a auditLog) Record(ctx context.Context, entry core.AuditEntry) {
	level := slog.LevelInfo
	if entry.Status == core.AuditStatusError {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "audit",
		"operation", entry.Operation,
		"entity", entry.Entity,
		"action", entry.Action,
		"entity_id", entry.EntityID,
		"account", entry.Account,
		"status", entry.Status,
		"error", entry.Error,
		"duration", entry.Duration,
	)
}
