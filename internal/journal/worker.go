// Package journal archives ledger notifications to blob storage as
// newline-delimited JSON batches.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"creatureledger/internal/blob"
	"creatureledger/internal/core"
	"creatureledger/pkg/domain"
)

// Prefix is the key prefix of every archived batch.
const Prefix = "events/"

// ContentType is attached to archived batches.
const ContentType = "application/x-ndjson"

const (
	DefaultBatchSize     = 64
	DefaultFlushInterval = 5 * time.Second
	defaultQueueSize     = 1024
)

// ErrQueueFull is returned by Publish when the worker cannot accept more
// events without blocking the caller.
var ErrQueueFull = errors.New("journal queue full")

// ErrStopped is returned by Publish after Stop.
var ErrStopped = errors.New("journal stopped")

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize flushes once n events are pending.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval flushes pending events at least this often.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithQueueSize bounds the number of events buffered between Publish and
// the background loop.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithLogger reports flush failures.
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source used for batch keys.
func WithClock(clock core.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// Worker is a core.NotificationSink that batches events in the background
// and writes each batch as one immutable blob. A batch that fails to store
// stays pending and is retried on the next flush.
type Worker struct {
	store     blob.Store
	batchSize int
	interval  time.Duration
	queueSize int
	logger    core.Logger
	clock     core.Clock

	queue   chan domain.Event
	flushCh chan chan error

	mu      sync.Mutex
	stopped bool
	seq     uint64
	written uint64
	batches uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ core.NotificationSink = (*Worker)(nil)

// NewWorker constructs a journal writing into store. Call Start before
// publishing.
func NewWorker(store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		store:     store,
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		queueSize: defaultQueueSize,
		logger:    discardLogger{},
		clock:     core.ClockFunc(func() time.Time { return time.Now().UTC() }),
		flushCh:   make(chan chan error),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan domain.Event, w.queueSize)
	return w
}

// Start begins the background batching loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Publish enqueues event without blocking.
func (w *Worker) Publish(_ context.Context, event domain.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush writes every event published so far and returns the store error,
// if any.
func (w *Worker) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.flushCh <- reply:
	case <-w.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new events, writes what is pending and waits for the loop to
// exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports archived event and batch counts.
func (w *Worker) Stats() (events, batches uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.batches
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	var pending []domain.Event
	drain := func() {
		for {
			select {
			case event := <-w.queue:
				pending = append(pending, event)
			default:
				return
			}
		}
	}
	for {
		select {
		case <-w.ctx.Done():
			drain()
			// the loop context is gone; the final write gets its own
			pending, _ = w.flush(context.Background(), pending)
			if len(pending) > 0 {
				w.logger.Error("journal dropped events on stop", "events", len(pending))
			}
			return
		case event := <-w.queue:
			pending = append(pending, event)
			if len(pending) >= w.batchSize {
				pending, _ = w.flush(w.ctx, pending)
			}
		case <-ticker.C:
			pending, _ = w.flush(w.ctx, pending)
		case reply := <-w.flushCh:
			drain()
			var err error
			pending, err = w.flush(w.ctx, pending)
			reply <- err
		}
	}
}

// flush writes pending and returns what is still unwritten.
func (w *Worker) flush(ctx context.Context, pending []domain.Event) ([]domain.Event, error) {
	if len(pending) == 0 {
		return pending, nil
	}
	payload, err := Encode(pending)
	if err != nil {
		w.logger.Error("journal encode failed", "events", len(pending), "error", err)
		return nil, err
	}
	key := w.nextKey()
	_, err = w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"events": strconv.Itoa(len(pending))},
	})
	if err != nil {
		w.logger.Error("journal flush failed", "key", key, "events", len(pending), "error", err)
		return pending, fmt.Errorf("write %s: %w", key, err)
	}
	w.mu.Lock()
	w.written += uint64(len(pending))
	w.batches++
	w.mu.Unlock()
	w.logger.Debug("journal batch written", "key", key, "events", len(pending))
	return pending[:0], nil
}

// nextKey orders batches by time, then by a per-worker sequence.
func (w *Worker) nextKey() string {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()
	return fmt.Sprintf("%s%s-%06d.jsonl", Prefix, w.clock.Now().UTC().Format("20060102T150405.000000000Z"), seq)
}

// Encode renders events as newline-delimited JSON.
func Encode(events []domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, event := range events {
		if err := enc.Encode(event); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a newline-delimited JSON batch.
func Decode(r io.Reader) ([]domain.Event, error) {
	dec := json.NewDecoder(r)
	var events []domain.Event
	for {
		var event domain.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
}

// ReadAll returns every archived event in store, oldest batch first.
func ReadAll(ctx context.Context, store blob.Store) ([]domain.Event, error) {
	infos, err := store.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	var events []domain.Event
	for _, info := range infos {
		batch, err := readBatch(ctx, store, info.Key)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

func readBatch(ctx context.Context, store blob.Store, key string) ([]domain.Event, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	events, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return events, nil
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
