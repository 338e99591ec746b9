package core

import (
	crand "crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"creatureledger/pkg/domain"

	"golang.org/x/crypto/blake2b"
)

// DefaultEntropyRefresh is how long an epoch seed stays in use.
const DefaultEntropyRefresh = 6 * time.Second

// EntropySource feeds the genome generator. Seed changes at a coarser
// granularity than calls; Next never returns the same value twice.
type EntropySource interface {
	Seed() []byte
	Next() uint64
}

// EpochEntropy draws a fresh seed from crypto/rand once per refresh interval
// and pairs it with a process-wide call sequence.
type EpochEntropy struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	reader   io.Reader
	seed     [32]byte
	epoch    time.Time
	seq      atomic.Uint64
}

// NewEpochEntropy constructs an entropy source refreshing every interval. A
// non-positive interval uses DefaultEntropyRefresh.
func NewEpochEntropy(interval time.Duration) *EpochEntropy {
	if interval <= 0 {
		interval = DefaultEntropyRefresh
	}
	return &EpochEntropy{interval: interval, now: time.Now, reader: crand.Reader}
}

// Seed returns the current epoch seed, refreshing it when the epoch elapsed.
// A failed refresh keeps the previous seed; the sequence still separates calls.
func (e *EpochEntropy) Seed() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if e.epoch.IsZero() || now.Sub(e.epoch) >= e.interval {
		var next [32]byte
		if _, err := io.ReadFull(e.reader, next[:]); err == nil {
			e.seed = next
			e.epoch = now
		}
	}
	return append([]byte(nil), e.seed[:]...)
}

// Next implements EntropySource.
func (e *EpochEntropy) Next() uint64 { return e.seq.Add(1) }

// FixedEntropy is a deterministic EntropySource for tests and replays.
type FixedEntropy struct {
	Value []byte
	seq   atomic.Uint64
}

// Seed implements EntropySource.
func (f *FixedEntropy) Seed() []byte { return append([]byte(nil), f.Value...) }

// Next implements EntropySource.
func (f *FixedEntropy) Next() uint64 { return f.seq.Add(1) }

// GenomeGenerator derives genomes as BLAKE2b-128 over the epoch seed, the
// length-prefixed caller identity and the call sequence.
//
// The output is not cryptographically secure: anyone able to predict the seed
// and order calls can bias the genomes they receive.
type GenomeGenerator struct {
	source EntropySource
}

// NewGenomeGenerator wires a generator to its entropy source.
func NewGenomeGenerator(source EntropySource) *GenomeGenerator {
	return &GenomeGenerator{source: source}
}

// Generate returns a fresh genome for caller.
func (g *GenomeGenerator) Generate(caller domain.Account) domain.Genome {
	// size is within blake2b's supported 1..64 byte range
	h, _ := blake2b.New(domain.GenomeSize, nil)
	h.Write(g.source.Seed())
	h.Write(binary.BigEndian.AppendUint32(nil, uint32(len(caller))))
	h.Write([]byte(caller))
	h.Write(binary.BigEndian.AppendUint64(nil, g.source.Next()))
	var out domain.Genome
	copy(out[:], h.Sum(nil))
	return out
}
