// Package coordinator is the single owner of the four engines (§5): the
// deduplicator, the version chain, the correlation graph and the
// persistence store. Every mutating call is serialized through one
// mutex (single-writer discipline, §9); reads of the in-memory block
// map use their own lock so lookups never block behind a writer that
// is itself waiting on disk I/O.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"holocore.dev/memory/config"
	"holocore.dev/memory/internal/dedup"
	"holocore.dev/memory/internal/graph"
	"holocore.dev/memory/internal/memblock"
	"holocore.dev/memory/internal/memstore"
	"holocore.dev/memory/internal/sublimator"
	"holocore.dev/memory/internal/version"
)

const (
	sweepStopped int32 = iota
	sweepRunning
)

// Coordinator wires the four engines together and exposes the
// operations a caller (an inference runtime, a CLI, a test) drives the
// core through: sublimate_kv, query, insert_with_summary, retract,
// stats and sync.
type Coordinator struct {
	cfg    config.Config
	logger *slog.Logger

	mu    sync.Mutex // serializes every mutating call (§9 single-writer discipline)
	store *memstore.Store
	dedup *dedup.Deduplicator
	chain *version.Chain
	graph *graph.Graph

	blocksMu sync.RWMutex
	blocks   map[memblock.BlockID]*memblock.Block

	nextID atomic.Uint64

	sweepState atomic.Int32
	sweepWG    sync.WaitGroup
}

// New opens the store at cfg.StoreRoot, replays its persisted state
// into fresh dedup/chain/graph engines, and returns a ready
// Coordinator. The returned Coordinator must eventually be Close()d.
func New(cfg config.Config, logger *slog.Logger) (*Coordinator, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("coordinator: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := memstore.Open(cfg.StoreRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open store: %w", err)
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: logger,
		store:  store,
		dedup:  dedup.New(dedupConfigFrom(cfg)),
		chain:  version.New(),
		graph:  graph.New(graphConfigFrom(cfg)),
		blocks: make(map[memblock.BlockID]*memblock.Block),
	}

	if err := c.bootstrap(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("coordinator: bootstrap: %w", err)
	}
	return c, nil
}

func dedupConfigFrom(cfg config.Config) dedup.Config {
	return dedup.Config{
		BloomBits:           cfg.BloomBits,
		BloomHashes:         cfg.BloomHashes,
		ExactBuckets:        cfg.ExactTableBuckets,
		LSHTables:           cfg.LSHTables,
		LSHHyperplanes:      cfg.LSHHyperplanes,
		SummaryDim:          cfg.SummaryDim,
		LSHSeed:             cfg.LSHSeed,
		SimilarityThreshold: cfg.SimilarityThreshold,
	}
}

func graphConfigFrom(cfg config.Config) graph.Config {
	return graph.Config{
		EMax:               cfg.GraphEMax,
		VMax:               cfg.GraphVMax,
		Boost:              cfg.GraphBoost,
		Decay:              cfg.GraphDecay,
		Epsilon:            cfg.GraphEpsilon,
		WMin:               cfg.GraphWMin,
		DriftMax:           cfg.GraphDriftMax,
		StabilityThreshold: cfg.GraphStabilityThreshold,
	}
}

// bootstrap replays persisted state into the dedup/chain/graph engines.
// Blocks and edges replay directly; version chains replay per concept
// key in version order, since a concept key may have many historical
// blocks but only ever one currently-ACTIVE one, and the deduplicator's
// exact-table entry tracks that ACTIVE block only.
func (c *Coordinator) bootstrap() error {
	res, err := c.store.Replay()
	if err != nil {
		return err
	}

	var maxID memblock.BlockID
	for _, b := range res.Blocks {
		blk := &memblock.Block{ID: b.ID, ConceptKey: res.Texts[b.ID], Summary: b.Summary}
		c.blocks[b.ID] = blk
		if b.ID > maxID {
			maxID = b.ID
		}
		if b.Summary != nil {
			if err := c.graph.RegisterBlock(b.ID, b.Summary); err != nil {
				c.logger.Warn("coordinator: replay graph register failed", "id", b.ID, "error", err)
			}
		}
	}
	c.nextID.Store(uint64(maxID))

	for _, e := range res.Edges {
		c.graph.RestoreEdge(e.A, e.B, e.Weight, e.Count, e.TLast)
	}

	byKey := make(map[string][]memstore.VersionSnapshot)
	for _, v := range res.Versions {
		byKey[v.ConceptKey] = append(byKey[v.ConceptKey], v)
	}
	for key, versions := range byKey {
		sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNum < versions[j].VersionNum })

		first := versions[0]
		if _, err := c.chain.Register(first.NodeID, key, first.CreatedAt); err != nil {
			c.logger.Warn("coordinator: replay chain register failed", "key", key, "error", err)
			continue
		}
		for i := 1; i < len(versions); i++ {
			prevReason := versions[i-1].Reason
			if _, err := c.chain.Update(versions[i].NodeID, key, prevReason, versions[i].ConfidenceDelta, versions[i].CreatedAt); err != nil {
				c.logger.Warn("coordinator: replay chain update failed", "key", key, "error", err)
			}
		}
		// Register/Update can only reproduce the ACTIVE/SUPERSEDED shape
		// of a naive linear replay; force every node's terminal fields
		// back to exactly what was persisted (retracted, merged, archived).
		for _, v := range versions {
			c.chain.RestoreStatus(v.NodeID, version.Status(v.Status), v.SupersededAt, v.SupersededBy, v.MergedInto, v.Reason)
		}

		if current, ok := c.chain.Current(key); ok {
			if blk, ok := c.blocks[current]; ok {
				c.dedup.Register(current, key, blk.Summary)
			}
		}
	}

	c.graph.ConvergenceSweep()
	return nil
}

func (c *Coordinator) mintID() memblock.BlockID {
	return memblock.BlockID(c.nextID.Add(1))
}

func (c *Coordinator) blockByID(id memblock.BlockID) (*memblock.Block, bool) {
	c.blocksMu.RLock()
	defer c.blocksMu.RUnlock()
	b, ok := c.blocks[id]
	return b, ok
}

func (c *Coordinator) putBlock(b *memblock.Block) {
	c.blocksMu.Lock()
	c.blocks[b.ID] = b
	c.blocksMu.Unlock()
}

// summaryLookup resolves an ID to its current summary for the
// deduplicator's Query and the chain's CheckConflict, both of which own
// no block storage themselves.
func (c *Coordinator) summaryLookup(id memblock.BlockID) ([]float32, bool) {
	b, ok := c.blockByID(id)
	if !ok || b.Summary == nil {
		return nil, false
	}
	return b.Summary, true
}

// SublimateKV parses a serialized KV cache into a block (§4.1). The
// returned block has no ID yet; pass it to InsertWithSummary to admit
// it.
func (c *Coordinator) SublimateKV(req sublimator.Request) (*memblock.Block, error) {
	return sublimator.Sublimate(req)
}

// InsertWithSummary admits block under its concept key (§4.2/§4.4):
// a brand-new key registers a fresh version-1 chain; an existing key
// appends a new version and repoints the deduplicator's exact-table
// entry at it; an empty key skips dedup/chain entirely and is tracked
// only for graph patching and retrieval. step is recorded as the new
// version node's CreatedAt (and, on an update, as the superseded node's
// SupersededAt).
func (c *Coordinator) InsertWithSummary(block *memblock.Block, step int64) (memblock.BlockID, error) {
	if block == nil {
		return memblock.NoBlockID, errors.New("coordinator: nil block")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.mintID()
	block.ID = id
	c.putBlock(block)

	if block.ConceptKey == "" {
		if block.Summary != nil {
			if err := c.graph.RegisterBlock(id, block.Summary); err != nil {
				c.logger.Warn("coordinator: graph register failed", "id", id, "error", err)
			}
		}
		if err := c.store.PutBlock(id, "", block.Summary); err != nil {
			c.logger.Warn("coordinator: persist block failed", "id", id, "error", err)
		}
		return id, nil
	}

	existing, admit := c.dedup.Admit(block.ConceptKey)
	if admit {
		c.dedup.Register(id, block.ConceptKey, block.Summary)
		if _, err := c.chain.Register(id, block.ConceptKey, step); err != nil {
			return memblock.NoBlockID, fmt.Errorf("coordinator: version register: %w", err)
		}
	} else {
		if _, err := c.chain.Update(id, block.ConceptKey, "update", 0, step); err != nil {
			return memblock.NoBlockID, fmt.Errorf("coordinator: version update: %w", err)
		}
		c.dedup.Reindex(block.ConceptKey, id, block.Summary)
		c.persistVersionByID(existing)
	}

	if block.Summary != nil {
		if err := c.graph.RegisterBlock(id, block.Summary); err != nil {
			c.logger.Warn("coordinator: graph register failed", "id", id, "error", err)
		}
	}

	if err := c.store.PutBlock(id, block.ConceptKey, block.Summary); err != nil {
		c.logger.Warn("coordinator: persist block failed", "id", id, "error", err)
	}
	c.persistVersionByID(id)

	return id, nil
}

func (c *Coordinator) persistVersionByID(id memblock.BlockID) {
	node, ok := c.chain.Get(id)
	if !ok {
		return
	}
	var summary []float32
	if blk, ok := c.blockByID(id); ok {
		summary = blk.Summary
	}
	if err := c.store.PutVersion(memstore.VersionSnapshot{
		NodeID:          node.NodeID,
		ConceptKey:      node.ConceptKey,
		VersionNum:      node.VersionNum,
		Status:          uint8(node.Status),
		CreatedAt:       node.CreatedAt,
		SupersededAt:    node.SupersededAt,
		SupersededBy:    node.SupersededBy,
		MergedInto:      node.MergedInto,
		Reason:          node.Reason,
		ConfidenceDelta: node.ConfidenceDelta,
		Summary:         summary,
	}); err != nil {
		c.logger.Warn("coordinator: persist version failed", "id", id, "error", err)
	}
}

// Query runs the deduplicator's similarity search over vec, re-scored
// against the coordinator's live block summaries, and drops every block
// whose version-chain node is no longer the ACTIVE one for its concept
// key. Blocks with no chain node (empty concept key) are kept.
func (c *Coordinator) Query(vec []float32) []dedup.Candidate {
	results := c.dedup.Query(vec, c.summaryLookup)
	out := results[:0]
	for _, r := range results {
		if _, ok := c.chain.Get(r.ID); ok && !c.chain.IsCurrent(r.ID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ExpandRetrievalSet runs the graph's depth-1 correlation expansion
// from seedIDs (§4.3).
func (c *Coordinator) ExpandRetrievalSet(seedIDs []memblock.BlockID, minCorrelation float64, cap int) []memblock.BlockID {
	return c.graph.ExpandRetrievalSet(seedIDs, minCorrelation, cap)
}

// RecordCoRetrieval reinforces every pairwise edge among ids (§4.3) and
// persists the resulting edge state for each pair actually touched.
func (c *Coordinator) RecordCoRetrieval(ids []memblock.BlockID, step int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.graph.RecordCoRetrieval(ids, step)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[i] == ids[j] {
				continue
			}
			weight, count, tLast, ok := c.graph.EdgeStats(ids[i], ids[j])
			if !ok {
				continue
			}
			if err := c.store.PutEdge(ids[i], ids[j], weight, count, tLast); err != nil {
				c.logger.Warn("coordinator: persist edge failed", "a", ids[i], "b", ids[j], "error", err)
			}
		}
	}
}

// CheckConflict classifies newValue against conceptKey's existing chain
// nodes (§4.4 "check_conflict").
func (c *Coordinator) CheckConflict(conceptKey string, newValue []float32) []version.Conflict {
	return c.chain.CheckConflict(conceptKey, newValue, c.summaryLookup, version.DefaultThresholds())
}

// Retract marks nodeID RETRACTED and frees its concept key for reuse by
// a brand-new chain (§4.4 "retract").
func (c *Coordinator) Retract(nodeID memblock.BlockID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.chain.Get(nodeID)
	if !ok {
		return fmt.Errorf("coordinator: unknown node %v", nodeID)
	}
	conceptKey := node.ConceptKey
	if err := c.chain.Retract(nodeID, reason); err != nil {
		return err
	}
	c.dedup.Forget(conceptKey)
	c.persistVersionByID(nodeID)
	return nil
}

// Stats is the coordinator's §4.2/§4.3 stats() surface: counters that
// inform operators, never correctness.
type Stats struct {
	BlockCount  int
	DedupStats  dedup.StatsSnapshot
	BucketDepth float64
}

// Stats returns a point-in-time snapshot of the core's counters.
func (c *Coordinator) Stats() Stats {
	c.blocksMu.RLock()
	n := len(c.blocks)
	c.blocksMu.RUnlock()
	return Stats{
		BlockCount:  n,
		DedupStats:  c.dedup.Snapshot(),
		BucketDepth: c.dedup.BucketDepth(),
	}
}

// Sync runs the periodic maintenance pass — edge decay, convergence
// recomputation and version-chain archival — the same work the
// background sweeper performs on a timer (§4.3 "periodic convergence
// sweep", §4.4 "Garbage collection"). now is supplied by the caller and
// compared against the chain nodes' SupersededAt values; Sync itself does
// not read the clock (the background sweeper passes each tick's Unix
// time).
func (c *Coordinator) Sync(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.graph.DecayEdges()
	c.graph.ConvergenceSweep()
	if archived := c.chain.ArchiveOld(now, c.cfg.ArchiveMaxAgeSeconds, c.cfg.ArchiveBatchCap); archived > 0 {
		c.logger.Info("coordinator: archived version chain nodes", "count", archived)
	}
}

// StartSweeper launches the background maintenance loop on
// cfg.SweepInterval, grounded on the teacher's HSMMonitor ticker/atomic-
// state pattern. It is a no-op if a sweeper is already running; ctx
// cancellation stops it.
func (c *Coordinator) StartSweeper(ctx context.Context) {
	if !c.sweepState.CompareAndSwap(sweepStopped, sweepRunning) {
		return
	}
	interval, err := time.ParseDuration(c.cfg.SweepInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}

	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
		defer c.sweepState.Store(sweepStopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				c.Sync(t.Unix())
			}
		}
	}()
}

// StopSweeper blocks until a running sweeper's goroutine has exited
// (the caller is expected to have already cancelled its context).
func (c *Coordinator) StopSweeper() {
	c.sweepWG.Wait()
}

// Close waits for any running sweeper to exit (its context must already
// be cancelled, otherwise Close blocks) and closes the underlying store.
func (c *Coordinator) Close() error {
	c.sweepWG.Wait()
	return c.store.Close()
}
