// Package association runs the background discovery loop that links
// similar memories into association-graph edges. Grounded on the original
// association_loop.rs pass structure and the teacher's timer-driven
// background-runner idiom in internal/agents/heartbeat.
package association

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/memory"
	"github.com/relaykit/relay/pkg/models"
)

// Config controls the discovery loop's cadence and thresholds, mirroring
// spec.md §4.8's defaults.
type Config struct {
	Interval              time.Duration
	BatchSize             int
	Threshold             float64
	MaxAssociationsPerMem int
	EmbedRateLimit        time.Duration
}

// candidatePoolLimit bounds how many stored memories the similarity scan
// considers as potential association targets per processed memory. The
// original implementation loads every stored embedding; this caps it to
// keep a single pass bounded on large stores.
const candidatePoolLimit = 2000

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		Interval:              300 * time.Second,
		BatchSize:             20,
		Threshold:             0.65,
		MaxAssociationsPerMem: 10,
		EmbedRateLimit:        100 * time.Millisecond,
	}
}

// Loop periodically scans recently-indexed memories and links the ones
// whose embeddings are cosine-similar above threshold with "related" edges.
type Loop struct {
	mgr    *memory.Manager
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	stopCh  chan struct{}
}

// New builds a discovery loop bound to a memory manager.
func New(mgr *memory.Manager, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg = DefaultConfig()
	}
	return &Loop{mgr: mgr, cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Start runs the loop until ctx is cancelled or Stop is called. Errors from
// a single pass are logged and do not halt the loop, matching the
// original's log-and-continue behavior.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info("association loop started",
		"interval", l.cfg.Interval, "threshold", l.cfg.Threshold,
		"max_per_memory", l.cfg.MaxAssociationsPerMem, "batch", l.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.runPass(ctx); err != nil {
				l.logger.Error("association loop pass failed", "error", err)
			}
		}
	}
}

// Stop halts the loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
}

// runPass executes a single discovery pass: load a batch of memories
// (newest first), ensure each has an embedding, find similar memories
// above threshold, and create "related" edges up to the per-memory cap.
func (l *Loop) runPass(ctx context.Context) error {
	entries, err := l.mgr.ListEntries(ctx, 0, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		l.logger.Info("association loop: no memories to process")
		return nil
	}
	l.logger.Info("association loop: processing memories", "count", len(entries))

	totalCreated := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if len(entry.Embedding) == 0 {
			embedded, err := l.mgr.Embed(ctx, entry.Content)
			if err != nil {
				l.logger.Warn("association loop: failed to embed memory", "memory_id", entry.ID, "error", err)
				continue
			}
			entry.Embedding = embedded
			if err := l.mgr.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
				l.logger.Warn("association loop: failed to persist embedding", "memory_id", entry.ID, "error", err)
				continue
			}
			time.Sleep(l.cfg.EmbedRateLimit)
		}

		existing, err := l.mgr.Neighbors(ctx, entry.ID, l.cfg.MaxAssociationsPerMem)
		if err != nil && err != memory.ErrGraphUnsupported {
			return err
		}
		slots := l.cfg.MaxAssociationsPerMem - len(existing)
		if slots <= 0 {
			continue
		}
		existingPeers := make(map[string]bool, len(existing))
		for _, e := range existing {
			existingPeers[e.Source] = true
			existingPeers[e.Target] = true
		}

		candidates, err := l.mgr.ListEntries(ctx, 0, candidatePoolLimit)
		if err != nil {
			return err
		}

		created := 0
		for _, cand := range candidates {
			if created >= slots {
				break
			}
			if cand.ID == entry.ID || existingPeers[cand.ID] || len(cand.Embedding) == 0 {
				continue
			}
			sim := cosineSimilarity(entry.Embedding, cand.Embedding)
			if float64(sim) < l.cfg.Threshold {
				continue
			}
			edge := &models.AssociationEdge{
				Source:   entry.ID,
				Target:   cand.ID,
				Type:     models.AssociationRelated,
				Strength: sim,
			}
			if err := l.mgr.Associate(ctx, edge); err != nil {
				l.logger.Warn("association loop: failed to create association",
					"source", entry.ID, "target", cand.ID, "error", err)
				continue
			}
			created++
			totalCreated++
		}
		if created > 0 {
			l.logger.Info("association loop: created associations", "memory_id", entry.ID, "count", created)
		}
	}

	l.logger.Info("association loop pass complete", "created", totalCreated)
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (sqrt(na) * sqrt(nb)))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}
