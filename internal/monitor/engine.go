// Package monitor implements the download-lifecycle reconciliation engine.
// On a fixed cadence it fetches status for every tracked hash, classifies
// each snapshot into exactly one outbound event, detects external removal
// without racing just-added torrents, and folds query failures into a
// time-boxed one-shot alert.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"torrentbridge/internal/events"
	"torrentbridge/internal/qbit"
	"torrentbridge/internal/store"
)

// unknownLabel is the literal fallback for name/category on a removed event
// when no metadata was ever cached for the hash.
const unknownLabel = "unknown"

// StatusClient queries the download client for a batch of hashes.
// Satisfied by *qbit.Client.
type StatusClient interface {
	TorrentInfo(ctx context.Context, hashes []string) ([]qbit.Snapshot, error)
}

// TrackedStore is the durable tracked-set plus metadata cache.
// Satisfied by *store.SQLiteStore.
type TrackedStore interface {
	Add(ctx context.Context, hash string, meta store.Metadata) error
	Remove(ctx context.Context, hash string) error
	ListTracked(ctx context.Context) ([]string, error)
	GetMetadata(hash string) (store.Metadata, bool)
	RefreshFromSnapshots(snapshots []qbit.Snapshot)
}

// Publisher delivers classified events to the outbound event stream.
// Satisfied by *bus.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Notifier delivers polling-failure alerts to the notification channel,
// separate from the main event stream. Satisfied by *bus.Publisher.
type Notifier interface {
	Notify(ctx context.Context, alert events.PollingFailure) error
}

// EngineConfig holds the collaborators and tuning for NewEngine.
type EngineConfig struct {
	Store          TrackedStore
	Client         StatusClient
	Publisher      Publisher
	Notifier       Notifier
	ServiceName    string        // identifies this service in alerts
	AlertThreshold time.Duration // zero means DefaultAlertThreshold
	Logger         *slog.Logger
}

// Engine is the poll-cycle orchestrator. It exclusively owns the pending
// set and the failure window; durable membership belongs to the store.
type Engine struct {
	store     TrackedStore
	client    StatusClient
	publisher Publisher
	notifier  Notifier
	alerts    *alerter
	logger    *slog.Logger

	// Single-slot scheduling guard: a tick that fires while a cycle is
	// still in flight is skipped, never queued.
	busy atomic.Bool

	// Hashes submitted but not yet confirmed present in any status query.
	// In-memory only: after a restart nothing is pending, so a first-cycle
	// absence is a legitimate removal.
	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:     cfg.Store,
		client:    cfg.Client,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		alerts:    newAlerter(cfg.ServiceName, cfg.AlertThreshold),
		logger:    logger,
		pending:   make(map[string]struct{}),
	}
}

// Track registers a freshly submitted hash. The pending mark is set before
// the durable add, so a poll cycle racing the submission can never observe
// the hash tracked-but-unmarked and misclassify it as removed.
func (e *Engine) Track(ctx context.Context, hash string, meta store.Metadata) error {
	e.markPending(hash)

	if err := e.store.Add(ctx, hash, meta); err != nil {
		e.clearPending(hash)
		return err
	}

	e.logger.Info("tracking torrent",
		slog.String("hash", hash),
		slog.String("request_id", meta.RequestID),
	)

	return nil
}

// Run drives poll cycles on a fixed cadence until ctx is canceled. Each
// cycle runs on a detached context: cancellation prevents further cycles
// from starting but never interrupts an in-flight cycle mid-classification,
// which would leave a half-updated store.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.logger.Info("reconciliation engine started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconciliation engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunOnce(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("poll cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single poll cycle, skipping entirely if a previous
// cycle is still in flight.
func (e *Engine) RunOnce(ctx context.Context) error {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Debug("previous poll cycle still in flight, skipping")
		return nil
	}
	defer e.busy.Store(false)

	return e.cycle(ctx)
}

// cycle is the reconciliation algorithm: list tracked hashes, query status,
// emit removals for confirmed-absent hashes, clear pending marks, classify
// every snapshot.
func (e *Engine) cycle(ctx context.Context) error {
	tracked, err := e.store.ListTracked(ctx)
	if err != nil {
		return fmt.Errorf("monitor: listing tracked hashes: %w", err)
	}

	if len(tracked) == 0 {
		return nil
	}

	snapshots, err := e.client.TorrentInfo(ctx, tracked)
	if err != nil {
		// Skip the cycle: store and cache stay untouched so a failed fetch
		// can never produce a partial or false classification.
		e.logger.Warn("status query failed",
			slog.Int("tracked", len(tracked)),
			slog.String("error", err.Error()),
		)
		e.recordFailure(ctx, err)

		return nil
	}

	e.alerts.observeSuccess()
	e.store.RefreshFromSnapshots(snapshots)

	present := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		present[snap.Hash] = struct{}{}
	}

	for _, hash := range tracked {
		if _, ok := present[hash]; ok {
			continue
		}

		// A hash still pending has never been confirmed present; client-side
		// propagation delay must not look like an external removal.
		if e.isPending(hash) {
			e.logger.Debug("pending hash not yet visible", slog.String("hash", hash))
			continue
		}

		e.emitRemoved(ctx, hash)
	}

	for hash := range present {
		e.clearPending(hash)
	}

	for _, snap := range snapshots {
		e.classify(ctx, snap)
	}

	return nil
}

// recordFailure folds a query failure into the alerter and publishes the
// one-shot alert when the window crosses the threshold.
func (e *Engine) recordFailure(ctx context.Context, err error) {
	alert := e.alerts.observeFailure(err)
	if alert == nil {
		return
	}

	if notifyErr := e.notifier.Notify(ctx, *alert); notifyErr != nil {
		e.logger.Error("failed to publish polling-failure alert",
			slog.String("error", notifyErr.Error()))
		return
	}

	e.logger.Warn("polling-failure alert published",
		slog.Int64("failing_since_ms", alert.FailingSinceMs))
}

// emitRemoved publishes a removed event for a confirmed-absent hash and
// deletes it from the store. Removal is final.
func (e *Engine) emitRemoved(ctx context.Context, hash string) {
	meta, _ := e.store.GetMetadata(hash)

	e.publish(ctx, events.RoutingRemoved, events.Removed{
		RequestID: meta.RequestID,
		Hash:      hash,
		Name:      orUnknown(meta.Name),
		Category:  orUnknown(meta.Category),
	})

	if err := e.store.Remove(ctx, hash); err != nil {
		e.logger.Error("failed to untrack removed hash",
			slog.String("hash", hash), slog.String("error", err.Error()))
		return
	}

	e.logger.Info("torrent removed externally", slog.String("hash", hash))
}

// classify maps one snapshot to exactly one event. Completion takes
// precedence over the stalled/paused sentinels even when the state tag
// still shows a transitional value in the same snapshot.
func (e *Engine) classify(ctx context.Context, snap qbit.Snapshot) {
	meta, _ := e.store.GetMetadata(snap.Hash)

	if snap.Progress >= 1.0 {
		e.publish(ctx, events.RoutingComplete, events.Complete{
			RequestID: meta.RequestID,
			Hash:      snap.Hash,
			Name:      snap.Name,
			Size:      snap.Size,
			Category:  snap.Category,
		})

		if err := e.store.Remove(ctx, snap.Hash); err != nil {
			e.logger.Error("failed to untrack completed hash",
				slog.String("hash", snap.Hash), slog.String("error", err.Error()))
		}

		e.clearPending(snap.Hash)
		e.logger.Info("torrent complete",
			slog.String("hash", snap.Hash), slog.String("name", snap.Name))

		return
	}

	key := events.RoutingProgress

	switch snap.State {
	case qbit.StateStalled:
		key = events.RoutingStalled
	case qbit.StatePaused:
		key = events.RoutingPaused
	}

	e.publish(ctx, key, events.Progress{
		RequestID:     meta.RequestID,
		Hash:          snap.Hash,
		Name:          snap.Name,
		Progress:      snap.Progress,
		DownloadSpeed: snap.DownloadSpeed,
		ETA:           snap.ETA,
		State:         snap.State,
		Category:      snap.Category,
	})
}

// publish delivers one event, logging delivery failures without aborting
// the cycle.
func (e *Engine) publish(ctx context.Context, routingKey string, payload any) {
	if err := e.publisher.Publish(ctx, routingKey, payload); err != nil {
		e.logger.Warn("failed to publish event",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) markPending(hash string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	e.pending[hash] = struct{}{}
}

func (e *Engine) clearPending(hash string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	delete(e.pending, hash)
}

func (e *Engine) isPending(hash string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	_, ok := e.pending[hash]

	return ok
}

// orUnknown substitutes the literal fallback for a field that was never
// learned from any status query.
func orUnknown(s string) string {
	if s == "" {
		return unknownLabel
	}

	return s
}
