/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package syncer keeps the knowledge graph current against a live
// cluster. It is the sole writer into the graph: a periodic full sync
// re-lists every supported kind and rebuilds state via upserts, while
// one watch goroutine per high-churn kind applies incremental events
// between passes. Full sync is idempotent, so the two paths interleave
// freely.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/clusterlens/clusterlens/internal/cluster"
	"github.com/clusterlens/clusterlens/internal/graph"
	"github.com/clusterlens/clusterlens/internal/logging"
	"github.com/clusterlens/clusterlens/internal/metrics"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Health classifies the engine's operational condition. It is a pure
// function of Status, computed by HealthFor.
type Health string

const (
	HealthStopped  Health = "stopped"
	HealthStale    Health = "stale"
	HealthDegraded Health = "degraded"
	HealthHealthy  Health = "healthy"
)

const defaultPageSize = 500

const (
	watchBackoffBase = time.Second
	watchBackoffCap  = 30 * time.Second
)

// placeholderField marks nodes created ahead of their own sync so an
// owner edge could be recorded.
const placeholderField = "placeholder"

// Options configure the sync engine.
type Options struct {
	// SyncInterval is the period between full synchronization passes.
	SyncInterval time.Duration

	// WatchTimeout bounds each watch stream; streams reconnect after it.
	WatchTimeout time.Duration

	// MaxWatchRetries is the error budget per watcher. A watcher whose
	// consecutive failures exceed it stops permanently; the rest keep
	// running.
	MaxWatchRetries int

	// PageSize bounds each list call.
	PageSize int64

	// GraphTTL drives the cleanup pass after each full sync.
	GraphTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = 5 * time.Minute
	}
	if o.WatchTimeout <= 0 {
		o.WatchTimeout = 5 * time.Minute
	}
	if o.MaxWatchRetries <= 0 {
		o.MaxWatchRetries = 5
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.GraphTTL <= 0 {
		o.GraphTTL = time.Hour
	}
}

// Status is a snapshot of the engine's observable state.
type Status struct {
	State           State            `json:"state"`
	LastFullSync    time.Time        `json:"lastFullSync"`
	ResourcesSynced int64            `json:"resourcesSynced"`
	ErrorCount      int64            `json:"errorCount"`
	KindErrors      map[string]int64 `json:"kindErrors,omitempty"`
	StoppedWatchers []string         `json:"stoppedWatchers,omitempty"`
	WatchedKinds    []string         `json:"watchedKinds"`
}

// HealthFor classifies a status snapshot: stopped when not running,
// stale when the last full sync is older than twice the sync interval,
// degraded when running with recorded errors, healthy otherwise.
func HealthFor(s Status, interval time.Duration, now time.Time) Health {
	if s.State != StateRunning {
		return HealthStopped
	}
	if s.LastFullSync.IsZero() || now.Sub(s.LastFullSync) > 2*interval {
		return HealthStale
	}
	if s.ErrorCount > 0 || len(s.StoppedWatchers) > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}

// Engine is the cluster sync engine.
type Engine struct {
	graph    *graph.Graph
	accessor cluster.Accessor
	opts     Options
	log      logr.Logger

	mu              sync.Mutex
	state           State
	lastFullSync    time.Time
	resourcesSynced int64
	errorCount      int64
	kindErrors      map[string]int64
	stoppedWatchers []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine writing into g via accessor.
func New(g *graph.Graph, accessor cluster.Accessor, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		graph:      g,
		accessor:   accessor,
		opts:       opts,
		log:        ctrl.Log.WithName("syncer"),
		state:      StateStopped,
		kindErrors: make(map[string]int64),
	}
}

// Start validates cluster connectivity, then launches the periodic
// full-sync loop, one watch loop per watchable kind, and an immediate
// initial full sync. It fails fast when the cluster is unreachable.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("cannot start sync engine in state %q", e.state)
	}
	e.state = StateStarting
	e.mu.Unlock()

	if err := e.accessor.Ping(ctx); err != nil {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		return fmt.Errorf("sync engine start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	e.state = StateRunning
	e.mu.Unlock()

	e.wg.Add(1)
	go e.fullSyncLoop(runCtx)

	for _, kind := range e.accessor.WatchableKinds() {
		e.wg.Add(1)
		go e.watchLoop(runCtx, kind)
	}

	e.log.Info("sync engine started",
		"syncInterval", e.opts.SyncInterval,
		"watchedKinds", e.accessor.WatchableKinds())
	return nil
}

// Stop cancels all loops and waits for them to drain. In-flight calls
// complete naturally.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.log.Info("sync engine stopped")
}

// ForceSync runs a full synchronization pass immediately.
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.fullSync(ctx)
}

// Status returns a snapshot of observable engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	kindErrors := make(map[string]int64, len(e.kindErrors))
	for k, v := range e.kindErrors {
		kindErrors[k] = v
	}
	stopped := make([]string, len(e.stoppedWatchers))
	copy(stopped, e.stoppedWatchers)

	return Status{
		State:           e.state,
		LastFullSync:    e.lastFullSync,
		ResourcesSynced: e.resourcesSynced,
		ErrorCount:      e.errorCount,
		KindErrors:      kindErrors,
		StoppedWatchers: stopped,
		WatchedKinds:    e.accessor.WatchableKinds(),
	}
}

// Health classifies the engine's current condition.
func (e *Engine) Health() Health {
	return HealthFor(e.Status(), e.opts.SyncInterval, time.Now())
}

func (e *Engine) fullSyncLoop(ctx context.Context) {
	defer e.wg.Done()

	// Immediate initial sync; the cluster should be queryable before
	// the first tick.
	if err := e.fullSync(ctx); err != nil && ctx.Err() == nil {
		e.log.Error(err, "initial full sync failed")
	}

	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.fullSync(ctx); err != nil && ctx.Err() == nil {
				e.log.Error(err, "periodic full sync failed")
			}
		}
	}
}

// fullSync re-lists every supported kind, upserts nodes and owner
// edges, runs the relationship-building pass, then TTL cleanup.
// Per-kind failures are isolated: logged and counted, never aborting
// the remaining kinds or the relationship pass.
func (e *Engine) fullSync(ctx context.Context) error {
	start := time.Now()
	var synced int64

	for _, kind := range e.accessor.SupportedKinds() {
		n, err := e.syncKind(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error(err, "kind sync failed, continuing", "kind", kind)
			metrics.SyncErrorsTotal.WithLabelValues(kind).Inc()
			e.mu.Lock()
			e.errorCount++
			e.kindErrors[kind]++
			e.mu.Unlock()
			continue
		}
		synced += n
	}

	e.buildRelationships()

	expired := e.graph.CleanupExpired(e.opts.GraphTTL)
	if expired > 0 {
		e.log.V(logging.DEBUG).Info("evicted expired nodes", "count", expired)
	}

	stats := e.graph.Statistics()
	metrics.FullSyncsTotal.Inc()
	metrics.GraphNodes.Set(float64(stats.NodeCount))
	metrics.GraphEdges.Set(float64(stats.EdgeCount))

	e.mu.Lock()
	e.lastFullSync = time.Now()
	e.resourcesSynced = synced
	e.mu.Unlock()

	e.log.V(logging.DEBUG).Info("full sync complete",
		"resources", synced,
		"nodes", stats.NodeCount,
		"edges", stats.EdgeCount,
		"elapsed", time.Since(start))
	return nil
}

func (e *Engine) syncKind(ctx context.Context, kind string) (int64, error) {
	resources, err := e.accessor.List(ctx, kind, e.opts.PageSize)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", kind, err)
	}
	for i := range resources {
		e.upsertResource(resources[i])
	}
	return int64(len(resources)), nil
}

// upsertResource writes one observed resource into the graph together
// with its owner-reference edges. Unknown owners get a placeholder node
// first so the edge can be recorded; the owner's own sync fills in the
// details later.
func (e *Engine) upsertResource(r cluster.Resource) {
	id := e.graph.AddResource(r.Kind, r.Namespace, r.Name, r.Fields, r.Labels)

	for _, owner := range r.Owners {
		ownerNS := r.Namespace
		if graph.IsClusterScoped(owner.Kind) {
			ownerNS = ""
		}
		ownerID := graph.ResourceID(owner.Kind, ownerNS, owner.Name)
		if _, ok := e.graph.GetNode(ownerID); !ok {
			e.graph.AddResource(owner.Kind, ownerNS, owner.Name,
				map[string]graph.Value{placeholderField: graph.Bool(true)}, nil)
		}
		e.graph.AddRelation(id, ownerID, graph.RelationOwnedBy, nil)
	}
}

func (e *Engine) watchLoop(ctx context.Context, kind string) {
	defer e.wg.Done()
	log := e.log.WithValues("kind", kind)
	retries := 0

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := e.accessor.Watch(ctx, kind, e.opts.WatchTimeout)
		if err != nil {
			if !e.handleWatchError(ctx, log, kind, err, &retries) {
				return
			}
			continue
		}

		streamErr := e.consume(ctx, stream, kind)
		stream.Stop()

		if streamErr != nil {
			if !e.handleWatchError(ctx, log, kind, streamErr, &retries) {
				return
			}
			continue
		}

		// Stream ended cleanly (timeout or shutdown); reconnect with a
		// clean retry budget.
		retries = 0
		metrics.WatchRestartsTotal.WithLabelValues(kind).Inc()
	}
}

// handleWatchError applies the retry policy and reports whether the
// watcher should keep running. A "resource version expired" error
// resubscribes immediately with the counter reset; anything else backs
// off exponentially up to the cap, and past the retry budget the
// watcher stops permanently.
func (e *Engine) handleWatchError(ctx context.Context, log logr.Logger, kind string, err error, retries *int) bool {
	if cluster.IsResourceExpired(err) {
		log.V(logging.DEBUG).Info("watch resource version expired, resubscribing")
		*retries = 0
		return true
	}

	*retries++
	e.mu.Lock()
	e.errorCount++
	e.mu.Unlock()

	if *retries > e.opts.MaxWatchRetries {
		log.Error(err, "watcher exceeded retry budget, stopping permanently", "retries", *retries-1)
		e.mu.Lock()
		e.stoppedWatchers = append(e.stoppedWatchers, kind)
		sort.Strings(e.stoppedWatchers)
		e.mu.Unlock()
		return false
	}

	wait := watchBackoffBase << (*retries - 1)
	if wait > watchBackoffCap {
		wait = watchBackoffCap
	}
	log.V(logging.DEBUG).Info("watch stream error, backing off", "error", err.Error(), "wait", wait)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// consume applies events from one stream strictly in receipt order
// until the stream ends. It returns the stream error, if any.
func (e *Engine) consume(ctx context.Context, stream cluster.WatchStream, kind string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if ev.Type == cluster.EventError {
				return ev.Err
			}
			e.applyEvent(ev)
			metrics.WatchEventsTotal.WithLabelValues(kind, strings.ToLower(string(ev.Type))).Inc()
		}
	}
}

func (e *Engine) applyEvent(ev cluster.Event) {
	switch ev.Type {
	case cluster.EventAdded, cluster.EventModified:
		e.upsertResource(ev.Resource)
	case cluster.EventDeleted:
		// Deleting an already-absent node is a no-op.
		e.graph.RemoveResource(ev.Resource.ID())
	}
}
