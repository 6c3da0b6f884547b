package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/clusterlens/clusterlens/internal/cluster"
	"github.com/clusterlens/clusterlens/internal/graph"
)

type stubStream struct {
	ch   chan cluster.Event
	once sync.Once
}

func newStubStream() *stubStream {
	return &stubStream{ch: make(chan cluster.Event, 16)}
}

func (s *stubStream) Events() <-chan cluster.Event { return s.ch }

func (s *stubStream) Stop() {
	s.once.Do(func() { close(s.ch) })
}

// stubAccessor is a scriptable in-memory Accessor.
type stubAccessor struct {
	mu        sync.Mutex
	resources map[string][]cluster.Resource
	pingErr   error
	listErrs  map[string]error
	watchFn   func(kind string) (cluster.WatchStream, error)
	listCalls int
}

func newStubAccessor() *stubAccessor {
	return &stubAccessor{
		resources: make(map[string][]cluster.Resource),
		listErrs:  make(map[string]error),
	}
}

func (a *stubAccessor) Ping(context.Context) error { return a.pingErr }

func (a *stubAccessor) List(_ context.Context, kind string, _ int64) ([]cluster.Resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	if err := a.listErrs[kind]; err != nil {
		return nil, err
	}
	return a.resources[kind], nil
}

func (a *stubAccessor) Watch(_ context.Context, kind string, _ time.Duration) (cluster.WatchStream, error) {
	if a.watchFn == nil {
		return newStubStream(), nil
	}
	return a.watchFn(kind)
}

func (a *stubAccessor) SupportedKinds() []string {
	return []string{"node", "namespace", "deployment", "replicaset", "service", "pod"}
}

func (a *stubAccessor) WatchableKinds() []string { return []string{"pod"} }

func (a *stubAccessor) add(r cluster.Resource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources[r.Kind] = append(a.resources[r.Kind], r)
}

func seedCluster(a *stubAccessor) {
	a.add(cluster.Resource{
		Kind: "node", Name: "worker-1",
		Fields: map[string]graph.Value{"ready": graph.Bool(true)},
	})
	a.add(cluster.Resource{
		Kind: "deployment", Namespace: "default", Name: "api",
		Fields: map[string]graph.Value{
			"replicas":       graph.Int(2),
			"ready_replicas": graph.Int(2),
			"selector":       graph.StringMap(map[string]string{"app": "api"}),
		},
	})
	a.add(cluster.Resource{
		Kind: "replicaset", Namespace: "default", Name: "api-7f9c",
		Owners: []cluster.OwnerRef{{Kind: "deployment", Name: "api"}},
		Fields: map[string]graph.Value{"replicas": graph.Int(2)},
	})
	a.add(cluster.Resource{
		Kind: "service", Namespace: "default", Name: "api",
		Fields: map[string]graph.Value{
			"selector": graph.StringMap(map[string]string{"app": "api"}),
		},
	})
	a.add(cluster.Resource{
		Kind: "pod", Namespace: "default", Name: "api-7f9c-x1",
		Labels: map[string]string{"app": "api"},
		Owners: []cluster.OwnerRef{{Kind: "replicaset", Name: "api-7f9c"}},
		Fields: map[string]graph.Value{
			"phase":     graph.String("Running"),
			"node_name": graph.String("worker-1"),
			"ready":     graph.Bool(true),
		},
	})
}

func newTestEngine(accessor cluster.Accessor) (*Engine, *graph.Graph) {
	g := graph.New(graph.Options{TTL: time.Hour})
	e := New(g, accessor, Options{
		SyncInterval:    time.Minute,
		WatchTimeout:    time.Minute,
		MaxWatchRetries: 1,
		GraphTTL:        time.Hour,
	})
	return e, g
}

func TestStartFailsFastWhenUnreachable(t *testing.T) {
	accessor := newStubAccessor()
	accessor.pingErr = errors.New("connection refused")
	e, _ := newTestEngine(accessor)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, e.Status().State)
}

func TestFullSyncBuildsGraph(t *testing.T) {
	accessor := newStubAccessor()
	seedCluster(accessor)
	e, g := newTestEngine(accessor)

	require.NoError(t, e.ForceSync(context.Background()))

	stats := g.Statistics()
	assert.Equal(t, 5, stats.NodeCount)

	// Owner chain from references.
	details, ok := g.GetDetails("pod/default/api-7f9c-x1")
	require.True(t, ok)
	assert.Equal(t, "replicaset/default/api-7f9c", details.OutgoingEdges[0].TargetID)

	// Relationship pass: service routes, node hosts.
	svcDetails, ok := g.GetDetails("service/default/api")
	require.True(t, ok)
	require.Len(t, svcDetails.OutgoingEdges, 1)
	assert.Equal(t, graph.RelationRoutes, svcDetails.OutgoingEdges[0].Relation)
	assert.Equal(t, "pod/default/api-7f9c-x1", svcDetails.OutgoingEdges[0].TargetID)

	nodeDetails, ok := g.GetDetails("node/worker-1")
	require.True(t, ok)
	require.Len(t, nodeDetails.OutgoingEdges, 1)
	assert.Equal(t, graph.RelationHosts, nodeDetails.OutgoingEdges[0].Relation)

	status := e.Status()
	assert.Equal(t, int64(5), status.ResourcesSynced)
	assert.False(t, status.LastFullSync.IsZero())
}

func TestFullSyncCreatesPlaceholderOwner(t *testing.T) {
	accessor := newStubAccessor()
	accessor.add(cluster.Resource{
		Kind: "pod", Namespace: "default", Name: "orphan-1",
		Owners: []cluster.OwnerRef{{Kind: "replicaset", Name: "ghost"}},
		Fields: map[string]graph.Value{"phase": graph.String("Running")},
	})
	e, g := newTestEngine(accessor)

	require.NoError(t, e.ForceSync(context.Background()))

	placeholder, ok := g.GetNode("replicaset/default/ghost")
	require.True(t, ok, "owner node must be created ahead of its own sync")
	assert.True(t, placeholder.Metadata[placeholderField].BoolVal())

	details, ok := g.GetDetails("pod/default/orphan-1")
	require.True(t, ok)
	require.Len(t, details.OutgoingEdges, 1)
	assert.Equal(t, graph.RelationOwnedBy, details.OutgoingEdges[0].Relation)
}

func TestFullSyncIsolatesKindFailures(t *testing.T) {
	accessor := newStubAccessor()
	seedCluster(accessor)
	accessor.listErrs["replicaset"] = errors.New("apiserver hiccup")
	e, g := newTestEngine(accessor)

	require.NoError(t, e.ForceSync(context.Background()))

	status := e.Status()
	assert.Equal(t, int64(1), status.ErrorCount)
	assert.Equal(t, int64(1), status.KindErrors["replicaset"])

	// Every other kind still landed, and the relationship pass ran.
	_, ok := g.GetNode("pod/default/api-7f9c-x1")
	assert.True(t, ok)
	svcDetails, ok := g.GetDetails("service/default/api")
	require.True(t, ok)
	assert.NotEmpty(t, svcDetails.OutgoingEdges)
}

func TestReplicaSetOwnershipBackfill(t *testing.T) {
	accessor := newStubAccessor()
	accessor.add(cluster.Resource{
		Kind: "deployment", Namespace: "default", Name: "api",
		Fields: map[string]graph.Value{"replicas": graph.Int(1)},
	})
	// Owner references stripped: the validation pass must infer the
	// deployment from the hashed name.
	accessor.add(cluster.Resource{
		Kind: "replicaset", Namespace: "default", Name: "api-7f9c",
		Fields: map[string]graph.Value{"replicas": graph.Int(1)},
	})
	e, g := newTestEngine(accessor)

	require.NoError(t, e.ForceSync(context.Background()))

	details, ok := g.GetDetails("replicaset/default/api-7f9c")
	require.True(t, ok)
	require.Len(t, details.OutgoingEdges, 1)
	assert.Equal(t, "deployment/default/api", details.OutgoingEdges[0].TargetID)
}

func TestWatchEventsApplied(t *testing.T) {
	accessor := newStubAccessor()
	scripted := newStubStream()
	blocking := newStubStream()
	calls := 0
	accessor.watchFn = func(string) (cluster.WatchStream, error) {
		calls++
		if calls == 1 {
			return scripted, nil
		}
		return blocking, nil
	}
	e, g := newTestEngine(accessor)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	scripted.ch <- cluster.Event{Type: cluster.EventAdded, Resource: cluster.Resource{
		Kind: "pod", Namespace: "default", Name: "web-1",
		Fields: map[string]graph.Value{"phase": graph.String("Running")},
	}}
	// DELETED for a node the graph never saw: no error, no state change.
	scripted.ch <- cluster.Event{Type: cluster.EventDeleted, Resource: cluster.Resource{
		Kind: "pod", Namespace: "default", Name: "never-seen",
	}}
	scripted.ch <- cluster.Event{Type: cluster.EventModified, Resource: cluster.Resource{
		Kind: "pod", Namespace: "default", Name: "web-1",
		Fields: map[string]graph.Value{"phase": graph.String("Failed")},
	}}
	scripted.Stop()

	require.Eventually(t, func() bool {
		node, ok := g.GetNode("pod/default/web-1")
		return ok && node.Metadata["phase"].Str() == "Failed"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), e.Status().ErrorCount)
	_, ok := g.GetNode("pod/default/never-seen")
	assert.False(t, ok)
}

func TestWatcherStopsAfterRetryBudget(t *testing.T) {
	accessor := newStubAccessor()
	accessor.watchFn = func(string) (cluster.WatchStream, error) {
		return nil, errors.New("stream broken")
	}
	e, _ := newTestEngine(accessor)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.Eventually(t, func() bool {
		status := e.Status()
		return len(status.StoppedWatchers) == 1 && status.StoppedWatchers[0] == "pod"
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, HealthDegraded, e.Health())
}

func TestHandleWatchErrorPolicy(t *testing.T) {
	e, _ := newTestEngine(newStubAccessor())

	t.Run("resource version expired resets retries", func(t *testing.T) {
		retries := 3
		ok := e.handleWatchError(context.Background(), logr.Discard(), "pod",
			apierrors.NewResourceExpired("too old"), &retries)
		assert.True(t, ok)
		assert.Equal(t, 0, retries)
	})

	t.Run("exceeding the budget stops the watcher", func(t *testing.T) {
		retries := e.opts.MaxWatchRetries
		ok := e.handleWatchError(context.Background(), logr.Discard(), "deployment",
			errors.New("boom"), &retries)
		assert.False(t, ok)
		assert.Contains(t, e.Status().StoppedWatchers, "deployment")
	})
}

func TestHealthFor(t *testing.T) {
	now := time.Now()
	interval := time.Minute

	tests := []struct {
		name   string
		status Status
		want   Health
	}{
		{
			name:   "not running",
			status: Status{State: StateStopped},
			want:   HealthStopped,
		},
		{
			name:   "running but never synced",
			status: Status{State: StateRunning},
			want:   HealthStale,
		},
		{
			name:   "last sync too old",
			status: Status{State: StateRunning, LastFullSync: now.Add(-3 * interval)},
			want:   HealthStale,
		},
		{
			name:   "running with errors",
			status: Status{State: StateRunning, LastFullSync: now, ErrorCount: 2},
			want:   HealthDegraded,
		},
		{
			name:   "running with a dead watcher",
			status: Status{State: StateRunning, LastFullSync: now, StoppedWatchers: []string{"pod"}},
			want:   HealthDegraded,
		},
		{
			name:   "healthy",
			status: Status{State: StateRunning, LastFullSync: now},
			want:   HealthHealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HealthFor(tt.status, interval, now))
		})
	}
}

func TestStartStopLifecycle(t *testing.T) {
	accessor := newStubAccessor()
	seedCluster(accessor)
	e, _ := newTestEngine(accessor)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.Status().State)

	// Double start is rejected.
	require.Error(t, e.Start(context.Background()))

	e.Stop()
	assert.Equal(t, StateStopped, e.Status().State)
	assert.Equal(t, HealthStopped, e.Health())

	// Stop on a stopped engine is a no-op.
	e.Stop()
}

func TestConcurrentSyncAndReads(t *testing.T) {
	accessor := newStubAccessor()
	for i := 0; i < 50; i++ {
		accessor.add(cluster.Resource{
			Kind: "pod", Namespace: "default", Name: fmt.Sprintf("pod-%d", i),
			Fields: map[string]graph.Value{"phase": graph.String("Running")},
		})
	}
	e, g := newTestEngine(accessor)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.ForceSync(context.Background())
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				g.Statistics()
				g.GetRelated("pod/default/pod-1", 3, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, g.Statistics().NodeCount)
}
