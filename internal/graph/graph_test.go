package graph

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestGraph(t *testing.T) (*Graph, *testclock.FakePassiveClock) {
	t.Helper()
	clk := testclock.NewFakePassiveClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	return New(Options{TTL: time.Hour, MemoryBudgetMB: 64, Clock: clk}), clk
}

func TestResourceID(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		namespace string
		resName   string
		want      string
	}{
		{name: "namespaced", kind: "pod", namespace: "default", resName: "web-1", want: "pod/default/web-1"},
		{name: "cluster scoped drops namespace", kind: "node", namespace: "ignored", resName: "worker-1", want: "node/worker-1"},
		{name: "persistent volume", kind: "persistentvolume", namespace: "", resName: "pv-1", want: "persistentvolume/pv-1"},
		{name: "kind is lowercased", kind: "Deployment", namespace: "prod", resName: "api", want: "deployment/prod/api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResourceID(tt.kind, tt.namespace, tt.resName))
		})
	}
}

func TestAddResourceIdempotent(t *testing.T) {
	g, clk := newTestGraph(t)

	id := g.AddResource("pod", "default", "web-1", map[string]Value{"phase": String("Running")}, map[string]string{"app": "web"})
	first, ok := g.GetNode(id)
	require.True(t, ok)

	clk.SetTime(clk.Now().Add(5 * time.Minute))
	again := g.AddResource("pod", "default", "web-1", map[string]Value{"phase": String("Failed"), "restart_count": Int(3)}, nil)
	require.Equal(t, id, again)

	second, ok := g.GetNode(id)
	require.True(t, ok)

	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at must be preserved across upserts")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "last_updated must advance")
	assert.Equal(t, "Failed", second.Metadata["phase"].Str(), "metadata is merged, later values win")
	assert.Equal(t, int64(3), second.Metadata["restart_count"].IntVal())
	assert.Equal(t, "web", second.Labels["app"], "existing labels survive a merge with nil labels")
	assert.Equal(t, 1, g.Statistics().NodeCount)
}

func TestAddRelationMissingEndpoint(t *testing.T) {
	g, _ := newTestGraph(t)
	podID := g.AddResource("pod", "default", "web-1", nil, nil)

	assert.False(t, g.AddRelation(podID, "deployment/default/missing", RelationOwnedBy, nil))
	assert.False(t, g.AddRelation("service/default/missing", podID, RelationRoutes, nil))
	assert.Equal(t, 0, g.Statistics().EdgeCount, "failed relation must leave edge count unchanged")
}

func TestAddRelationDedup(t *testing.T) {
	g, _ := newTestGraph(t)
	a := g.AddResource("deployment", "default", "api", nil, nil)
	b := g.AddResource("replicaset", "default", "api-abc", nil, nil)

	require.True(t, g.AddRelation(b, a, RelationOwnedBy, nil))
	require.True(t, g.AddRelation(b, a, RelationOwnedBy, nil))
	assert.Equal(t, 1, g.Statistics().EdgeCount)
}

func TestRemoveResourceRemovesIncidentEdges(t *testing.T) {
	g, _ := newTestGraph(t)
	svc := g.AddResource("service", "default", "web", nil, nil)
	pod := g.AddResource("pod", "default", "web-1", nil, nil)
	node := g.AddResource("node", "", "worker-1", nil, nil)
	require.True(t, g.AddRelation(svc, pod, RelationRoutes, nil))
	require.True(t, g.AddRelation(node, pod, RelationHosts, nil))

	require.True(t, g.RemoveResource(pod))
	assert.Equal(t, 0, g.Statistics().EdgeCount)
	assert.Equal(t, 2, g.Statistics().NodeCount)

	assert.False(t, g.RemoveResource(pod), "removing an absent node reports false")
}

func TestCleanupExpired(t *testing.T) {
	g, clk := newTestGraph(t)

	old := g.AddResource("pod", "default", "old", nil, nil)
	svc := g.AddResource("service", "default", "web", nil, nil)
	require.True(t, g.AddRelation(svc, old, RelationRoutes, nil))

	clk.SetTime(clk.Now().Add(2 * time.Hour))
	fresh := g.AddResource("pod", "default", "fresh", nil, nil)

	removed := g.CleanupExpired(time.Hour)
	assert.Equal(t, 2, removed, "both stale nodes are evicted")

	_, ok := g.GetNode(old)
	assert.False(t, ok)
	_, ok = g.GetNode(fresh)
	assert.True(t, ok, "nodes newer than the cutoff are untouched")
	assert.Equal(t, 0, g.Statistics().EdgeCount, "incident edges go with their nodes")
}

func TestAddResourceEnforcesMemoryBudget(t *testing.T) {
	clk := testclock.NewFakePassiveClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	g := New(Options{TTL: time.Hour, MemoryBudgetMB: 1, Clock: clk})

	// 512 nodes at the estimated footprint fill the 1 MB budget.
	perMB := 1024 * 1024 / estimatedNodeBytes
	for i := 0; i < perMB; i++ {
		g.AddResource("pod", "default", fmt.Sprintf("pod-%d", i), nil, nil)
	}
	require.Equal(t, perMB, g.Statistics().NodeCount)

	clk.SetTime(clk.Now().Add(2 * time.Hour))
	fresh := g.AddResource("pod", "default", "fresh", nil, nil)

	stats := g.Statistics()
	assert.Equal(t, 1, stats.NodeCount, "over-budget add evicts every expired node")
	_, ok := g.GetNode(fresh)
	assert.True(t, ok)
}

func TestFindByLabels(t *testing.T) {
	g, _ := newTestGraph(t)
	g.AddResource("pod", "default", "web-1", nil, map[string]string{"app": "web", "tier": "frontend"})
	g.AddResource("pod", "default", "web-2", nil, map[string]string{"app": "web"})
	g.AddResource("pod", "prod", "web-3", nil, map[string]string{"app": "web"})
	g.AddResource("pod", "default", "db-1", nil, map[string]string{"app": "db"})

	tests := []struct {
		name      string
		selector  map[string]string
		namespace string
		want      []string
	}{
		{
			name:     "single label across namespaces",
			selector: map[string]string{"app": "web"},
			want:     []string{"pod/default/web-1", "pod/default/web-2", "pod/prod/web-3"},
		},
		{
			name:      "namespace restricted",
			selector:  map[string]string{"app": "web"},
			namespace: "prod",
			want:      []string{"pod/prod/web-3"},
		},
		{
			name:     "all selector pairs must match",
			selector: map[string]string{"app": "web", "tier": "frontend"},
			want:     []string{"pod/default/web-1"},
		},
		{
			name:     "empty selector matches nothing",
			selector: nil,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.FindByLabels(tt.selector, tt.namespace))
		})
	}
}

func TestGetDetails(t *testing.T) {
	g, _ := newTestGraph(t)
	dep := g.AddResource("deployment", "default", "api", nil, nil)
	rs := g.AddResource("replicaset", "default", "api-abc", nil, nil)
	pod := g.AddResource("pod", "default", "api-abc-1", nil, nil)
	require.True(t, g.AddRelation(rs, dep, RelationOwnedBy, nil))
	require.True(t, g.AddRelation(pod, rs, RelationOwnedBy, nil))

	details, ok := g.GetDetails(rs)
	require.True(t, ok)
	assert.Equal(t, 1, details.OutDegree)
	assert.Equal(t, 1, details.InDegree)
	assert.Equal(t, dep, details.OutgoingEdges[0].TargetID)
	assert.Equal(t, pod, details.IncomingEdges[0].SourceID)

	_, ok = g.GetDetails("pod/default/nope")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	g, _ := newTestGraph(t)
	a := g.AddResource("pod", "default", "a", nil, nil)
	b := g.AddResource("pod", "default", "b", nil, nil)
	require.True(t, g.AddRelation(a, b, RelationDependsOn, nil))

	g.Clear()
	stats := g.Statistics()
	assert.Equal(t, 0, stats.NodeCount)
	assert.Equal(t, 0, stats.EdgeCount)
}

func TestConcurrentAddResource(t *testing.T) {
	g, _ := newTestGraph(t)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			g.AddResource("pod", "default", fmt.Sprintf("pod-%d", i), map[string]Value{"phase": String("Running")}, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, g.Statistics().NodeCount, "no lost updates under concurrent inserts")
}

func TestStatistics(t *testing.T) {
	g, _ := newTestGraph(t)
	g.AddResource("pod", "default", "a", nil, nil)
	g.AddResource("pod", "prod", "b", nil, nil)
	g.AddResource("node", "", "worker-1", nil, nil)
	require.True(t, g.AddRelation("node/worker-1", "pod/default/a", RelationHosts, nil))

	stats := g.Statistics()
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 2, stats.NodesByKind["pod"])
	assert.Equal(t, 1, stats.NodesByKind["node"])
	assert.Equal(t, 1, stats.EdgesByType[RelationHosts])
	assert.Equal(t, 2, stats.NamespaceCount)
}
