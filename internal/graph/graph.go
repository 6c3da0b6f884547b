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

// Package graph implements the in-memory cluster knowledge graph:
// resource nodes keyed by deterministic ids, typed relation edges, and
// bounded traversal primitives (bidirectional, impact, dependency).
//
// The graph is the single shared mutable resource of the process. One
// coarse mutex guards all state; operations are CPU-bound and fast, so
// a single lock avoids whole classes of races without finer-grained
// locking. Internal *Locked helpers carry compound operations (e.g. the
// memory-bound cleanup inside AddResource) under the one lock already
// held.
package graph

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Rough per-item in-memory footprints for the memory-bound check.
const (
	estimatedNodeBytes = 2048
	estimatedEdgeBytes = 256
)

// Options configure a Graph instance.
type Options struct {
	// TTL is the maximum age of a node since its last update before the
	// memory-bound check may evict it. Zero disables bound-driven eviction.
	TTL time.Duration

	// MemoryBudgetMB caps the estimated graph footprint. When the
	// estimate exceeds the budget, AddResource runs an expired-node
	// cleanup before inserting. Zero means unbounded.
	MemoryBudgetMB int

	// Clock is injectable for tests; defaults to the real clock.
	Clock clock.PassiveClock
}

// Graph is the thread-safe resource/relation store.
type Graph struct {
	mu sync.Mutex

	nodes map[string]*ResourceNode
	// outgoing[src] and incoming[dst] index the same edge set both ways.
	outgoing map[string][]*RelationEdge
	incoming map[string][]*RelationEdge
	// edgeKeys dedups edges by (source, target, relation).
	edgeKeys map[string]*RelationEdge

	ttl          time.Duration
	memoryBudget int
	clock        clock.PassiveClock
}

// New creates an empty graph.
func New(opts Options) *Graph {
	c := opts.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	return &Graph{
		nodes:        make(map[string]*ResourceNode),
		outgoing:     make(map[string][]*RelationEdge),
		incoming:     make(map[string][]*RelationEdge),
		edgeKeys:     make(map[string]*RelationEdge),
		ttl:          opts.TTL,
		memoryBudget: opts.MemoryBudgetMB,
		clock:        c,
	}
}

// AddResource upserts a node and returns its id. On repeat calls for
// the same (kind, namespace, name) identity the original created_at is
// preserved, metadata and labels are merged, and last_updated advances.
// A memory-bound check runs first and may evict expired nodes.
func (g *Graph) AddResource(kind, namespace, name string, metadata map[string]Value, labels map[string]string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enforceMemoryBudgetLocked()

	id := ResourceID(kind, namespace, name)
	now := g.clock.Now()

	if existing, ok := g.nodes[id]; ok {
		if existing.Metadata == nil && len(metadata) > 0 {
			existing.Metadata = make(map[string]Value, len(metadata))
		}
		for k, v := range metadata {
			existing.Metadata[k] = v.clone()
		}
		if existing.Labels == nil && len(labels) > 0 {
			existing.Labels = make(map[string]string, len(labels))
		}
		for k, v := range labels {
			existing.Labels[k] = v
		}
		existing.UpdatedAt = now
		return id
	}

	ns := namespace
	if IsClusterScoped(kind) {
		ns = ""
	}
	g.nodes[id] = &ResourceNode{
		ID:        id,
		Kind:      strings.ToLower(kind),
		Namespace: ns,
		Name:      name,
		Metadata:  cloneMetadata(metadata),
		Labels:    cloneLabels(labels),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// AddRelation records a directed edge. It returns false without side
// effects when either endpoint is absent: sync order is not guaranteed,
// so a missing endpoint is expected while sync is in progress.
func (g *Graph) AddRelation(sourceID, targetID, relation string, metadata map[string]Value) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[sourceID]; !ok {
		return false
	}
	if _, ok := g.nodes[targetID]; !ok {
		return false
	}

	key := sourceID + "\x00" + targetID + "\x00" + relation
	if existing, ok := g.edgeKeys[key]; ok {
		for k, v := range metadata {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]Value, len(metadata))
			}
			existing.Metadata[k] = v.clone()
		}
		return true
	}

	edge := &RelationEdge{
		SourceID:  sourceID,
		TargetID:  targetID,
		Relation:  relation,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: g.clock.Now(),
	}
	g.edgeKeys[key] = edge
	g.outgoing[sourceID] = append(g.outgoing[sourceID], edge)
	g.incoming[targetID] = append(g.incoming[targetID], edge)
	return true
}

// RemoveResource deletes a node and every edge incident to it. It
// returns false if the node does not exist.
func (g *Graph) RemoveResource(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeResourceLocked(id)
}

func (g *Graph) removeResourceLocked(id string) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)

	for _, edge := range g.outgoing[id] {
		g.dropEdgeFromIndex(g.incoming, edge.TargetID, edge)
		delete(g.edgeKeys, edge.SourceID+"\x00"+edge.TargetID+"\x00"+edge.Relation)
	}
	delete(g.outgoing, id)

	for _, edge := range g.incoming[id] {
		g.dropEdgeFromIndex(g.outgoing, edge.SourceID, edge)
		delete(g.edgeKeys, edge.SourceID+"\x00"+edge.TargetID+"\x00"+edge.Relation)
	}
	delete(g.incoming, id)
	return true
}

func (g *Graph) dropEdgeFromIndex(index map[string][]*RelationEdge, key string, edge *RelationEdge) {
	edges := index[key]
	for i, e := range edges {
		if e == edge {
			index[key] = append(edges[:i], edges[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}

// GetRelated walks edges in both directions out to maxDepth and returns
// every reachable node tagged with direction, relation, and depth.
// Results are deduplicated by (node, depth, direction, relation); the
// same node can legitimately appear at multiple depths or directions.
// relationFilter, when non-empty, restricts which edge types are crossed.
func (g *Graph) GetRelated(id string, maxDepth int, relationFilter []string) []RelatedItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok || maxDepth < 1 {
		return nil
	}

	allowed := toSet(relationFilter)

	type frontierEntry struct {
		id    string
		depth int
	}

	var results []RelatedItem
	seen := map[string]bool{}
	visited := map[string]bool{id: true}
	frontier := []frontierEntry{{id: id, depth: 0}}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current.depth >= maxDepth {
			continue
		}
		nextDepth := current.depth + 1

		expand := func(edges []*RelationEdge, direction Direction) {
			for _, edge := range edges {
				if len(allowed) > 0 && !allowed[edge.Relation] {
					continue
				}
				neighborID := edge.TargetID
				if direction == DirectionIncoming {
					neighborID = edge.SourceID
				}
				if neighborID == id {
					continue
				}
				node, ok := g.nodes[neighborID]
				if !ok {
					continue
				}
				dedupKey := neighborID + "\x00" + string(direction) + "\x00" + edge.Relation + "\x00" + strconv.Itoa(nextDepth)
				if seen[dedupKey] {
					continue
				}
				seen[dedupKey] = true
				results = append(results, RelatedItem{
					Node:      node.clone(),
					Relation:  edge.Relation,
					Direction: direction,
					Depth:     nextDepth,
				})
				if !visited[neighborID] {
					visited[neighborID] = true
					frontier = append(frontier, frontierEntry{id: neighborID, depth: nextDepth})
				}
			}
		}

		expand(g.outgoing[current.id], DirectionOutgoing)
		expand(g.incoming[current.id], DirectionIncoming)
	}
	return results
}

// Downstream walks outgoing edges only and returns each reachable node
// tagged with the relation and depth it was reached through. Unlike
// AnalyzeImpactScope it keeps the per-hop relation, which propagation
// scoring needs; unlike GetRelated it never crosses an edge against
// its direction, so an upstream neighbor's other children are not
// reported as downstream.
func (g *Graph) Downstream(id string, maxDepth int, relationFilter []string) []RelatedItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok || maxDepth < 1 {
		return nil
	}

	allowed := toSet(relationFilter)

	type frontierEntry struct {
		id    string
		depth int
	}

	var results []RelatedItem
	seen := map[string]bool{}
	visited := map[string]bool{id: true}
	frontier := []frontierEntry{{id: id, depth: 0}}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current.depth >= maxDepth {
			continue
		}
		nextDepth := current.depth + 1

		for _, edge := range g.outgoing[current.id] {
			if len(allowed) > 0 && !allowed[edge.Relation] {
				continue
			}
			if edge.TargetID == id {
				continue
			}
			node, ok := g.nodes[edge.TargetID]
			if !ok {
				continue
			}
			dedupKey := edge.TargetID + "\x00" + edge.Relation + "\x00" + strconv.Itoa(nextDepth)
			if seen[dedupKey] {
				continue
			}
			seen[dedupKey] = true
			results = append(results, RelatedItem{
				Node:      node.clone(),
				Relation:  edge.Relation,
				Direction: DirectionOutgoing,
				Depth:     nextDepth,
			})
			if !visited[edge.TargetID] {
				visited[edge.TargetID] = true
				frontier = append(frontier, frontierEntry{id: edge.TargetID, depth: nextDepth})
			}
		}
	}
	return results
}

// AnalyzeImpactScope walks outgoing edges only: the downstream blast
// radius of a change to id, grouped by distance.
func (g *Graph) AnalyzeImpactScope(id string, maxDepth int) []LevelGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.directionalBFSLocked(id, maxDepth, DirectionOutgoing)
}

// TraceDependencyChain walks incoming edges only: the upstream
// prerequisites of id, grouped by distance. It is the mirror of
// AnalyzeImpactScope.
func (g *Graph) TraceDependencyChain(id string, maxDepth int) []LevelGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.directionalBFSLocked(id, maxDepth, DirectionIncoming)
}

func (g *Graph) directionalBFSLocked(id string, maxDepth int, direction Direction) []LevelGroup {
	if _, ok := g.nodes[id]; !ok || maxDepth < 1 {
		return nil
	}

	var groups []LevelGroup
	visited := map[string]bool{id: true}
	frontier := []string{id}

	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		var next []string
		var nodes []*ResourceNode
		for _, currentID := range frontier {
			var edges []*RelationEdge
			if direction == DirectionOutgoing {
				edges = g.outgoing[currentID]
			} else {
				edges = g.incoming[currentID]
			}
			for _, edge := range edges {
				neighborID := edge.TargetID
				if direction == DirectionIncoming {
					neighborID = edge.SourceID
				}
				if visited[neighborID] {
					continue
				}
				visited[neighborID] = true
				if node, ok := g.nodes[neighborID]; ok {
					nodes = append(nodes, node.clone())
					next = append(next, neighborID)
				}
			}
		}
		if len(nodes) > 0 {
			groups = append(groups, LevelGroup{Level: level, Nodes: nodes})
		}
		frontier = next
	}
	return groups
}

// ShortestPaths finds up to maxPaths shortest edge sequences between
// two nodes, crossing edges in either direction and never revisiting a
// node already on the current path. Paths are returned shortest first.
func (g *Graph) ShortestPaths(fromID, toID string, maxDepth, maxPaths int) [][]*RelationEdge {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[fromID]; !ok {
		return nil
	}
	if _, ok := g.nodes[toID]; !ok {
		return nil
	}
	if fromID == toID || maxDepth < 1 || maxPaths < 1 {
		return nil
	}

	type pathState struct {
		nodeID string
		path   []*RelationEdge
		onPath map[string]bool
	}

	var found [][]*RelationEdge
	queue := []pathState{{nodeID: fromID, onPath: map[string]bool{fromID: true}}}

	// BFS expands paths in non-decreasing length order, so the first
	// maxPaths hits are the shortest ones.
	for len(queue) > 0 && len(found) < maxPaths {
		state := queue[0]
		queue = queue[1:]

		if len(state.path) >= maxDepth {
			continue
		}

		step := func(edge *RelationEdge, neighborID string) {
			if state.onPath[neighborID] {
				return
			}
			newPath := make([]*RelationEdge, len(state.path), len(state.path)+1)
			copy(newPath, state.path)
			newPath = append(newPath, edge)
			if neighborID == toID {
				if len(found) < maxPaths {
					found = append(found, newPath)
				}
				return
			}
			onPath := make(map[string]bool, len(state.onPath)+1)
			for k := range state.onPath {
				onPath[k] = true
			}
			onPath[neighborID] = true
			queue = append(queue, pathState{nodeID: neighborID, path: newPath, onPath: onPath})
		}

		for _, edge := range g.outgoing[state.nodeID] {
			step(edge, edge.TargetID)
		}
		for _, edge := range g.incoming[state.nodeID] {
			step(edge, edge.SourceID)
		}
	}
	return found
}

// FindByLabels returns the ids of every node whose labels contain all
// selector pairs exactly, optionally restricted to one namespace.
func (g *Graph) FindByLabels(selector map[string]string, namespace string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for id, node := range g.nodes {
		if namespace != "" && node.Namespace != namespace {
			continue
		}
		if matchesSelector(node.Labels, selector) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func matchesSelector(labels, selector map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// GetDetails returns the node with its edge lists and degrees, or
// (nil, false) when the id is unknown.
func (g *Graph) GetDetails(id string) (*Details, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	out := make([]*RelationEdge, 0, len(g.outgoing[id]))
	for _, e := range g.outgoing[id] {
		c := *e
		out = append(out, &c)
	}
	in := make([]*RelationEdge, 0, len(g.incoming[id]))
	for _, e := range g.incoming[id] {
		c := *e
		in = append(in, &c)
	}
	return &Details{
		Node:          node.clone(),
		OutgoingEdges: out,
		IncomingEdges: in,
		OutDegree:     len(out),
		InDegree:      len(in),
	}, true
}

// GetNode returns a copy of one node, or (nil, false) if absent.
func (g *Graph) GetNode(id string) (*ResourceNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return node.clone(), true
}

// Nodes returns a copy of every node in the graph.
func (g *Graph) Nodes() []*ResourceNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*ResourceNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		out = append(out, node.clone())
	}
	return out
}

// NodesByKind returns copies of every node of the given kind.
func (g *Graph) NodesByKind(kind string) []*ResourceNode {
	kind = strings.ToLower(kind)
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*ResourceNode
	for _, node := range g.nodes {
		if node.Kind == kind {
			out = append(out, node.clone())
		}
	}
	return out
}

// CleanupExpired removes every node whose last update predates now-ttl,
// along with all incident edges, and returns the number removed.
func (g *Graph) CleanupExpired(ttl time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cleanupExpiredLocked(ttl)
}

func (g *Graph) cleanupExpiredLocked(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := g.clock.Now().Add(-ttl)
	var expired []string
	for id, node := range g.nodes {
		if node.UpdatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		g.removeResourceLocked(id)
	}
	return len(expired)
}

// enforceMemoryBudgetLocked evicts expired nodes when the estimated
// footprint exceeds the configured budget. Called with g.mu held.
func (g *Graph) enforceMemoryBudgetLocked() {
	if g.memoryBudget <= 0 || g.ttl <= 0 {
		return
	}
	estimated := len(g.nodes)*estimatedNodeBytes + len(g.edgeKeys)*estimatedEdgeBytes
	if estimated/(1024*1024) >= g.memoryBudget {
		g.cleanupExpiredLocked(g.ttl)
	}
}

// Statistics returns a size summary of the current graph state.
func (g *Graph) Statistics() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := Stats{
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.edgeKeys),
		NodesByKind: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	namespaces := map[string]bool{}
	for _, node := range g.nodes {
		stats.NodesByKind[node.Kind]++
		if node.Namespace != "" {
			namespaces[node.Namespace] = true
		}
	}
	for _, edge := range g.edgeKeys {
		stats.EdgesByType[edge.Relation]++
	}
	stats.NamespaceCount = len(namespaces)
	return stats
}

// Clear drops all nodes and edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*ResourceNode)
	g.outgoing = make(map[string][]*RelationEdge)
	g.incoming = make(map[string][]*RelationEdge)
	g.edgeKeys = make(map[string]*RelationEdge)
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

