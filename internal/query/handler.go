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

// Package query exposes the higher-level graph algorithms: impact
// analysis, dependency tracing, failure propagation, path finding,
// topology rollups, and anomaly correlation. Every request goes
// through one Execute entry point that validates, caches, dispatches,
// and records statistics; failures of any sort come back as a failed
// Result, never as a panic or error crossing the boundary.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/clusterlens/clusterlens/internal/graph"
	"github.com/clusterlens/clusterlens/internal/metrics"
	"github.com/clusterlens/clusterlens/internal/summary"
)

// Options configure a Handler.
type Options struct {
	// CacheTTL bounds how long results are served from cache.
	CacheTTL time.Duration

	// CacheSize bounds the cache entry count.
	CacheSize int
}

func (o *Options) applyDefaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 2 * time.Minute
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
}

// Handler executes relation queries against the graph.
type Handler struct {
	graph     *graph.Graph
	generator *summary.Generator
	cache     *resultCache

	statsMu sync.Mutex
	stats   Statistics
}

// NewHandler creates a handler reading g. generator may be nil, in
// which case anomaly_correlation queries fail gracefully.
func NewHandler(g *graph.Graph, generator *summary.Generator, opts Options) *Handler {
	opts.applyDefaults()
	return &Handler{
		graph:     g,
		generator: generator,
		cache:     newResultCache(opts.CacheTTL, opts.CacheSize),
		stats:     Statistics{QueryCounts: make(map[Type]int64)},
	}
}

// Execute runs one query end to end. It never panics and never returns
// an error: every failure is a Result with Success=false.
func (h *Handler) Execute(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	result.Type = req.Type
	result.Timestamp = start.UTC()

	defer func() {
		if r := recover(); r != nil {
			ctrl.Log.Error(fmt.Errorf("panic: %v", r), "query execution panicked", "type", req.Type)
			result = failed(req.Type, fmt.Sprintf("internal error: %v", r))
		}
		result.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
		h.recordStats(ctx, req.Type, result)
	}()

	if err := req.normalize(); err != nil {
		return failed(req.Type, err.Error())
	}

	key := cacheKey(&req)
	if cached, ok := h.cache.get(key); ok {
		h.statsMu.Lock()
		h.stats.CacheHits++
		h.statsMu.Unlock()
		cached.Cached = true
		return cached
	}

	switch req.Type {
	case TypeRelatedResources:
		result = h.relatedResources(req)
	case TypeImpactAnalysis:
		result = h.impactAnalysis(req)
	case TypeDependencyTrace:
		result = h.dependencyTrace(req)
	case TypeFailurePropagation:
		result = h.failurePropagation(req)
	case TypeResourcePath:
		result = h.resourcePath(req)
	case TypeClusterTopology:
		result = h.clusterTopology(req)
	case TypeAnomalyCorrelation:
		result = h.anomalyCorrelation(req)
	}
	result.Type = req.Type
	result.Timestamp = start.UTC()

	if result.Success {
		h.cache.put(key, result)
	}
	return result
}

// Statistics returns a copy of the running execution counters.
func (h *Handler) Statistics() Statistics {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	counts := make(map[Type]int64, len(h.stats.QueryCounts))
	for k, v := range h.stats.QueryCounts {
		counts[k] = v
	}
	out := h.stats
	out.QueryCounts = counts
	return out
}

func (h *Handler) recordStats(ctx context.Context, queryType Type, result Result) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.QueriesTotal.WithLabelValues(string(queryType), outcome).Inc()
	metrics.QueryDuration.WithLabelValues(string(queryType)).Observe(result.ElapsedMS / 1000)

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.QueryCounts[queryType]++
	h.stats.Executions++
	h.stats.AvgLatencyMS += (result.ElapsedMS - h.stats.AvgLatencyMS) / float64(h.stats.Executions)
	if !result.Success {
		h.stats.Errors++
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		h.stats.Timeouts++
	}
}

func failed(queryType Type, message string) Result {
	return Result{Success: false, Error: message, Type: queryType, Timestamp: time.Now().UTC()}
}

func (h *Handler) relatedResources(req Request) Result {
	var out []RelatedResource
	for _, target := range req.Targets {
		for _, item := range h.graph.GetRelated(target, req.MaxDepth, req.Relations) {
			if len(out) >= req.Limit {
				break
			}
			entry := RelatedResource{Target: target, Item: item}
			if !req.IncludeMetadata {
				entry.Item.Node.Metadata = nil
			}
			if req.IncludeHealth {
				entry.Abnormal, entry.Reason = summary.IsAbnormal(item.Node)
			}
			out = append(out, entry)
		}
	}
	return Result{Success: true, Related: out}
}

func (h *Handler) impactAnalysis(req Request) Result {
	reports := make([]ImpactReport, 0, len(req.Targets))
	for _, target := range req.Targets {
		report := ImpactReport{Target: target}
		for _, group := range h.graph.AnalyzeImpactScope(target, req.MaxDepth) {
			for _, node := range group.Nodes {
				if len(report.Resources) >= req.Limit {
					break
				}
				score := riskScore(group.Level, node.Kind)
				if score > report.RiskScore {
					report.RiskScore = score
				}
				report.Resources = append(report.Resources, ScoredResource{
					ID:    node.ID,
					Kind:  node.Kind,
					Name:  node.Name,
					Level: group.Level,
					Score: score,
				})
			}
		}
		reports = append(reports, report)
	}
	return Result{Success: true, Impact: reports}
}

func (h *Handler) dependencyTrace(req Request) Result {
	reports := make([]DependencyReport, 0, len(req.Targets))
	for _, target := range req.Targets {
		report := DependencyReport{Target: target}
		for _, group := range h.graph.TraceDependencyChain(target, req.MaxDepth) {
			for _, node := range group.Nodes {
				if len(report.Resources) >= req.Limit {
					break
				}
				score := criticalityScore(group.Level, node.Kind)
				if score > report.CriticalityScore {
					report.CriticalityScore = score
				}
				report.Resources = append(report.Resources, ScoredResource{
					ID:    node.ID,
					Kind:  node.Kind,
					Name:  node.Name,
					Level: group.Level,
					Score: score,
				})
			}
		}
		reports = append(reports, report)
	}
	return Result{Success: true, Dependency: reports}
}

func (h *Handler) failurePropagation(req Request) Result {
	reports := make([]PropagationReport, 0, len(req.Targets))
	for _, target := range req.Targets {
		report := PropagationReport{Target: target}
		for _, item := range h.graph.Downstream(target, req.MaxDepth, req.Relations) {
			if len(report.Targets) >= req.Limit {
				break
			}
			report.Targets = append(report.Targets, PropagationTarget{
				ID:           item.Node.ID,
				Kind:         item.Node.Kind,
				Relation:     item.Relation,
				Level:        item.Depth,
				Probability:  propagationProbability(item.Depth, item.Relation),
				TimeToImpact: timeToImpact(item.Depth, item.Relation),
				Severity:     severityForKind(item.Node.Kind),
				Mitigations:  mitigationsForKind(item.Node.Kind),
			})
		}
		reports = append(reports, report)
	}
	return Result{Success: true, Propagation: reports}
}

func (h *Handler) resourcePath(req Request) Result {
	from, to := req.Targets[0], req.Targets[1]

	paths := h.graph.ShortestPaths(from, to, req.MaxDepth, maxPathResults)
	result := &PathResult{From: from, To: to, Paths: make([]Path, 0, len(paths))}
	for _, edges := range paths {
		p := Path{Strength: pathStrength(edges), Edges: make([]PathEdge, 0, len(edges))}
		for _, edge := range edges {
			p.Edges = append(p.Edges, PathEdge{
				SourceID: edge.SourceID,
				TargetID: edge.TargetID,
				Relation: edge.Relation,
			})
		}
		result.Paths = append(result.Paths, p)
	}
	// Disconnected resources are a successful query with no paths.
	return Result{Success: true, Paths: result}
}

func (h *Handler) clusterTopology(req Request) Result {
	topo := &TopologyResult{}

	includeNodes := req.Kind == "" || req.Kind == "node"
	for _, node := range h.graph.NodesByKind("node") {
		if !includeNodes {
			break
		}
		entry := NodeTopology{
			Node:  node.Name,
			Ready: node.Metadata["ready"].BoolVal(),
		}
		if details, ok := h.graph.GetDetails(node.ID); ok {
			for _, edge := range details.OutgoingEdges {
				if edge.Relation != graph.RelationHosts {
					continue
				}
				entry.HostedCount++
				if len(entry.Hosted) < req.Limit {
					entry.Hosted = append(entry.Hosted, edge.TargetID)
				}
			}
		}
		topo.Nodes = append(topo.Nodes, entry)
	}

	namespaces := make(map[string]*NamespaceTopology)
	abnormalByNS := make(map[string]int)
	for _, node := range h.graph.Nodes() {
		if node.Namespace == "" {
			continue
		}
		if req.Namespace != "" && node.Namespace != req.Namespace {
			continue
		}
		if req.Kind != "" && node.Kind != req.Kind {
			continue
		}
		entry, ok := namespaces[node.Namespace]
		if !ok {
			entry = &NamespaceTopology{Namespace: node.Namespace, KindBreakdown: make(map[string]int)}
			namespaces[node.Namespace] = entry
		}
		entry.ResourceCount++
		entry.KindBreakdown[node.Kind]++
		if bad, _ := summary.IsAbnormal(node); bad {
			abnormalByNS[node.Namespace]++
		}
	}
	for ns, entry := range namespaces {
		switch abnormal := abnormalByNS[ns]; {
		case abnormal == 0:
			entry.Health = summary.HealthHealthy
		case abnormal*2 < entry.ResourceCount:
			entry.Health = summary.HealthDegraded
		default:
			entry.Health = summary.HealthCritical
		}
		topo.Namespaces = append(topo.Namespaces, *entry)
	}

	return Result{Success: true, Topology: topo}
}

func (h *Handler) anomalyCorrelation(req Request) Result {
	if h.generator == nil {
		return failed(req.Type, "anomaly correlation unavailable: no summary generator configured")
	}

	abnormal := h.generator.AbnormalResourceIDs()
	reports := make([]CorrelationReport, 0, len(req.Targets))
	for _, target := range req.Targets {
		report := CorrelationReport{Target: target}
		// BFS order means the first hit for an id is the shallowest.
		seen := make(map[string]bool)
		for _, item := range h.graph.GetRelated(target, req.MaxDepth, req.Relations) {
			anomaly, ok := abnormal[item.Node.ID]
			if !ok || seen[item.Node.ID] {
				continue
			}
			if len(report.Correlated) >= req.Limit {
				break
			}
			seen[item.Node.ID] = true
			report.Correlated = append(report.Correlated, CorrelatedAnomaly{
				Resource: anomaly,
				Relation: item.Relation,
				Depth:    item.Depth,
				Strength: propagationProbability(item.Depth, item.Relation),
			})
		}
		reports = append(reports, report)
	}
	return Result{Success: true, Correlation: reports}
}
