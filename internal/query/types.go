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

package query

import (
	"fmt"
	"time"

	"github.com/clusterlens/clusterlens/internal/graph"
	"github.com/clusterlens/clusterlens/internal/summary"
)

// Type enumerates the supported relation query types.
type Type string

const (
	TypeRelatedResources   Type = "related_resources"
	TypeImpactAnalysis     Type = "impact_analysis"
	TypeDependencyTrace    Type = "dependency_trace"
	TypeFailurePropagation Type = "failure_propagation"
	TypeResourcePath       Type = "resource_path"
	TypeClusterTopology    Type = "cluster_topology"
	TypeAnomalyCorrelation Type = "anomaly_correlation"
)

// Bounds for request validation.
const (
	MinDepth     = 1
	MaxDepth     = 10
	DefaultDepth = 3
	MinLimit     = 1
	MaxLimit     = 500
	DefaultLimit = 100
)

// maxPathResults caps the shortest-path search.
const maxPathResults = 5

// Request is the unified query request shape.
type Request struct {
	Type Type `json:"queryType"`

	// Targets are the resource ids the query starts from. Required for
	// every type except cluster_topology; resource_path needs exactly two.
	Targets []string `json:"targets"`

	// MaxDepth bounds traversals; zero applies the default.
	MaxDepth int `json:"maxDepth,omitempty"`

	// Relations restricts which edge types are crossed.
	Relations []string `json:"relations,omitempty"`

	// Limit caps the number of result items; zero applies the default.
	Limit int `json:"limit,omitempty"`

	// Namespace and Kind filter topology rollups.
	Namespace string `json:"namespace,omitempty"`
	Kind      string `json:"kind,omitempty"`

	// IncludeMetadata keeps node metadata on returned items.
	IncludeMetadata bool `json:"includeMetadata,omitempty"`

	// IncludeHealth annotates returned items with abnormality checks.
	IncludeHealth bool `json:"includeHealth,omitempty"`
}

// normalize applies defaults and validates bounds. A validation failure
// becomes a failed Result at the handler boundary, never a panic.
func (r *Request) normalize() error {
	switch r.Type {
	case TypeRelatedResources, TypeImpactAnalysis, TypeDependencyTrace,
		TypeFailurePropagation, TypeResourcePath, TypeClusterTopology,
		TypeAnomalyCorrelation:
	default:
		return fmt.Errorf("unknown query type %q", r.Type)
	}

	if r.Type != TypeClusterTopology && len(r.Targets) == 0 {
		return fmt.Errorf("query type %q requires at least one target", r.Type)
	}
	if r.Type == TypeResourcePath && len(r.Targets) != 2 {
		return fmt.Errorf("resource_path requires exactly two targets, got %d", len(r.Targets))
	}

	if r.MaxDepth == 0 {
		r.MaxDepth = DefaultDepth
	}
	if r.MaxDepth < MinDepth || r.MaxDepth > MaxDepth {
		return fmt.Errorf("maxDepth %d outside [%d, %d]", r.MaxDepth, MinDepth, MaxDepth)
	}

	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit < MinLimit || r.Limit > MaxLimit {
		return fmt.Errorf("limit %d outside [%d, %d]", r.Limit, MinLimit, MaxLimit)
	}
	return nil
}

// Result is the unified query result. Success is false on validation or
// execution failure, with Error set; exactly one payload field is
// populated on success, matching the query type.
type Result struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Type      Type      `json:"queryType"`
	Cached    bool      `json:"cached,omitempty"`
	ElapsedMS float64   `json:"elapsedMs"`
	Timestamp time.Time `json:"timestamp"`

	Related     []RelatedResource   `json:"related,omitempty"`
	Impact      []ImpactReport      `json:"impact,omitempty"`
	Dependency  []DependencyReport  `json:"dependency,omitempty"`
	Propagation []PropagationReport `json:"propagation,omitempty"`
	Paths       *PathResult         `json:"paths,omitempty"`
	Topology    *TopologyResult     `json:"topology,omitempty"`
	Correlation []CorrelationReport `json:"correlation,omitempty"`
}

// RelatedResource is one bidirectional traversal hit.
type RelatedResource struct {
	Target string            `json:"target"`
	Item   graph.RelatedItem `json:"item"`
	// Abnormal is set when IncludeHealth was requested.
	Abnormal bool   `json:"abnormal,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ScoredResource is one traversal hit with a computed score.
type ScoredResource struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Name  string  `json:"name"`
	Level int     `json:"level"`
	Score float64 `json:"score"`
}

// ImpactReport is the downstream blast radius of one target.
type ImpactReport struct {
	Target    string           `json:"target"`
	Resources []ScoredResource `json:"resources"`
	// RiskScore is the highest individual risk in the report, capped at 100.
	RiskScore float64 `json:"riskScore"`
}

// DependencyReport is the upstream prerequisite chain of one target.
type DependencyReport struct {
	Target    string           `json:"target"`
	Resources []ScoredResource `json:"resources"`
	// CriticalityScore is the highest individual criticality, capped at 100.
	CriticalityScore float64 `json:"criticalityScore"`
}

// PropagationTarget is one downstream resource a failure may reach.
type PropagationTarget struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Relation     string   `json:"relation"`
	Level        int      `json:"level"`
	Probability  float64  `json:"probability"`
	TimeToImpact string   `json:"timeToImpact"`
	Severity     string   `json:"severity"`
	Mitigations  []string `json:"mitigations,omitempty"`
}

// PropagationReport estimates how a failure of one target spreads.
type PropagationReport struct {
	Target  string              `json:"target"`
	Targets []PropagationTarget `json:"affectedResources"`
}

// Path is one edge sequence between two resources.
type Path struct {
	Edges []PathEdge `json:"edges"`
	// Strength is the mean relation-type weight along the path.
	Strength float64 `json:"strength"`
}

// PathEdge is one hop of a path.
type PathEdge struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Relation string `json:"relation"`
}

// PathResult holds the shortest paths between two resources. An empty
// Paths list with Success=true means the resources are disconnected.
type PathResult struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Paths []Path `json:"paths"`
}

// NodeTopology is the per-node rollup of a topology query.
type NodeTopology struct {
	Node        string   `json:"node"`
	Ready       bool     `json:"ready"`
	HostedCount int      `json:"hostedCount"`
	Hosted      []string `json:"hosted,omitempty"`
}

// NamespaceTopology is the per-namespace rollup of a topology query.
type NamespaceTopology struct {
	Namespace     string         `json:"namespace"`
	ResourceCount int            `json:"resourceCount"`
	KindBreakdown map[string]int `json:"kindBreakdown,omitempty"`
	Health        string         `json:"health"`
}

// TopologyResult holds both topology rollups.
type TopologyResult struct {
	Nodes      []NodeTopology      `json:"nodes,omitempty"`
	Namespaces []NamespaceTopology `json:"namespaces,omitempty"`
}

// CorrelationReport links one target to the abnormal resources in its
// relational neighborhood.
type CorrelationReport struct {
	Target     string              `json:"target"`
	Correlated []CorrelatedAnomaly `json:"correlated,omitempty"`
}

// CorrelatedAnomaly is one abnormal resource near a target.
type CorrelatedAnomaly struct {
	Resource summary.AbnormalResource `json:"resource"`
	Relation string                   `json:"relation"`
	Depth    int                      `json:"depth"`
	// Strength is scored the same way as propagation probability.
	Strength float64 `json:"strength"`
}

// Statistics tracks handler execution counters.
type Statistics struct {
	QueryCounts  map[Type]int64 `json:"queryCounts"`
	CacheHits    int64          `json:"cacheHits"`
	Errors       int64          `json:"errors"`
	Timeouts     int64          `json:"timeouts"`
	AvgLatencyMS float64        `json:"avgLatencyMs"`
	Executions   int64          `json:"executions"`
}
