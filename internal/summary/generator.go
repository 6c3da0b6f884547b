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

// Package summary produces anomaly-ranked, byte-budgeted cluster
// reports from the knowledge graph. One underlying computation feeds
// the full summary and every focused view; the serialized size of the
// full summary never exceeds the configured budget regardless of
// cluster size.
package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/clusterlens/clusterlens/internal/graph"
)

const (
	// DefaultMaxSizeKB is the default serialized-size budget.
	DefaultMaxSizeKB = 10

	// compression stage limits
	maxAbnormalCompressed = 5
	maxNamespacesKept     = 10
	maxAbnormalMinimal    = 3
	maxSamplesPerKind     = 5
)

// Generator derives size-bounded reports from graph state.
type Generator struct {
	graph    *graph.Graph
	maxBytes int
}

// NewGenerator creates a generator with the given size budget in KB;
// zero or negative uses the default.
func NewGenerator(g *graph.Graph, maxSizeKB int) *Generator {
	if maxSizeKB <= 0 {
		maxSizeKB = DefaultMaxSizeKB
	}
	return &Generator{graph: g, maxBytes: maxSizeKB * 1024}
}

// GenerateClusterSummary builds the full cluster report and compresses
// it until its serialized size fits the budget. CompressionApplied is
// true only when a compression stage actually truncated something.
func (gen *Generator) GenerateClusterSummary() (*ClusterSummary, error) {
	s := gen.compute()

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serializing cluster summary: %w", err)
	}
	if len(raw) <= gen.maxBytes {
		return s, nil
	}

	for _, stage := range compressionStages {
		stage(s)
		s.CompressionApplied = true
		raw, err = json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("serializing cluster summary: %w", err)
		}
		if len(raw) <= gen.maxBytes {
			return s, nil
		}
	}

	// Last resort: collapse to the minimal payload.
	minimal := &ClusterSummary{
		Timestamp:          s.Timestamp,
		TotalResources:     s.TotalResources,
		KindCounts:         s.KindCounts,
		HealthScore:        s.HealthScore,
		Health:             s.Health,
		HealthBand:         s.HealthBand,
		CompressionApplied: true,
	}
	if len(s.AbnormalResources) > maxAbnormalMinimal {
		minimal.AbnormalResources = s.AbnormalResources[:maxAbnormalMinimal]
	} else {
		minimal.AbnormalResources = s.AbnormalResources
	}
	return minimal, nil
}

// compressionStages run in order until the summary fits. Each stage
// trades detail for size: samples first, full anomaly list next,
// relationship expansion, then the namespace breakdown.
var compressionStages = []func(*ClusterSummary){
	func(s *ClusterSummary) { s.SampleResources = nil },
	func(s *ClusterSummary) {
		if len(s.AbnormalResources) > maxAbnormalCompressed {
			s.AbnormalResources = s.AbnormalResources[:maxAbnormalCompressed]
		}
	},
	func(s *ClusterSummary) { s.Relationships = nil },
	func(s *ClusterSummary) {
		if len(s.Namespaces) > maxNamespacesKept {
			s.Namespaces = s.Namespaces[:maxNamespacesKept]
		}
	},
}

// compute builds the uncompressed summary from current graph state.
func (gen *Generator) compute() *ClusterSummary {
	nodes := gen.graph.Nodes()
	stats := gen.graph.Statistics()

	s := &ClusterSummary{
		Timestamp:      time.Now().UTC(),
		TotalResources: len(nodes),
		KindCounts:     stats.NodesByKind,
		Relationships: &RelationshipSummary{
			TotalEdges: stats.EdgeCount,
			ByType:     stats.EdgesByType,
		},
		SampleResources: make(map[string][]string),
	}

	byNamespace := make(map[string]*NamespaceRollup)
	var abnormal []AbnormalResource

	for _, node := range nodes {
		ns := node.Namespace
		if ns == "" {
			ns = ClusterNamespace
		}
		rollup, ok := byNamespace[ns]
		if !ok {
			rollup = &NamespaceRollup{Name: ns, KindBreakdown: make(map[string]int)}
			byNamespace[ns] = rollup
		}
		rollup.ResourceCount++
		rollup.KindBreakdown[node.Kind]++

		if samples := s.SampleResources[node.Kind]; len(samples) < maxSamplesPerKind {
			s.SampleResources[node.Kind] = append(samples, node.ID)
		}

		if bad, reason := IsAbnormal(node); bad {
			rollup.AbnormalCount++
			abnormal = append(abnormal, AbnormalResource{
				ID:        node.ID,
				Kind:      node.Kind,
				Namespace: node.Namespace,
				Name:      node.Name,
				Reason:    reason,
				Severity:  Severity(node),
			})
		}
	}

	// Highest severity first; ties break on id for determinism.
	sort.Slice(abnormal, func(i, j int) bool {
		if abnormal[i].Severity != abnormal[j].Severity {
			return abnormal[i].Severity > abnormal[j].Severity
		}
		return abnormal[i].ID < abnormal[j].ID
	})
	s.AbnormalResources = abnormal

	for _, rollup := range byNamespace {
		if rollup.AbnormalCount == 0 {
			rollup.Health = HealthHealthy
		} else if rollup.AbnormalCount*2 < rollup.ResourceCount {
			rollup.Health = HealthDegraded
		} else {
			rollup.Health = HealthCritical
		}
		s.Namespaces = append(s.Namespaces, *rollup)
	}
	// Largest namespaces first so truncation keeps the busy ones.
	sort.Slice(s.Namespaces, func(i, j int) bool {
		if s.Namespaces[i].ResourceCount != s.Namespaces[j].ResourceCount {
			return s.Namespaces[i].ResourceCount > s.Namespaces[j].ResourceCount
		}
		return s.Namespaces[i].Name < s.Namespaces[j].Name
	})

	s.HealthScore, s.Health, s.HealthBand = healthOf(len(nodes), len(abnormal))
	return s
}

func healthOf(total, abnormal int) (score float64, health, band string) {
	if total == 0 {
		return 100, HealthHealthy, BandExcellent
	}
	score = float64(total-abnormal) / float64(total) * 100

	switch {
	case abnormal == 0:
		health = HealthHealthy
	case score >= 50:
		health = HealthDegraded
	default:
		health = HealthCritical
	}

	switch {
	case score >= 90:
		band = BandExcellent
	case score >= 75:
		band = BandGood
	case score >= 50:
		band = BandFair
	default:
		band = BandPoor
	}
	return score, health, band
}

// GenerateNamespaceSummary is the single-namespace projection. It
// reads the uncompressed computation: a namespace truncated out of the
// budgeted summary still reports its real rollup here.
func (gen *Generator) GenerateNamespaceSummary(namespace string) (*NamespaceRollup, error) {
	s := gen.compute()
	for i := range s.Namespaces {
		if s.Namespaces[i].Name == namespace {
			return &s.Namespaces[i], nil
		}
	}
	return &NamespaceRollup{Name: namespace, Health: HealthHealthy}, nil
}

// GenerateHealthView is the health-focused projection.
func (gen *Generator) GenerateHealthView() (*HealthView, error) {
	s, err := gen.GenerateClusterSummary()
	if err != nil {
		return nil, err
	}
	top := s.AbnormalResources
	if len(top) > maxAbnormalMinimal {
		top = top[:maxAbnormalMinimal]
	}
	return &HealthView{
		Timestamp:     s.Timestamp,
		Score:         s.HealthScore,
		Health:        s.Health,
		Band:          s.HealthBand,
		AbnormalCount: len(s.AbnormalResources),
		TopIssues:     top,
	}, nil
}

// GenerateResourcesView is the inventory-focused projection.
func (gen *Generator) GenerateResourcesView() (*ResourcesView, error) {
	s, err := gen.GenerateClusterSummary()
	if err != nil {
		return nil, err
	}
	return &ResourcesView{
		Timestamp:      s.Timestamp,
		TotalResources: s.TotalResources,
		KindCounts:     s.KindCounts,
		Samples:        s.SampleResources,
	}, nil
}

// GenerateAnomaliesView is the anomaly-focused projection.
func (gen *Generator) GenerateAnomaliesView() (*AnomaliesView, error) {
	s, err := gen.GenerateClusterSummary()
	if err != nil {
		return nil, err
	}
	return &AnomaliesView{
		Timestamp: s.Timestamp,
		Count:     len(s.AbnormalResources),
		Resources: s.AbnormalResources,
	}, nil
}

// AbnormalResourceIDs returns the ids of every currently abnormal
// resource, for anomaly correlation by the query handler.
func (gen *Generator) AbnormalResourceIDs() map[string]AbnormalResource {
	out := make(map[string]AbnormalResource)
	for _, node := range gen.graph.Nodes() {
		if bad, reason := IsAbnormal(node); bad {
			out[node.ID] = AbnormalResource{
				ID:        node.ID,
				Kind:      node.Kind,
				Namespace: node.Namespace,
				Name:      node.Name,
				Reason:    reason,
				Severity:  Severity(node),
			}
		}
	}
	return out
}

// GeneratePerformanceView is the runtime-pressure projection.
func (gen *Generator) GeneratePerformanceView() (*PerformanceView, error) {
	view := &PerformanceView{Timestamp: time.Now().UTC()}
	for _, node := range gen.graph.Nodes() {
		switch node.Kind {
		case "pod":
			view.TotalRestarts += node.Metadata["restart_count"].IntVal()
			if v, ok := node.Metadata["ready"]; ok && !v.BoolVal() {
				view.PodsNotReady++
			}
		case "node":
			view.NodesTotal++
			if node.Metadata["ready"].BoolVal() {
				view.NodesReady++
			}
		}
	}
	return view, nil
}
