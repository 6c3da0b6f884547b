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

package summary

import "time"

// ClusterNamespace is the pseudo-namespace bucketing cluster-scoped
// resources in per-namespace rollups.
const ClusterNamespace = "(cluster)"

// Health status values.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Health score bands.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandFair      = "fair"
	BandPoor      = "poor"
)

// ClusterSummary is the structured, size-bounded cluster report.
type ClusterSummary struct {
	Timestamp          time.Time            `json:"timestamp"`
	TotalResources     int                  `json:"totalResources"`
	KindCounts         map[string]int       `json:"kindCounts,omitempty"`
	Namespaces         []NamespaceRollup    `json:"namespaces,omitempty"`
	AbnormalResources  []AbnormalResource   `json:"abnormalResources,omitempty"`
	SampleResources    map[string][]string  `json:"sampleResources,omitempty"`
	Relationships      *RelationshipSummary `json:"relationships,omitempty"`
	HealthScore        float64              `json:"healthScore"`
	Health             string               `json:"health"`
	HealthBand         string               `json:"healthBand"`
	CompressionApplied bool                 `json:"compressionApplied"`
}

// NamespaceRollup aggregates one namespace's resources.
type NamespaceRollup struct {
	Name          string         `json:"name"`
	ResourceCount int            `json:"resourceCount"`
	KindBreakdown map[string]int `json:"kindBreakdown,omitempty"`
	AbnormalCount int            `json:"abnormalCount"`
	Health        string         `json:"health"`
}

// AbnormalResource is one detected anomaly with its severity score.
type AbnormalResource struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	// Severity is the 1-10 rubric score; node failures rank highest.
	Severity int `json:"severity"`
}

// RelationshipSummary is the edge-count expansion of the report.
type RelationshipSummary struct {
	TotalEdges int            `json:"totalEdges"`
	ByType     map[string]int `json:"byType,omitempty"`
}

// HealthView is the health-focused projection of the cluster summary.
type HealthView struct {
	Timestamp     time.Time          `json:"timestamp"`
	Score         float64            `json:"score"`
	Health        string             `json:"health"`
	Band          string             `json:"band"`
	AbnormalCount int                `json:"abnormalCount"`
	TopIssues     []AbnormalResource `json:"topIssues,omitempty"`
}

// ResourcesView is the inventory-focused projection.
type ResourcesView struct {
	Timestamp      time.Time           `json:"timestamp"`
	TotalResources int                 `json:"totalResources"`
	KindCounts     map[string]int      `json:"kindCounts,omitempty"`
	Samples        map[string][]string `json:"samples,omitempty"`
}

// AnomaliesView is the anomaly-focused projection.
type AnomaliesView struct {
	Timestamp time.Time          `json:"timestamp"`
	Count     int                `json:"count"`
	Resources []AbnormalResource `json:"resources,omitempty"`
}

// PerformanceView is the runtime-pressure projection.
type PerformanceView struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalRestarts int64     `json:"totalRestarts"`
	PodsNotReady  int       `json:"podsNotReady"`
	NodesReady    int       `json:"nodesReady"`
	NodesTotal    int       `json:"nodesTotal"`
}
