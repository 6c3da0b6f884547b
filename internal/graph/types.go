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

package graph

import (
	"fmt"
	"strings"
	"time"
)

// Relation types recorded on edges. The set is open (callers may record
// other relations), these are the ones the sync engine produces.
const (
	RelationOwnedBy   = "ownedBy"
	RelationRoutes    = "routes"
	RelationHosts     = "hosts"
	RelationDependsOn = "dependsOn"
)

// Direction tags a traversal result with how the edge was crossed
// relative to the start node.
type Direction string

const (
	// DirectionOutgoing means the edge points away from the start node.
	DirectionOutgoing Direction = "outgoing"
	// DirectionIncoming means the edge points toward the start node.
	DirectionIncoming Direction = "incoming"
)

// clusterScopedKinds are resource kinds that never carry a namespace.
var clusterScopedKinds = map[string]bool{
	"node":             true,
	"namespace":        true,
	"persistentvolume": true,
	"clusterrole":      true,
	"storageclass":     true,
}

// IsClusterScoped reports whether kind is a cluster-scoped resource kind.
func IsClusterScoped(kind string) bool {
	return clusterScopedKinds[strings.ToLower(kind)]
}

// ResourceID derives the deterministic node id for a resource identity.
// Namespaced kinds produce "kind/namespace/name"; cluster-scoped kinds
// produce "kind/name".
func ResourceID(kind, namespace, name string) string {
	kind = strings.ToLower(kind)
	if IsClusterScoped(kind) || namespace == "" {
		return fmt.Sprintf("%s/%s", kind, name)
	}
	return fmt.Sprintf("%s/%s/%s", kind, namespace, name)
}

// ResourceNode is one graph vertex: a single observed cluster object.
type ResourceNode struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Namespace string            `json:"namespace,omitempty"`
	Name      string            `json:"name"`
	Metadata  map[string]Value  `json:"metadata,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"lastUpdated"`
}

// clone returns a deep copy so callers never alias locked state.
func (n *ResourceNode) clone() *ResourceNode {
	out := *n
	out.Metadata = cloneMetadata(n.Metadata)
	out.Labels = cloneLabels(n.Labels)
	return &out
}

// RelationEdge is a typed directed link between two resource nodes.
type RelationEdge struct {
	SourceID  string           `json:"sourceId"`
	TargetID  string           `json:"targetId"`
	Relation  string           `json:"relation"`
	Metadata  map[string]Value `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// RelatedItem is one result of a bidirectional traversal.
type RelatedItem struct {
	Node      *ResourceNode `json:"node"`
	Relation  string        `json:"relation"`
	Direction Direction     `json:"direction"`
	Depth     int           `json:"depth"`
}

// LevelGroup is one BFS frontier of a directional traversal, grouped by
// distance from the start node.
type LevelGroup struct {
	Level int             `json:"level"`
	Nodes []*ResourceNode `json:"nodes"`
}

// Details is the full view of one node plus its degree information.
type Details struct {
	Node          *ResourceNode   `json:"node"`
	OutgoingEdges []*RelationEdge `json:"outgoingEdges"`
	IncomingEdges []*RelationEdge `json:"incomingEdges"`
	OutDegree     int             `json:"outDegree"`
	InDegree      int             `json:"inDegree"`
}

// Stats is a point-in-time size summary of the graph.
type Stats struct {
	NodeCount      int            `json:"nodeCount"`
	EdgeCount      int            `json:"edgeCount"`
	NodesByKind    map[string]int `json:"nodesByKind"`
	EdgesByType    map[string]int `json:"edgesByType"`
	NamespaceCount int            `json:"namespaceCount"`
}

func cloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMetadata(in map[string]Value) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v.clone()
	}
	return out
}
