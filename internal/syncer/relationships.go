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

package syncer

import (
	"strings"

	"github.com/clusterlens/clusterlens/internal/graph"
	"github.com/clusterlens/clusterlens/internal/logging"
)

// buildRelationships runs the inference pass after every full sync:
// Service→Pod routing, Node→Pod placement, and a Deployment→ReplicaSet
// ownership validation. Owner-reference edges are recorded earlier,
// during the per-kind upserts.
func (e *Engine) buildRelationships() {
	e.buildServiceRoutes()
	e.buildNodePlacement()
	e.validateReplicaSetOwnership()
}

// buildServiceRoutes links each service to the pods it routes to.
// The service's captured spec.selector is matched exactly against pod
// labels; services without a selector fall back to a name-prefix
// heuristic.
func (e *Engine) buildServiceRoutes() {
	for _, svc := range e.graph.NodesByKind("service") {
		selector := selectorFromMetadata(svc.Metadata)
		if len(selector) > 0 {
			for _, id := range e.graph.FindByLabels(selector, svc.Namespace) {
				if strings.HasPrefix(id, "pod/") {
					e.graph.AddRelation(svc.ID, id, graph.RelationRoutes, nil)
				}
			}
			continue
		}

		// Headless external services and very old objects may carry no
		// selector; fall back to matching pods named after the service.
		for _, pod := range e.graph.NodesByKind("pod") {
			if pod.Namespace != svc.Namespace {
				continue
			}
			if strings.HasPrefix(pod.Name, svc.Name+"-") || pod.Labels["app"] == svc.Name {
				e.graph.AddRelation(svc.ID, pod.ID, graph.RelationRoutes, nil)
			}
		}
	}
}

// buildNodePlacement links each node to the pods scheduled on it via
// the pod's recorded node_name field.
func (e *Engine) buildNodePlacement() {
	for _, pod := range e.graph.NodesByKind("pod") {
		nodeName := pod.Metadata["node_name"].Str()
		if nodeName == "" {
			continue
		}
		nodeID := graph.ResourceID("node", "", nodeName)
		// A missing node means that kind's sync failed or lagged;
		// the edge lands on the next pass.
		e.graph.AddRelation(nodeID, pod.ID, graph.RelationHosts, nil)
	}
}

// validateReplicaSetOwnership backfills ReplicaSet→Deployment edges for
// replicasets whose owner references went missing, inferring the
// deployment from the replicaset's hashed name.
func (e *Engine) validateReplicaSetOwnership() {
	for _, rs := range e.graph.NodesByKind("replicaset") {
		if e.hasOwnedByEdge(rs.ID) {
			continue
		}
		idx := strings.LastIndex(rs.Name, "-")
		if idx <= 0 {
			continue
		}
		deployID := graph.ResourceID("deployment", rs.Namespace, rs.Name[:idx])
		if _, ok := e.graph.GetNode(deployID); !ok {
			continue
		}
		if e.graph.AddRelation(rs.ID, deployID, graph.RelationOwnedBy, nil) {
			e.log.V(logging.DEBUG).Info("backfilled replicaset ownership",
				"replicaset", rs.ID, "deployment", deployID)
		}
	}
}

func (e *Engine) hasOwnedByEdge(id string) bool {
	details, ok := e.graph.GetDetails(id)
	if !ok {
		return false
	}
	for _, edge := range details.OutgoingEdges {
		if edge.Relation == graph.RelationOwnedBy {
			return true
		}
	}
	return false
}

func selectorFromMetadata(metadata map[string]graph.Value) map[string]string {
	raw := metadata["selector"].MapVal()
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v.Str()
	}
	return out
}
