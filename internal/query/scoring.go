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

import "github.com/clusterlens/clusterlens/internal/graph"

// impactKindWeights amplify downstream risk for kinds whose failure
// fans out widely.
var impactKindWeights = map[string]float64{
	"node":       2.0,
	"deployment": 1.5,
	"service":    1.3,
}

// criticalityKindWeights amplify upstream criticality for storage and
// routing prerequisites.
var criticalityKindWeights = map[string]float64{
	"persistentvolume":      1.5,
	"persistentvolumeclaim": 1.5,
	"statefulset":           1.5,
	"service":               1.2,
	"ingress":               1.2,
}

// relationMultipliers weight how strongly a relation conducts failure.
var relationMultipliers = map[string]float64{
	graph.RelationOwnedBy:   0.9,
	graph.RelationRoutes:    0.8,
	graph.RelationDependsOn: 0.85,
	graph.RelationHosts:     0.7,
}

const defaultRelationMultiplier = 0.5

func relationMultiplier(relation string) float64 {
	if m, ok := relationMultipliers[relation]; ok {
		return m
	}
	return defaultRelationMultiplier
}

func kindWeight(weights map[string]float64, kind string) float64 {
	if w, ok := weights[kind]; ok {
		return w
	}
	return 1.0
}

// riskScore quantifies downstream impact: deeper reach into heavier
// kinds scores higher, capped at 100.
func riskScore(level int, kind string) float64 {
	score := float64(level) * 10 * kindWeight(impactKindWeights, kind)
	if score > 100 {
		return 100
	}
	return score
}

// criticalityScore quantifies upstream criticality: near prerequisites
// of heavy kinds score higher, capped at 100.
func criticalityScore(level int, kind string) float64 {
	levels := 4 - level
	if levels < 0 {
		levels = 0
	}
	score := float64(levels) * 25 * kindWeight(criticalityKindWeights, kind)
	if score > 100 {
		return 100
	}
	return score
}

// propagationProbability estimates how likely a failure crosses to a
// downstream resource at the given level through the given relation.
func propagationProbability(level int, relation string) float64 {
	base := 1 - float64(level-1)*0.2
	if base < 0.1 {
		base = 0.1
	}
	return base * relationMultiplier(relation)
}

// timeToImpact gives a qualitative estimate scaled by relation type and
// depth.
func timeToImpact(level int, relation string) string {
	p := propagationProbability(level, relation)
	switch {
	case level == 1 && p >= 0.8:
		return "immediate"
	case p >= 0.6:
		return "1-5 minutes"
	case p >= 0.3:
		return "5-15 minutes"
	default:
		return "15-60 minutes"
	}
}

// severityForKind classifies how severe a propagated failure is for the
// affected kind.
func severityForKind(kind string) string {
	switch kind {
	case "node":
		return "critical"
	case "deployment", "statefulset", "daemonset":
		return "high"
	case "service", "ingress", "persistentvolume":
		return "high"
	case "pod", "replicaset":
		return "medium"
	default:
		return "low"
	}
}

// mitigationsForKind suggests kind-specific remediation steps.
func mitigationsForKind(kind string) []string {
	switch kind {
	case "pod":
		return []string{
			"check pod events and container logs",
			"verify resource requests and limits",
		}
	case "deployment", "replicaset", "statefulset", "daemonset":
		return []string{
			"check rollout status and recent revisions",
			"scale up healthy replicas in another failure domain",
		}
	case "service", "ingress":
		return []string{
			"verify endpoints and selector coverage",
			"fail over traffic to a healthy backend",
		}
	case "node":
		return []string{
			"cordon the node and drain workloads",
			"check kubelet and runtime health",
		}
	case "persistentvolume":
		return []string{
			"verify the backing storage is reachable",
			"check the bound claim and access mode",
		}
	default:
		return nil
	}
}

// pathStrength is the mean relation-type weight along a path.
func pathStrength(edges []*graph.RelationEdge) float64 {
	if len(edges) == 0 {
		return 0
	}
	var sum float64
	for _, edge := range edges {
		sum += relationMultiplier(edge.Relation)
	}
	return sum / float64(len(edges))
}
