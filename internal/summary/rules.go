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

import (
	"fmt"

	"github.com/clusterlens/clusterlens/internal/graph"
)

// abnormalPodPhases are pod phases (or container waiting reasons
// surfaced as the effective phase) that flag a pod as abnormal.
var abnormalPodPhases = map[string]bool{
	"Failed":           true,
	"Pending":          true,
	"CrashLoopBackOff": true,
	"ImagePullBackOff": true,
	"Error":            true,
}

// imageErrorReasons are container waiting reasons indicating an image
// problem short of a full backoff.
var imageErrorReasons = map[string]bool{
	"ErrImagePull":      true,
	"ImageInspectError": true,
	"InvalidImageName":  true,
}

// restartThreshold flags a pod abnormal regardless of phase.
const restartThreshold = 5

// IsAbnormal applies the per-kind detection rules and returns whether
// the node is abnormal plus a human-readable reason.
func IsAbnormal(node *graph.ResourceNode) (bool, string) {
	switch node.Kind {
	case "pod":
		phase := node.Metadata["phase"].Str()
		if abnormalPodPhases[phase] {
			return true, fmt.Sprintf("pod phase %s", phase)
		}
		if restarts := node.Metadata["restart_count"].IntVal(); restarts > restartThreshold {
			return true, fmt.Sprintf("%d restarts", restarts)
		}
	case "deployment":
		replicas := node.Metadata["replicas"].IntVal()
		ready := node.Metadata["ready_replicas"].IntVal()
		available := node.Metadata["available_replicas"].IntVal()
		if replicas > 0 && ready < replicas {
			return true, fmt.Sprintf("%d/%d replicas ready", ready, replicas)
		}
		if replicas > 0 && available < replicas {
			return true, fmt.Sprintf("%d/%d replicas available", available, replicas)
		}
	case "node":
		if v, ok := node.Metadata["ready"]; ok && !v.BoolVal() {
			return true, "node not ready"
		}
	}
	return false, ""
}

// Severity scores an abnormal node 1-10. Container-level reasons
// dominate pod scoring; node failures always rank highest.
func Severity(node *graph.ResourceNode) int {
	switch node.Kind {
	case "pod":
		return podSeverity(node)
	case "deployment":
		return deploymentSeverity(node)
	case "node":
		if v, ok := node.Metadata["ready"]; ok && !v.BoolVal() {
			return 10
		}
	}
	return 1
}

func podSeverity(node *graph.ResourceNode) int {
	score := 1
	raise := func(n int) {
		if n > score {
			score = n
		}
	}

	waiting := node.Metadata["waiting_reason"].Str()
	switch {
	case waiting == "ImagePullBackOff" || waiting == "CrashLoopBackOff":
		raise(9)
	case imageErrorReasons[waiting]:
		raise(8)
	}
	if node.Metadata["exit_code"].IntVal() != 0 {
		raise(8)
	}

	switch node.Metadata["phase"].Str() {
	case "Failed", "Error", "CrashLoopBackOff", "ImagePullBackOff":
		raise(9)
	case "Pending":
		if waiting != "" {
			raise(8)
		} else {
			raise(6)
		}
	}

	restarts := node.Metadata["restart_count"].IntVal()
	switch {
	case restarts > 10:
		raise(7)
	case restarts > restartThreshold:
		raise(6)
	}
	return score
}

func deploymentSeverity(node *graph.ResourceNode) int {
	replicas := node.Metadata["replicas"].IntVal()
	ready := node.Metadata["ready_replicas"].IntVal()
	if replicas <= 0 {
		return 1
	}
	switch {
	case ready == 0:
		return 9
	case ready*2 < replicas:
		return 7
	case ready < replicas:
		return 5
	}
	// Available lag with all replicas ready.
	return 5
}
