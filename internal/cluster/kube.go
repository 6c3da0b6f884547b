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

package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/clusterlens/clusterlens/internal/graph"
)

// supportedKinds is the full sync order. Owners (deployments,
// replicasets) come before the pods that reference them so most owner
// edges resolve without placeholders.
var supportedKinds = []string{
	"node",
	"namespace",
	"persistentvolume",
	"deployment",
	"statefulset",
	"daemonset",
	"replicaset",
	"service",
	"pod",
}

// watchableKinds is the curated high-churn subset with dedicated watch
// streams between full syncs.
var watchableKinds = []string{"pod", "deployment", "service", "node"}

// KubeAccessor implements Accessor over a client-go clientset.
type KubeAccessor struct {
	client kubernetes.Interface
}

// NewKubeAccessor wraps an existing clientset.
func NewKubeAccessor(client kubernetes.Interface) *KubeAccessor {
	return &KubeAccessor{client: client}
}

// NewKubeAccessorFromKubeconfig builds an accessor from a kubeconfig
// path, falling back to in-cluster configuration when path is empty.
func NewKubeAccessorFromKubeconfig(path string) (*KubeAccessor, error) {
	var cfg *rest.Config
	var err error
	if path == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	return &KubeAccessor{client: client}, nil
}

func (a *KubeAccessor) SupportedKinds() []string {
	out := make([]string, len(supportedKinds))
	copy(out, supportedKinds)
	return out
}

func (a *KubeAccessor) WatchableKinds() []string {
	out := make([]string, len(watchableKinds))
	copy(out, watchableKinds)
	return out
}

// Ping verifies API reachability via the version endpoint.
func (a *KubeAccessor) Ping(ctx context.Context) error {
	if _, err := a.client.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("cluster API unreachable: %w", err)
	}
	return nil
}

// List pages through all objects of the given kind.
func (a *KubeAccessor) List(ctx context.Context, kind string, pageSize int64) ([]Resource, error) {
	kind = strings.ToLower(kind)
	var out []Resource
	cont := ""
	for {
		opts := metav1.ListOptions{Limit: pageSize, Continue: cont}
		page, next, err := a.listPage(ctx, kind, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		cont = next
	}
}

func (a *KubeAccessor) listPage(ctx context.Context, kind string, opts metav1.ListOptions) ([]Resource, string, error) {
	switch kind {
	case "pod":
		list, err := a.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractPod(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "deployment":
		list, err := a.client.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractDeployment(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "replicaset":
		list, err := a.client.AppsV1().ReplicaSets(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractReplicaSet(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "statefulset":
		list, err := a.client.AppsV1().StatefulSets(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractStatefulSet(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "daemonset":
		list, err := a.client.AppsV1().DaemonSets(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractDaemonSet(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "service":
		list, err := a.client.CoreV1().Services(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractService(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "node":
		list, err := a.client.CoreV1().Nodes().List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractNode(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "namespace":
		list, err := a.client.CoreV1().Namespaces().List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractNamespace(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	case "persistentvolume":
		list, err := a.client.CoreV1().PersistentVolumes().List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(list.Items))
		for i := range list.Items {
			out = append(out, extractPersistentVolume(&list.Items[i]))
		}
		return out, list.GetContinue(), nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

// Watch opens a bounded watch stream for the given kind.
func (a *KubeAccessor) Watch(ctx context.Context, kind string, timeout time.Duration) (WatchStream, error) {
	kind = strings.ToLower(kind)
	seconds := int64(timeout / time.Second)
	opts := metav1.ListOptions{TimeoutSeconds: &seconds}

	var w watch.Interface
	var err error
	switch kind {
	case "pod":
		w, err = a.client.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, opts)
	case "deployment":
		w, err = a.client.AppsV1().Deployments(metav1.NamespaceAll).Watch(ctx, opts)
	case "service":
		w, err = a.client.CoreV1().Services(metav1.NamespaceAll).Watch(ctx, opts)
	case "node":
		w, err = a.client.CoreV1().Nodes().Watch(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if err != nil {
		return nil, err
	}

	stream := &kubeStream{watcher: w, events: make(chan Event), done: make(chan struct{})}
	go stream.pump()
	return stream, nil
}

type kubeStream struct {
	watcher  watch.Interface
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func (s *kubeStream) Events() <-chan Event { return s.events }

// Stop closes the underlying watch and releases a pump blocked on an
// undelivered event. Safe to call more than once.
func (s *kubeStream) Stop() {
	s.stopOnce.Do(func() {
		s.watcher.Stop()
		close(s.done)
	})
}

func (s *kubeStream) pump() {
	defer close(s.events)
	for ev := range s.watcher.ResultChan() {
		var out Event
		switch ev.Type {
		case watch.Added, watch.Modified, watch.Deleted:
			res, ok := convertObject(ev.Object)
			if !ok {
				continue
			}
			out = Event{Type: EventType(ev.Type), Resource: res}
		case watch.Error:
			out = Event{Type: EventError, Err: apierrors.FromObject(ev.Object)}
		default:
			continue
		}
		select {
		case s.events <- out:
		case <-s.done:
			return
		}
		if out.Type == EventError {
			return
		}
	}
}

func convertObject(obj runtime.Object) (Resource, bool) {
	switch t := obj.(type) {
	case *corev1.Pod:
		return extractPod(t), true
	case *appsv1.Deployment:
		return extractDeployment(t), true
	case *appsv1.ReplicaSet:
		return extractReplicaSet(t), true
	case *appsv1.StatefulSet:
		return extractStatefulSet(t), true
	case *appsv1.DaemonSet:
		return extractDaemonSet(t), true
	case *corev1.Service:
		return extractService(t), true
	case *corev1.Node:
		return extractNode(t), true
	case *corev1.Namespace:
		return extractNamespace(t), true
	case *corev1.PersistentVolume:
		return extractPersistentVolume(t), true
	default:
		return Resource{}, false
	}
}

func ownerRefs(meta metav1.ObjectMeta) []OwnerRef {
	if len(meta.OwnerReferences) == 0 {
		return nil
	}
	out := make([]OwnerRef, 0, len(meta.OwnerReferences))
	for _, ref := range meta.OwnerReferences {
		out = append(out, OwnerRef{Kind: strings.ToLower(ref.Kind), Name: ref.Name})
	}
	return out
}

func extractPod(pod *corev1.Pod) Resource {
	fields := map[string]graph.Value{
		"phase":     graph.String(string(pod.Status.Phase)),
		"node_name": graph.String(pod.Spec.NodeName),
	}

	var restarts int64
	ready := pod.Status.Phase == corev1.PodRunning
	for _, cs := range pod.Status.ContainerStatuses {
		restarts += int64(cs.RestartCount)
		if !cs.Ready {
			ready = false
		}
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			fields["waiting_reason"] = graph.String(cs.State.Waiting.Reason)
			// Surface the waiting reason as the effective phase, the
			// way kubectl reports pod status.
			fields["phase"] = graph.String(cs.State.Waiting.Reason)
		}
		if cs.LastTerminationState.Terminated != nil {
			fields["exit_code"] = graph.Int(int64(cs.LastTerminationState.Terminated.ExitCode))
		}
	}
	fields["restart_count"] = graph.Int(restarts)
	fields["ready"] = graph.Bool(ready)

	return Resource{
		Kind:      "pod",
		Namespace: pod.Namespace,
		Name:      pod.Name,
		Labels:    pod.Labels,
		Owners:    ownerRefs(pod.ObjectMeta),
		Fields:    fields,
	}
}

func extractDeployment(d *appsv1.Deployment) Resource {
	var replicas int64 = 1
	if d.Spec.Replicas != nil {
		replicas = int64(*d.Spec.Replicas)
	}
	fields := map[string]graph.Value{
		"replicas":           graph.Int(replicas),
		"ready_replicas":     graph.Int(int64(d.Status.ReadyReplicas)),
		"available_replicas": graph.Int(int64(d.Status.AvailableReplicas)),
		"updated_replicas":   graph.Int(int64(d.Status.UpdatedReplicas)),
	}
	if d.Spec.Selector != nil && len(d.Spec.Selector.MatchLabels) > 0 {
		fields["selector"] = graph.StringMap(d.Spec.Selector.MatchLabels)
	}
	return Resource{
		Kind:      "deployment",
		Namespace: d.Namespace,
		Name:      d.Name,
		Labels:    d.Labels,
		Owners:    ownerRefs(d.ObjectMeta),
		Fields:    fields,
	}
}

func extractReplicaSet(rs *appsv1.ReplicaSet) Resource {
	var replicas int64
	if rs.Spec.Replicas != nil {
		replicas = int64(*rs.Spec.Replicas)
	}
	return Resource{
		Kind:      "replicaset",
		Namespace: rs.Namespace,
		Name:      rs.Name,
		Labels:    rs.Labels,
		Owners:    ownerRefs(rs.ObjectMeta),
		Fields: map[string]graph.Value{
			"replicas":       graph.Int(replicas),
			"ready_replicas": graph.Int(int64(rs.Status.ReadyReplicas)),
		},
	}
}

func extractStatefulSet(ss *appsv1.StatefulSet) Resource {
	var replicas int64 = 1
	if ss.Spec.Replicas != nil {
		replicas = int64(*ss.Spec.Replicas)
	}
	return Resource{
		Kind:      "statefulset",
		Namespace: ss.Namespace,
		Name:      ss.Name,
		Labels:    ss.Labels,
		Owners:    ownerRefs(ss.ObjectMeta),
		Fields: map[string]graph.Value{
			"replicas":       graph.Int(replicas),
			"ready_replicas": graph.Int(int64(ss.Status.ReadyReplicas)),
		},
	}
}

func extractDaemonSet(ds *appsv1.DaemonSet) Resource {
	return Resource{
		Kind:      "daemonset",
		Namespace: ds.Namespace,
		Name:      ds.Name,
		Labels:    ds.Labels,
		Owners:    ownerRefs(ds.ObjectMeta),
		Fields: map[string]graph.Value{
			"replicas":       graph.Int(int64(ds.Status.DesiredNumberScheduled)),
			"ready_replicas": graph.Int(int64(ds.Status.NumberReady)),
		},
	}
}

func extractService(svc *corev1.Service) Resource {
	fields := map[string]graph.Value{
		"type":       graph.String(string(svc.Spec.Type)),
		"cluster_ip": graph.String(svc.Spec.ClusterIP),
	}
	if len(svc.Spec.Selector) > 0 {
		fields["selector"] = graph.StringMap(svc.Spec.Selector)
	}
	return Resource{
		Kind:      "service",
		Namespace: svc.Namespace,
		Name:      svc.Name,
		Labels:    svc.Labels,
		Owners:    ownerRefs(svc.ObjectMeta),
		Fields:    fields,
	}
}

func extractNode(node *corev1.Node) Resource {
	ready := false
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			ready = cond.Status == corev1.ConditionTrue
			break
		}
	}
	return Resource{
		Kind:   "node",
		Name:   node.Name,
		Labels: node.Labels,
		Fields: map[string]graph.Value{
			"ready":           graph.Bool(ready),
			"unschedulable":   graph.Bool(node.Spec.Unschedulable),
			"kubelet_version": graph.String(node.Status.NodeInfo.KubeletVersion),
		},
	}
}

func extractNamespace(ns *corev1.Namespace) Resource {
	return Resource{
		Kind:   "namespace",
		Name:   ns.Name,
		Labels: ns.Labels,
		Fields: map[string]graph.Value{
			"phase": graph.String(string(ns.Status.Phase)),
		},
	}
}

func extractPersistentVolume(pv *corev1.PersistentVolume) Resource {
	fields := map[string]graph.Value{
		"phase":         graph.String(string(pv.Status.Phase)),
		"storage_class": graph.String(pv.Spec.StorageClassName),
	}
	if pv.Spec.ClaimRef != nil {
		fields["claim"] = graph.String(pv.Spec.ClaimRef.Namespace + "/" + pv.Spec.ClaimRef.Name)
	}
	return Resource{
		Kind:   "persistentvolume",
		Name:   pv.Name,
		Labels: pv.Labels,
		Fields: fields,
	}
}
