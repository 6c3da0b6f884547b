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

// Package cluster provides access to live cluster state: bounded
// listing and watch streams per resource kind, normalized into the
// graph's resource shape. The Accessor interface is what the sync
// engine consumes; KubeAccessor implements it over client-go.
package cluster

import (
	"context"
	"errors"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/clusterlens/clusterlens/internal/graph"
)

// ErrUnsupportedKind is returned for kinds the accessor does not track.
var ErrUnsupportedKind = errors.New("unsupported resource kind")

// EventType classifies one watch event.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
	// EventError carries a stream error in Event.Err; the stream ends
	// after delivering it.
	EventError EventType = "ERROR"
)

// OwnerRef is a normalized owner reference: the owning object's
// identity within the same namespace as the owned object.
type OwnerRef struct {
	Kind string
	Name string
}

// Resource is one observed cluster object, normalized for the graph:
// identity, labels, owners, and kind-specific status fields.
type Resource struct {
	Kind      string
	Namespace string
	Name      string
	Labels    map[string]string
	Owners    []OwnerRef
	Fields    map[string]graph.Value
}

// ID returns the graph node id for this resource.
func (r Resource) ID() string {
	return graph.ResourceID(r.Kind, r.Namespace, r.Name)
}

// Event is one incremental update from a watch stream.
type Event struct {
	Type     EventType
	Resource Resource
	Err      error
}

// WatchStream is a live event stream for one resource kind. The events
// channel closes when the stream ends, whether by timeout, error, or
// Stop.
type WatchStream interface {
	Events() <-chan Event
	Stop()
}

// Accessor is the cluster resource accessor the sync engine reads from.
type Accessor interface {
	// Ping verifies the cluster API is reachable.
	Ping(ctx context.Context) error

	// List returns all objects of the given kind, internally paging
	// with the given page size.
	List(ctx context.Context, kind string, pageSize int64) ([]Resource, error)

	// Watch opens an event stream for the given kind. The stream ends
	// on its own after timeout; callers reconnect.
	Watch(ctx context.Context, kind string, timeout time.Duration) (WatchStream, error)

	// SupportedKinds lists every kind List covers, in sync order.
	SupportedKinds() []string

	// WatchableKinds lists the curated high-churn subset Watch covers.
	WatchableKinds() []string
}

// IsResourceExpired reports whether err is the server telling us the
// watch resource version is too old, which calls for an immediate
// resubscribe rather than backoff.
func IsResourceExpired(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}
