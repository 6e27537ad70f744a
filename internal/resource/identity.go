// Package resource resolves which pod, and which backend (live cluster or cold
// archive), a log pane is bound to, and tracks the identity that scopes every
// piece of transient streaming state.
package resource

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// Source selects the backend used to fetch a pod and its container logs.
type Source int

const (
	SourceCluster Source = iota
	SourceArchive
)

func (s Source) String() string {
	switch s {
	case SourceCluster:
		return "cluster"
	case SourceArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Identity is the (namespace, pod, task run) tuple that scopes streaming state.
type Identity struct {
	Namespace string
	Pod       string
	TaskRun   string
}

func (id Identity) String() string {
	base := fmt.Sprintf("%s/%s", id.Namespace, id.Pod)
	if id.TaskRun != "" {
		base += " (" + id.TaskRun + ")"
	}
	return base
}

// IsZero reports whether the identity names nothing.
func (id Identity) IsZero() bool {
	return strings.TrimSpace(id.Pod) == ""
}

// Ref is a request to bind a pane to a resource.
type Ref struct {
	Identity
	// TaskName is used for download file names; it falls back to the task run or pod name.
	TaskName string
}

// DisplayName returns the name shown in headers and used for download files.
func (r Ref) DisplayName() string {
	switch {
	case strings.TrimSpace(r.TaskName) != "":
		return r.TaskName
	case r.TaskRun != "":
		return r.TaskRun
	default:
		return r.Pod
	}
}

// Result is one observation emitted by a Resolver.
type Result struct {
	Pod     *corev1.Pod
	Source  Source
	Loading bool
	Err     error
}
