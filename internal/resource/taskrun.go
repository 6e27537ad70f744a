package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/example/tklogs/internal/archive"
)

// TaskRunGVR addresses Tekton TaskRuns through the dynamic client.
var TaskRunGVR = schema.GroupVersionResource{Group: "tekton.dev", Version: "v1", Resource: "taskruns"}

const pipelineRunLabel = "tekton.dev/pipelineRun"

// Archive is the read side of the cold store consumed by the resolver and catalog.
type Archive interface {
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	GetTaskRun(ctx context.Context, namespace, name string) (archive.TaskRunRecord, error)
	ListTaskRuns(ctx context.Context, namespace, pipelineRun string) ([]archive.TaskRunRecord, error)
}

// TaskRunInfo is what the pane needs to know about a task run.
type TaskRunInfo struct {
	Namespace   string
	Name        string
	TaskName    string
	PodName     string
	PipelineRun string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the run time of the task run: total once it completed, elapsed
// up to now otherwise. It is zero before the run started.
func (i TaskRunInfo) Duration(now time.Time) time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !i.CompletedAt.IsZero() {
		end = i.CompletedAt
	}
	if end.Before(i.StartedAt) {
		return 0
	}
	return end.Sub(i.StartedAt)
}

// Ref converts the task run into a binding request.
func (i TaskRunInfo) Ref() Ref {
	return Ref{
		Identity: Identity{Namespace: i.Namespace, Pod: i.PodName, TaskRun: i.Name},
		TaskName: i.TaskName,
	}
}

// Catalog looks up task runs in the cluster, falling back to the archive.
type Catalog struct {
	dynamic dynamic.Interface
	archive Archive
	mode    Mode
	log     logr.Logger
}

// NewCatalog builds a Catalog. Either backend may be nil.
func NewCatalog(dyn dynamic.Interface, arch Archive, mode Mode, logger logr.Logger) *Catalog {
	return &Catalog{dynamic: dyn, archive: arch, mode: mode, log: logger.WithName("catalog")}
}

// TaskRun resolves a single task run.
func (c *Catalog) TaskRun(ctx context.Context, namespace, name string) (TaskRunInfo, error) {
	if c.useCluster() {
		obj, err := c.dynamic.Resource(TaskRunGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
		switch {
		case err == nil:
			info := taskRunFromUnstructured(obj)
			if info.PodName == "" {
				return TaskRunInfo{}, fmt.Errorf("task run %s/%s has no pod yet", namespace, name)
			}
			return info, nil
		case !apierrors.IsNotFound(err) || !c.useArchive():
			return TaskRunInfo{}, fmt.Errorf("get task run %s/%s: %w", namespace, name, err)
		}
		c.log.V(1).Info("task run not in cluster; trying archive", "namespace", namespace, "name", name)
	}
	if !c.useArchive() {
		return TaskRunInfo{}, fmt.Errorf("task run %s/%s: no backend available", namespace, name)
	}
	rec, err := c.archive.GetTaskRun(ctx, namespace, name)
	if err != nil {
		return TaskRunInfo{}, err
	}
	return taskRunFromRecord(rec), nil
}

// PipelineRunTasks lists the task runs of a pipeline run ordered by start time then name.
func (c *Catalog) PipelineRunTasks(ctx context.Context, namespace, pipelineRun string) ([]TaskRunInfo, error) {
	var infos []TaskRunInfo
	if c.useCluster() {
		list, err := c.dynamic.Resource(TaskRunGVR).Namespace(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("%s=%s", pipelineRunLabel, pipelineRun),
		})
		if err != nil && !c.useArchive() {
			return nil, fmt.Errorf("list task runs of %s/%s: %w", namespace, pipelineRun, err)
		}
		if err == nil {
			for i := range list.Items {
				info := taskRunFromUnstructured(&list.Items[i])
				if info.PodName == "" {
					continue
				}
				infos = append(infos, info)
			}
		}
	}
	if len(infos) == 0 && c.useArchive() {
		recs, err := c.archive.ListTaskRuns(ctx, namespace, pipelineRun)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			infos = append(infos, taskRunFromRecord(rec))
		}
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("pipeline run %s/%s has no task runs with pods", namespace, pipelineRun)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].StartedAt.Equal(infos[j].StartedAt) {
			if infos[i].StartedAt.IsZero() {
				return false
			}
			if infos[j].StartedAt.IsZero() {
				return true
			}
			return infos[i].StartedAt.Before(infos[j].StartedAt)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

func (c *Catalog) useCluster() bool {
	return c.dynamic != nil && c.mode != ModeArchive
}

func (c *Catalog) useArchive() bool {
	return c.archive != nil && c.mode != ModeCluster
}

func taskRunFromUnstructured(obj *unstructured.Unstructured) TaskRunInfo {
	info := TaskRunInfo{
		Namespace:   obj.GetNamespace(),
		Name:        obj.GetName(),
		PipelineRun: obj.GetLabels()[pipelineRunLabel],
	}
	if ref, ok, _ := unstructured.NestedString(obj.Object, "spec", "taskRef", "name"); ok {
		info.TaskName = strings.TrimSpace(ref)
	}
	if info.TaskName == "" {
		info.TaskName = info.Name
	}
	info.PodName, _, _ = unstructured.NestedString(obj.Object, "status", "podName")
	if started, ok, _ := unstructured.NestedString(obj.Object, "status", "startTime"); ok {
		info.StartedAt, _ = time.Parse(time.RFC3339, started)
	}
	if completed, ok, _ := unstructured.NestedString(obj.Object, "status", "completionTime"); ok {
		info.CompletedAt, _ = time.Parse(time.RFC3339, completed)
	}
	return info
}

func taskRunFromRecord(rec archive.TaskRunRecord) TaskRunInfo {
	name := rec.TaskName
	if name == "" {
		name = rec.Name
	}
	return TaskRunInfo{
		Namespace:   rec.Namespace,
		Name:        rec.Name,
		TaskName:    name,
		PodName:     rec.Pod,
		PipelineRun: rec.PipelineRun,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

// IsNotFound reports whether err means the object exists in neither backend.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err) || errors.Is(err, archive.ErrNotFound)
}
