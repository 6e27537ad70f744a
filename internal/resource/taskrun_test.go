package resource

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/example/tklogs/internal/archive"
)

func taskRunObject(name, pipelineRun, taskRef, pod, started string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "tekton.dev/v1",
		"kind":       "TaskRun",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": "ci",
			"labels":    map[string]interface{}{"tekton.dev/pipelineRun": pipelineRun},
		},
		"status": map[string]interface{}{
			"podName":   pod,
			"startTime": started,
		},
	}}
	if taskRef != "" {
		_ = unstructured.SetNestedField(obj.Object, taskRef, "spec", "taskRef", "name")
	}
	return obj
}

func newDynamic(objs ...runtime.Object) *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{TaskRunGVR: "TaskRunList"}, objs...)
}

func TestCatalogTaskRunFromCluster(t *testing.T) {
	dyn := newDynamic(taskRunObject("pr-build", "pr", "build", "pr-build-pod", "2024-05-01T10:00:00Z"))
	c := NewCatalog(dyn, nil, ModeAuto, logr.Discard())
	info, err := c.TaskRun(context.Background(), "ci", "pr-build")
	if err != nil {
		t.Fatalf("TaskRun returned error: %v", err)
	}
	if info.TaskName != "build" || info.PodName != "pr-build-pod" || info.PipelineRun != "pr" {
		t.Fatalf("unexpected info: %+v", info)
	}
	ref := info.Ref()
	if ref.Pod != "pr-build-pod" || ref.TaskRun != "pr-build" || ref.DisplayName() != "build" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestCatalogTaskNameFallsBackToRunName(t *testing.T) {
	dyn := newDynamic(taskRunObject("inline-run", "", "", "inline-pod", ""))
	c := NewCatalog(dyn, nil, ModeAuto, logr.Discard())
	info, err := c.TaskRun(context.Background(), "ci", "inline-run")
	if err != nil {
		t.Fatalf("TaskRun returned error: %v", err)
	}
	if info.TaskName != "inline-run" {
		t.Fatalf("expected task name to fall back to run name, got %q", info.TaskName)
	}
}

func TestCatalogTaskRunFromArchive(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	if err := store.PutTaskRun(context.Background(), archive.TaskRunRecord{Namespace: "ci", Name: "old", Pod: "old-pod"}); err != nil {
		t.Fatalf("PutTaskRun: %v", err)
	}
	c := NewCatalog(newDynamic(), store, ModeAuto, logr.Discard())
	info, err := c.TaskRun(context.Background(), "ci", "old")
	if err != nil {
		t.Fatalf("TaskRun returned error: %v", err)
	}
	if info.PodName != "old-pod" || info.TaskName != "old" {
		t.Fatalf("unexpected archived info: %+v", info)
	}
	if _, err := c.TaskRun(context.Background(), "ci", "never"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogPipelineRunTasksOrdered(t *testing.T) {
	dyn := newDynamic(
		taskRunObject("pr-test", "pr", "test", "pr-test-pod", "2024-05-01T10:05:00Z"),
		taskRunObject("pr-clone", "pr", "clone", "pr-clone-pod", "2024-05-01T10:00:00Z"),
		taskRunObject("pr-pending", "pr", "lint", "", ""),
		taskRunObject("other", "other", "x", "other-pod", "2024-05-01T09:00:00Z"),
	)
	c := NewCatalog(dyn, nil, ModeAuto, logr.Discard())
	infos, err := c.PipelineRunTasks(context.Background(), "ci", "pr")
	if err != nil {
		t.Fatalf("PipelineRunTasks returned error: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "pr-clone" || infos[1].Name != "pr-test" {
		t.Fatalf("unexpected task runs: %+v", infos)
	}
	if !infos[0].StartedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start time: %v", infos[0].StartedAt)
	}
}

func TestCatalogReadsCompletionTime(t *testing.T) {
	obj := taskRunObject("pr-build", "pr", "build", "pr-build-pod", "2024-05-01T10:00:00Z")
	_ = unstructured.SetNestedField(obj.Object, "2024-05-01T10:01:35Z", "status", "completionTime")
	c := NewCatalog(newDynamic(obj), nil, ModeAuto, logr.Discard())
	info, err := c.TaskRun(context.Background(), "ci", "pr-build")
	if err != nil {
		t.Fatalf("TaskRun returned error: %v", err)
	}
	if got := info.Duration(time.Now()); got != 95*time.Second {
		t.Fatalf("duration = %s, want 1m35s", got)
	}
}

func TestTaskRunDuration(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(42 * time.Second)
	if got := (TaskRunInfo{}).Duration(now); got != 0 {
		t.Fatalf("unstarted run should have no duration, got %s", got)
	}
	if got := (TaskRunInfo{StartedAt: start}).Duration(now); got != 42*time.Second {
		t.Fatalf("running duration = %s, want 42s", got)
	}
	done := TaskRunInfo{StartedAt: start, CompletedAt: start.Add(10 * time.Second)}
	if got := done.Duration(now); got != 10*time.Second {
		t.Fatalf("completed duration = %s, want 10s", got)
	}
}
