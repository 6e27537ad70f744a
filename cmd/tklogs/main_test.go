package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/example/tklogs/internal/archive"
	"github.com/example/tklogs/internal/config"
	"github.com/example/tklogs/internal/kube"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
	"github.com/example/tklogs/internal/tailer"
)

func restoreKlogV(t *testing.T) {
	t.Helper()
	initKlogFlags()
	orig := flag.CommandLine.Lookup("v").Value.String()
	t.Cleanup(func() { _ = flag.CommandLine.Set("v", orig) })
}

func executeNoop(t *testing.T, args ...string) {
	t.Helper()
	root := newRootCommand()
	root.AddCommand(&cobra.Command{Use: "noop", RunE: func(cmd *cobra.Command, args []string) error { return nil }})
	root.SetArgs(append([]string{"noop"}, args...))
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestKubeLogLevelFlagSetsKlogVerbosity(t *testing.T) {
	restoreKlogV(t)
	executeNoop(t, "--kube-log-level", "7")
	if got := flag.CommandLine.Lookup("v").Value.String(); got != "7" {
		t.Fatalf("expected klog -v=7, got %q", got)
	}
}

func TestKubeLogLevelEnvSetsKlogVerbosity(t *testing.T) {
	restoreKlogV(t)
	t.Setenv("TKLOGS_KUBE_LOG_LEVEL", "8")
	executeNoop(t)
	if got := flag.CommandLine.Lookup("v").Value.String(); got != "8" {
		t.Fatalf("expected klog -v=8, got %q", got)
	}
}

func TestKubeLogLevelDefaultsToTraceInDebugMode(t *testing.T) {
	restoreKlogV(t)
	t.Setenv("TKLOGS_KUBE_LOG_LEVEL", "")
	executeNoop(t, "--log-level", "debug")
	if got := flag.CommandLine.Lookup("v").Value.String(); got != "6" {
		t.Fatalf("expected klog -v=6 default in debug mode, got %q", got)
	}
}

func TestInvalidLogLevelIsRejected(t *testing.T) {
	root := newRootCommand()
	root.AddCommand(&cobra.Command{Use: "noop", RunE: func(cmd *cobra.Command, args []string) error { return nil }})
	root.SetArgs([]string{"noop", "--log-level", "loud"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected an error for an unknown log level")
	}
}

func TestErrorMessageHints(t *testing.T) {
	stalled := &stream.StalledError{Container: "step-build", Ordinal: 1}
	if msg := errorMessage(stalled); !strings.Contains(msg, "--follow") {
		t.Fatalf("expected follow hint, got %q", msg)
	}
	forbidden := apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "p", errors.New("nope"))
	if msg := errorMessage(forbidden); !strings.Contains(msg, "pods/log") {
		t.Fatalf("expected rbac hint, got %q", msg)
	}
	if msg := errorMessage(errors.New("plain")); msg != "plain" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestConfigSearchDirsHonorsXDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dirs := configSearchDirs()
	if len(dirs) == 0 || dirs[0] != filepath.Join(xdg, "tklogs") {
		t.Fatalf("expected XDG dir first, got %v", dirs)
	}
}

func finishedPod() *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "build-pod", Namespace: "ci", UID: "uid-1"},
		Spec: corev1.PodSpec{Containers: []corev1.Container{
			{Name: "step-clone"}, {Name: "step-build"}, {Name: "step-skipped"},
		}},
		Status: corev1.PodStatus{
			Phase: corev1.PodSucceeded,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "step-clone", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}},
				{Name: "step-build", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}},
				{Name: "step-skipped", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}}},
			},
		},
	}
}

func TestArchiveTaskCopiesPodAndLogs(t *testing.T) {
	ctx := context.Background()
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	clientset := fake.NewSimpleClientset(finishedPod())
	a := &archiver{
		client: &kube.Client{Clientset: clientset},
		store:  store,
		source: tailer.ClusterSource{Client: clientset},
		log:    logr.Discard(),
	}
	task := resource.TaskRunInfo{Namespace: "ci", Name: "build-run", TaskName: "build", PodName: "build-pod", PipelineRun: "pr"}
	if err := a.archiveTask(ctx, task); err != nil {
		t.Fatalf("archiveTask: %v", err)
	}
	if _, err := store.GetPod(ctx, "ci", "build-pod"); err != nil {
		t.Fatalf("pod not archived: %v", err)
	}
	rec, err := store.GetTaskRun(ctx, "ci", "build-run")
	if err != nil || rec.Pod != "build-pod" || rec.TaskName != "build" {
		t.Fatalf("task run not archived: %+v %v", rec, err)
	}
	if _, err := store.OpenLog(ctx, "ci", "build-pod", "step-build"); err != nil {
		t.Fatalf("log not archived: %v", err)
	}
	if _, err := store.OpenLog(ctx, "ci", "build-pod", "step-skipped"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("waiting container should not be archived, got %v", err)
	}
}

func TestArchiveTaskRejectsRunningPod(t *testing.T) {
	pod := finishedPod()
	pod.Status.Phase = corev1.PodRunning
	clientset := fake.NewSimpleClientset(pod)
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	a := &archiver{client: &kube.Client{Clientset: clientset}, store: store, source: tailer.ClusterSource{Client: clientset}, log: logr.Discard()}
	err = a.archiveTask(context.Background(), resource.TaskRunInfo{Namespace: "ci", Name: "build-run", PodName: "build-pod"})
	if err == nil || !strings.Contains(err.Error(), "--allow-running") {
		t.Fatalf("expected running pod to be rejected, got %v", err)
	}
}

func TestRunDownloadAllFromArchive(t *testing.T) {
	ctx := context.Background()
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	if err := store.PutPod(ctx, "build-run", finishedPod()); err != nil {
		t.Fatalf("PutPod: %v", err)
	}
	if err := store.ReplaceLog(ctx, "ci", "build-pod", "step-clone", []string{"cloned"}); err != nil {
		t.Fatalf("ReplaceLog: %v", err)
	}
	if err := store.ReplaceLog(ctx, "ci", "build-pod", "step-build", []string{"built"}); err != nil {
		t.Fatalf("ReplaceLog: %v", err)
	}

	dir := t.TempDir()
	opts := config.NewOptions()
	opts.DownloadDir = dir
	resolver := resource.NewResolver(nil, store, resource.ModeArchive, false, logr.Discard())
	sources := tailer.Sources{Archive: tailer.ArchiveSource{Store: store}}
	task := resource.TaskRunInfo{Namespace: "ci", Name: "build-run", TaskName: "build", PodName: "build-pod"}

	var errOut bytes.Buffer
	if err := runDownloadAll(ctx, opts, task, resolver, sources, logr.Discard(), &errOut); err != nil {
		t.Fatalf("runDownloadAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "build-all.log"))
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	want := "==== step-clone ====\ncloned\n==== step-build ====\nbuilt\n"
	if string(data) != want {
		t.Fatalf("unexpected bundle:\n%s", data)
	}
	if !strings.Contains(errOut.String(), "build-all.log") {
		t.Fatalf("expected output path in %q", errOut.String())
	}
}

func TestPrinterOptionsCarryPlainFlags(t *testing.T) {
	opts := config.NewOptions()
	opts.Timestamps = true
	opts.Prefix = true
	got := printerOptions(opts)
	if !got.Timestamps || !got.Prefix {
		t.Fatalf("plain flags not passed to the printer: %+v", got)
	}
}
