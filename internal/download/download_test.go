package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/example/tklogs/internal/archive"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/tailer"
)

func TestSaveSingleWritesExactText(t *testing.T) {
	dir := t.TempDir()
	text := "step one\nünïcode ✓\n\nlast line without newline"
	path, err := SaveSingle(dir, "build", func() string { return text })
	if err != nil {
		t.Fatalf("SaveSingle returned error: %v", err)
	}
	if filepath.Base(path) != "build.log" {
		t.Fatalf("unexpected file name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != text {
		t.Fatalf("download bytes differ: %q", data)
	}
}

func TestSaveSingleNilHandle(t *testing.T) {
	if _, err := SaveSingle(t.TempDir(), "build", nil); !errors.Is(err, ErrNoHandle) {
		t.Fatalf("expected ErrNoHandle, got %v", err)
	}
}

func TestFileNames(t *testing.T) {
	if got := FileName("ns/build"); got != "ns_build.log" {
		t.Fatalf("FileName = %q", got)
	}
	if got := AllFileName(""); got != "logs-all.log" {
		t.Fatalf("AllFileName = %q", got)
	}
}

func TestBulkBusyWhilePending(t *testing.T) {
	release := make(chan struct{})
	done := make(chan error, 2)
	var calls int
	var mu sync.Mutex
	producer := func(ctx context.Context) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		<-release
		if n == 1 {
			return errors.New("registry unavailable")
		}
		return nil
	}
	b := NewBulk("", producer, logr.Discard(), WithOnDone(func(err error) { done <- err }))
	if b.Label() != DefaultLabel || !b.Enabled() {
		t.Fatalf("expected enabled control with default label")
	}
	if !b.Start(context.Background()) {
		t.Fatalf("first start should run")
	}
	if !b.Busy() || b.Enabled() {
		t.Fatalf("control must be disabled while pending")
	}
	if b.Start(context.Background()) {
		t.Fatalf("second start must be rejected while pending")
	}
	release <- struct{}{}
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected the failure to be reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bulk download did not finish")
	}
	b.Wait()
	if b.Busy() || !b.Enabled() {
		t.Fatalf("control must be re-enabled after failure")
	}
	if !b.Start(context.Background()) {
		t.Fatalf("retry should run")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	b.Wait()
	if b.Busy() {
		t.Fatalf("control must be re-enabled after success")
	}
}

func TestBulkRecoversPanics(t *testing.T) {
	b := NewBulk("Save", func(context.Context) error { panic("boom") }, logr.Discard())
	if err := b.Run(context.Background()); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if b.Busy() {
		t.Fatalf("busy must be cleared after a panic")
	}
}

func TestBulkWithoutProducer(t *testing.T) {
	b := NewBulk("Save", nil, logr.Discard())
	if b.Available() || b.Start(context.Background()) {
		t.Fatalf("control without producer must stay disabled")
	}
}

func stepPod() *corev1.Pod {
	term := corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "p", Namespace: "ci"},
		Spec: corev1.PodSpec{Containers: []corev1.Container{
			{Name: "step-clone"}, {Name: "step-build"}, {Name: "step-push"},
		}},
		Status: corev1.PodStatus{ContainerStatuses: []corev1.ContainerStatus{
			{Name: "step-clone", State: term},
			{Name: "step-build", State: term},
			{Name: "step-push", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}}},
		}},
	}
}

func TestAllContainersFromArchive(t *testing.T) {
	ctx := context.Background()
	store, err := archive.Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	if err := store.ReplaceLog(ctx, "ci", "p", "step-clone", []string{"cloned"}); err != nil {
		t.Fatalf("ReplaceLog: %v", err)
	}
	if err := store.ReplaceLog(ctx, "ci", "p", "step-build", []string{"compiling", "ok"}); err != nil {
		t.Fatalf("ReplaceLog: %v", err)
	}
	dir := t.TempDir()
	bound := func() (resource.Ref, *corev1.Pod, resource.Source) {
		return resource.Ref{Identity: resource.Identity{Namespace: "ci", Pod: "p"}, TaskName: "build"}, stepPod(), resource.SourceArchive
	}
	producer := AllContainers(bound, tailer.Sources{Archive: tailer.ArchiveSource{Store: store}}, dir, logr.Discard())
	if err := producer(ctx); err != nil {
		t.Fatalf("producer returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "build-all.log"))
	if err != nil {
		t.Fatalf("read bulk download: %v", err)
	}
	want := "==== step-clone ====\ncloned\n==== step-build ====\ncompiling\nok\n"
	if string(data) != want {
		t.Fatalf("bulk download = %q, want %q", data, want)
	}
}

func TestAllContainersFromCluster(t *testing.T) {
	client := fake.NewSimpleClientset(stepPod())
	dir := t.TempDir()
	bound := func() (resource.Ref, *corev1.Pod, resource.Source) {
		return resource.Ref{Identity: resource.Identity{Namespace: "ci", Pod: "p"}}, stepPod(), resource.SourceCluster
	}
	producer := AllContainers(bound, tailer.Sources{Cluster: tailer.ClusterSource{Client: client}}, dir, logr.Discard())
	if err := producer(context.Background()); err != nil {
		t.Fatalf("producer returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "p-all.log"))
	if err != nil {
		t.Fatalf("read bulk download: %v", err)
	}
	want := "==== step-clone ====\nfake logs\n==== step-build ====\nfake logs\n"
	if string(data) != want {
		t.Fatalf("bulk download = %q", data)
	}
}

func TestAllContainersWithoutPod(t *testing.T) {
	bound := func() (resource.Ref, *corev1.Pod, resource.Source) { return resource.Ref{}, nil, resource.SourceCluster }
	if err := AllContainers(bound, tailer.Sources{}, t.TempDir(), logr.Discard())(context.Background()); err == nil {
		t.Fatalf("expected error without a bound pod")
	}
}
