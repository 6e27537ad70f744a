package containers

import (
	"reflect"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func stepPod(name string, statuses map[string]corev1.ContainerState, steps ...string) *corev1.Pod {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ci"}}
	for _, s := range steps {
		pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: s})
		if st, ok := statuses[s]; ok {
			pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{Name: s, State: st})
		}
	}
	return pod
}

var (
	running    = corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}
	terminated = corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{}}
	waiting    = corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "PodInitializing"}}
)

func names(ds []Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

func TestEnumerateStillDiscovering(t *testing.T) {
	if l := Enumerate(nil, "p"); !l.StillDiscovering || len(l.Containers) != 0 {
		t.Fatalf("nil pod should be discovering: %+v", l)
	}
	pod := stepPod("other", nil, "step-a")
	if l := Enumerate(pod, "p"); !l.StillDiscovering || len(l.Containers) != 0 {
		t.Fatalf("mismatched name should be discovering: %+v", l)
	}
	if l := Enumerate(stepPod("p", nil), "p"); !l.StillDiscovering {
		t.Fatalf("pod without containers should be discovering: %+v", l)
	}
}

func TestEnumerateTruncatesAfterRunning(t *testing.T) {
	pod := stepPod("p", map[string]corev1.ContainerState{
		"step-a": terminated, "step-b": running, "step-c": waiting,
	}, "step-a", "step-b", "step-c")
	l := Enumerate(pod, "p")
	if !l.StillDiscovering {
		t.Fatalf("expected discovering while a step runs")
	}
	if got := names(l.Containers); !reflect.DeepEqual(got, []string{"step-a", "step-b"}) {
		t.Fatalf("unexpected containers: %v", got)
	}
}

func TestEnumerateLastRunningStillDiscovering(t *testing.T) {
	pod := stepPod("p", map[string]corev1.ContainerState{"step-a": terminated, "step-b": running}, "step-a", "step-b")
	if l := Enumerate(pod, "p"); !l.StillDiscovering || len(l.Containers) != 2 {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestEnumerateAllTerminated(t *testing.T) {
	pod := stepPod("p", map[string]corev1.ContainerState{"a": terminated, "b": terminated, "c": terminated}, "a", "b", "c")
	l := Enumerate(pod, "p")
	if l.StillDiscovering || len(l.Containers) != 3 || l.Containers[2].Ordinal != 2 {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestRosterNeverReorders(t *testing.T) {
	var r Roster
	r.Apply(Listing{Containers: []Descriptor{{Name: "a", Ordinal: 0}, {Name: "b", Ordinal: 1}}})
	got := r.Apply(Listing{Containers: []Descriptor{{Name: "b", Ordinal: 0}, {Name: "a", Ordinal: 1}, {Name: "c", Ordinal: 2}}})
	want := []Descriptor{{Name: "a", Ordinal: 0}, {Name: "b", Ordinal: 1}, {Name: "c", Ordinal: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("roster reordered: %+v", got)
	}
	if o, ok := r.Ordinal("c"); !ok || o != 2 {
		t.Fatalf("Ordinal(c) = %d, %v", o, ok)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("expected empty roster after reset")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status *corev1.ContainerStatus
		want   RuntimeStatus
	}{
		{"missing", nil, Waiting},
		{"waiting", &corev1.ContainerStatus{State: waiting}, Waiting},
		{"restarting", &corev1.ContainerStatus{State: waiting, LastTerminationState: terminated}, Restarting},
		{"running", &corev1.ContainerStatus{State: running}, Running},
		{"terminated", &corev1.ContainerStatus{State: terminated}, Terminated},
		{"empty", &corev1.ContainerStatus{}, Unknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.status); got != tc.want {
			t.Fatalf("%s: Classify = %v, want %v", tc.name, got, tc.want)
		}
	}
	if !Waiting.Skip() || Restarting.Skip() || Unknown.Skip() {
		t.Fatalf("only waiting containers are skipped")
	}
}
