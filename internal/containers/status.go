package containers

import corev1 "k8s.io/api/core/v1"

// RuntimeStatus is the coarse state of one container.
type RuntimeStatus int

const (
	Waiting RuntimeStatus = iota
	Running
	Terminated
	Unknown
	Restarting
)

func (s RuntimeStatus) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Restarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// Skip reports whether the container has no log stream yet.
func (s RuntimeStatus) Skip() bool { return s == Waiting }

// Classify maps a raw container status to a RuntimeStatus. A missing status
// means the kubelet has not reported the container yet.
func Classify(status *corev1.ContainerStatus) RuntimeStatus {
	switch {
	case status == nil:
		return Waiting
	case status.State.Waiting != nil && hasLastState(status.LastTerminationState):
		return Restarting
	case status.State.Waiting != nil:
		return Waiting
	case status.State.Terminated != nil:
		return Terminated
	case status.State.Running != nil:
		return Running
	default:
		return Unknown
	}
}

// StatusFor classifies the named container of pod.
func StatusFor(pod *corev1.Pod, name string) RuntimeStatus {
	return Classify(statusOf(pod, name))
}

func statusOf(pod *corev1.Pod, name string) *corev1.ContainerStatus {
	if pod == nil {
		return nil
	}
	for i := range pod.Status.ContainerStatuses {
		if pod.Status.ContainerStatuses[i].Name == name {
			return &pod.Status.ContainerStatuses[i]
		}
	}
	return nil
}

func hasLastState(s corev1.ContainerState) bool {
	return s.Waiting != nil || s.Running != nil || s.Terminated != nil
}
