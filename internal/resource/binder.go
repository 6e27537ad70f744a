package resource

import (
	"sync"

	corev1 "k8s.io/api/core/v1"
)

// Binder owns the bound identity and its epoch. Every in-flight task carries the
// epoch it was started under; results from an older epoch are ignored.
type Binder struct {
	mu       sync.Mutex
	ref      Ref
	epoch    uint64
	uid      string
	retained *corev1.Pod
	source   Source
}

// NewBinder returns an unbound binder at epoch zero.
func NewBinder() *Binder {
	return &Binder{}
}

// Bind switches to ref, bumping the epoch and dropping the retained pod.
func (b *Binder) Bind(ref Ref) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ref = ref
	b.epoch++
	b.uid = ""
	b.retained = nil
	b.source = SourceCluster
	return b.epoch
}

// Current returns the bound reference and epoch.
func (b *Binder) Current() (Ref, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref, b.epoch
}

// IsCurrent reports whether epoch is the live one.
func (b *Binder) IsCurrent(epoch uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return epoch == b.epoch
}

// Retained returns the last pod accepted for the bound identity and its source.
func (b *Binder) Retained() (*corev1.Pod, Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained, b.source
}

// Observe applies a resolver result. A pod is retained only when the result is
// settled, error free, and names the bound pod; an error clears the retained pod;
// anything else keeps the previous one. replaced is true when the pod's UID changed
// under the same name, in which case the epoch has already been bumped.
func (b *Binder) Observe(res Result) (pod *corev1.Pod, epoch uint64, replaced bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case res.Err != nil:
		b.retained = nil
	case !res.Loading && res.Pod != nil && res.Pod.Name == b.ref.Pod:
		uid := string(res.Pod.UID)
		if b.uid != "" && uid != "" && uid != b.uid {
			b.epoch++
			replaced = true
		}
		if uid != "" {
			b.uid = uid
		}
		b.retained = res.Pod
		b.source = res.Source
	}
	return b.retained, b.epoch, replaced
}
