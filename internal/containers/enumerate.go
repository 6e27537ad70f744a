// Package containers lists the step containers of a pod in declared order and
// classifies their runtime status.
package containers

import corev1 "k8s.io/api/core/v1"

// StepPrefix is the name prefix Tekton gives step containers.
const StepPrefix = "step-"

// Descriptor identifies one container and its position in declared order.
type Descriptor struct {
	Name    string
	Ordinal int
}

// Listing is the enumerator output for one pod observation.
type Listing struct {
	Containers       []Descriptor
	StillDiscovering bool
}

// Enumerate lists the containers of pod to display. Until pod is the one named
// wantName and carries container metadata the listing is empty and still
// discovering. Containers after the first running one are held back because the
// steps behind it have not started yet, and a running container always leaves
// the listing still discovering.
func Enumerate(pod *corev1.Pod, wantName string) Listing {
	if pod == nil || pod.Name != wantName || len(pod.Spec.Containers) == 0 {
		return Listing{StillDiscovering: true}
	}
	out := Listing{Containers: make([]Descriptor, 0, len(pod.Spec.Containers))}
	for i, c := range pod.Spec.Containers {
		out.Containers = append(out.Containers, Descriptor{Name: c.Name, Ordinal: i})
		if Classify(statusOf(pod, c.Name)) == Running {
			out.StillDiscovering = true
			break
		}
	}
	return out
}

// Roster fixes container ordinals for the lifetime of one resource identity.
// Known names keep their ordinal; new names are appended.
type Roster struct {
	list  []Descriptor
	index map[string]int
}

// Apply merges a listing and returns the locked descriptor list.
func (r *Roster) Apply(l Listing) []Descriptor {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	for _, d := range l.Containers {
		if _, ok := r.index[d.Name]; ok {
			continue
		}
		ordinal := len(r.list)
		r.index[d.Name] = ordinal
		r.list = append(r.list, Descriptor{Name: d.Name, Ordinal: ordinal})
	}
	return r.Descriptors()
}

// Descriptors returns a copy of the locked list.
func (r *Roster) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.list...)
}

// Len returns the number of locked containers.
func (r *Roster) Len() int { return len(r.list) }

// Ordinal returns the locked ordinal of name.
func (r *Roster) Ordinal(name string) (int, bool) {
	o, ok := r.index[name]
	return o, ok
}

// Reset forgets every container.
func (r *Roster) Reset() {
	r.list = nil
	r.index = nil
}
