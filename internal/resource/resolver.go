package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
)

// Mode pins the resolver to one backend or lets it fall back.
type Mode int

const (
	ModeAuto Mode = iota
	ModeCluster
	ModeArchive
)

// ParseMode maps the --source flag value to a Mode.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "", "auto":
		return ModeAuto, nil
	case "cluster":
		return ModeCluster, nil
	case "archive":
		return ModeArchive, nil
	default:
		return ModeAuto, fmt.Errorf("unknown source %q", value)
	}
}

// Watcher is the resource resolver contract consumed by the log session.
type Watcher interface {
	Watch(ctx context.Context, ref Ref) <-chan Result
}

// Resolver looks a pod up in the cluster and falls back to the archive when the
// cluster no longer has it. When following, cluster pods keep emitting updates.
type Resolver struct {
	client  kubernetes.Interface
	archive Archive
	mode    Mode
	follow  bool
	log     logr.Logger
}

// NewResolver builds a Resolver. Either backend may be nil.
func NewResolver(client kubernetes.Interface, arch Archive, mode Mode, follow bool, logger logr.Logger) *Resolver {
	return &Resolver{client: client, archive: arch, mode: mode, follow: follow, log: logger.WithName("resolver")}
}

// Watch emits a Loading result first, then the resolved pod (or an error). The
// channel closes when nothing more will be emitted or ctx is done.
func (r *Resolver) Watch(ctx context.Context, ref Ref) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		if !send(ctx, out, Result{Loading: true}) {
			return
		}
		res, fromCluster := r.resolve(ctx, ref)
		if !send(ctx, out, res) {
			return
		}
		if res.Err != nil || !fromCluster || !r.follow {
			return
		}
		r.followPod(ctx, ref, out)
	}()
	return out
}

func (r *Resolver) resolve(ctx context.Context, ref Ref) (Result, bool) {
	var clusterErr error
	if r.client != nil && r.mode != ModeArchive {
		pod, err := r.client.CoreV1().Pods(ref.Namespace).Get(ctx, ref.Pod, metav1.GetOptions{})
		if err == nil {
			return Result{Pod: pod, Source: SourceCluster}, true
		}
		if !apierrors.IsNotFound(err) || r.archive == nil || r.mode == ModeCluster {
			return Result{Source: SourceCluster, Err: fmt.Errorf("get pod %s: %w", ref.Identity, err)}, false
		}
		clusterErr = err
		r.log.V(1).Info("pod not in cluster; trying archive", "pod", ref.Identity.String())
	}
	if r.archive == nil || r.mode == ModeCluster {
		return Result{Err: fmt.Errorf("pod %s: no backend available", ref.Identity)}, false
	}
	pod, err := r.archive.GetPod(ctx, ref.Namespace, ref.Pod)
	if err != nil {
		if clusterErr != nil {
			err = errors.Join(clusterErr, err)
		}
		return Result{Source: SourceArchive, Err: fmt.Errorf("pod %s not found in cluster or archive: %w", ref.Identity, err)}, false
	}
	return Result{Pod: pod, Source: SourceArchive}, false
}

func (r *Resolver) followPod(ctx context.Context, ref Ref, out chan<- Result) {
	selector := fields.OneTermEqualSelector("metadata.name", ref.Pod).String()
	lw := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			options.FieldSelector = selector
			return r.client.CoreV1().Pods(ref.Namespace).List(ctx, options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.FieldSelector = selector
			return r.client.CoreV1().Pods(ref.Namespace).Watch(ctx, options)
		},
	}
	informer := cache.NewSharedIndexInformer(lw, &corev1.Pod{}, 0, cache.Indexers{})
	emit := func(obj interface{}) {
		pod, ok := obj.(*corev1.Pod)
		if !ok || pod.Name != ref.Pod {
			return
		}
		send(ctx, out, Result{Pod: pod.DeepCopy(), Source: SourceCluster})
	}
	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    emit,
		UpdateFunc: func(_, newObj interface{}) { emit(newObj) },
		DeleteFunc: func(interface{}) {
			r.log.V(1).Info("followed pod deleted", "pod", ref.Identity.String())
		},
	})
	if err != nil {
		r.log.Error(err, "register pod informer handler", "pod", ref.Identity.String())
		return
	}
	r.log.V(1).Info("following pod updates", "pod", ref.Identity.String())
	informer.Run(ctx.Done())
}

func send(ctx context.Context, out chan<- Result, res Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
