// File: internal/tailer/source.go
// Brief: Log sources a container fetch can read from: the live cluster or the archive.

package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/example/tklogs/internal/resource"
)

// ErrNoSource is returned when the bound backend has no log source configured.
var ErrNoSource = errors.New("no log source for backend")

// Target addresses one container log.
type Target struct {
	Namespace string
	Pod       string
	Container string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s[%s]", t.Namespace, t.Pod, t.Container)
}

// FetchOptions shape a log read. TailLines < 0 and Since == 0 mean everything.
type FetchOptions struct {
	Follow    bool
	TailLines int64
	Since     time.Duration
}

// Source opens a container log.
type Source interface {
	Open(ctx context.Context, target Target, opts FetchOptions) (io.ReadCloser, error)
}

// ClusterSource streams logs from the Kubernetes API.
type ClusterSource struct {
	Client kubernetes.Interface
}

func (s ClusterSource) Open(ctx context.Context, target Target, opts FetchOptions) (io.ReadCloser, error) {
	logOpts := &corev1.PodLogOptions{
		Container: target.Container,
		Follow:    opts.Follow,
	}
	if opts.Since > 0 {
		seconds := int64(opts.Since.Seconds())
		logOpts.SinceSeconds = &seconds
	}
	if opts.TailLines >= 0 {
		tail := opts.TailLines
		logOpts.TailLines = &tail
	}
	return s.Client.CoreV1().Pods(target.Namespace).GetLogs(target.Pod, logOpts).Stream(ctx)
}

// LogStore is the archive read path used by ArchiveSource.
type LogStore interface {
	OpenLog(ctx context.Context, namespace, pod, container string) (io.ReadCloser, error)
}

// ArchiveSource replays archived logs. Archived logs are complete, so follow,
// tail and since are ignored.
type ArchiveSource struct {
	Store LogStore
}

func (s ArchiveSource) Open(ctx context.Context, target Target, _ FetchOptions) (io.ReadCloser, error) {
	return s.Store.OpenLog(ctx, target.Namespace, target.Pod, target.Container)
}

// Sources holds one Source per backend.
type Sources struct {
	Cluster Source
	Archive Source
}

// For returns the source for the bound backend.
func (s Sources) For(src resource.Source) (Source, error) {
	var out Source
	switch src {
	case resource.SourceCluster:
		out = s.Cluster
	case resource.SourceArchive:
		out = s.Archive
	}
	if out == nil {
		return nil, fmt.Errorf("%w %s", ErrNoSource, src)
	}
	return out, nil
}
