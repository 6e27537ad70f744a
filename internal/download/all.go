package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/tailer"
)

const fetchConcurrency = 4

// Binding reports the bound resource at the time of the call.
type Binding func() (resource.Ref, *corev1.Pod, resource.Source)

// AllContainers returns a Producer that fetches the full log of every started
// container of the bound pod concurrently and writes them in declared order,
// each under a "==== <container> ====" header, to dir/<task-name>-all.log.
func AllContainers(bound Binding, sources tailer.Sources, dir string, logger logr.Logger) Producer {
	log := logger.WithName("download-all")
	return func(ctx context.Context) error {
		ref, pod, src := bound()
		if pod == nil {
			return errors.New("no pod is bound yet")
		}
		source, err := sources.For(src)
		if err != nil {
			return err
		}
		var names []string
		for _, c := range pod.Spec.Containers {
			if containers.StatusFor(pod, c.Name).Skip() {
				continue
			}
			names = append(names, c.Name)
		}
		if len(names) == 0 {
			return fmt.Errorf("pod %s has no started containers", ref.Identity)
		}

		bodies := make([][]byte, len(names))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for i, name := range names {
			i, name := i, name
			g.Go(func() error {
				target := tailer.Target{Namespace: pod.Namespace, Pod: pod.Name, Container: name}
				rc, err := source.Open(gctx, target, tailer.FetchOptions{TailLines: -1})
				if err != nil {
					return fmt.Errorf("fetch %s: %w", target, err)
				}
				defer rc.Close()
				data, err := io.ReadAll(rc)
				if err != nil {
					return fmt.Errorf("read %s: %w", target, err)
				}
				bodies[i] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var buf bytes.Buffer
		for i, name := range names {
			fmt.Fprintf(&buf, "==== %s ====\n", name)
			buf.Write(bodies[i])
			if n := len(bodies[i]); n > 0 && bodies[i][n-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
		path, err := writeFile(dir, AllFileName(ref.DisplayName()), buf.Bytes())
		if err != nil {
			return err
		}
		log.Info("saved all container logs", "path", path, "containers", len(names), "source", src.String())
		return nil
	}
}
