// File: cmd/tklogs/archive.go
// Brief: 'tklogs archive' copies finished TaskRun pods and their step logs into the SQLite archive.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/example/tklogs/internal/archive"
	"github.com/example/tklogs/internal/config"
	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/kube"
	"github.com/example/tklogs/internal/logging"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/tailer"
	"github.com/example/tklogs/internal/ui"
)

const (
	archiveConcurrency = 4
	maxArchivedLine    = 1024 * 1024
)

type archiveOptions struct {
	namespace    string
	pipelineRun  string
	path         string
	allowRunning bool
}

func newArchiveCommand(g *globals) *cobra.Command {
	o := &archiveOptions{path: config.DefaultArchivePath()}
	cmd := &cobra.Command{
		Use:   "archive [TASKRUN]",
		Short: "Copy a finished TaskRun pod and its step logs into the archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			if (name == "") == (o.pipelineRun == "") {
				return fmt.Errorf("provide either a TASKRUN argument or --pipelinerun")
			}
			logger, err := logging.New(g.logLevel, logging.WithWriter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			return runArchive(cmd.Context(), cmd, o, g, name, logger)
		},
	}
	cmd.Flags().StringVarP(&o.namespace, "namespace", "n", "", "Kubernetes namespace of the TaskRun. Defaults to the context namespace.")
	cmd.Flags().StringVar(&o.pipelineRun, "pipelinerun", "", "Archive every TaskRun of this PipelineRun")
	cmd.Flags().StringVar(&o.path, "archive", o.path, "Path to the SQLite log archive (created when missing)")
	cmd.Flags().BoolVar(&o.allowRunning, "allow-running", false, "Archive pods that have not finished yet (their logs are a snapshot)")
	return cmd
}

func runArchive(ctx context.Context, cmd *cobra.Command, o *archiveOptions, g *globals, name string, logger logr.Logger) error {
	client, err := kube.New(ctx, g.kubeconfig, g.kubeContext)
	if err != nil {
		return err
	}
	namespace := o.namespace
	if namespace == "" {
		namespace = client.Namespace
	}
	catalog := resource.NewCatalog(client.Dynamic, nil, resource.ModeCluster, logger)
	var tasks []resource.TaskRunInfo
	lookupCtx, cancel := kube.Timeout(ctx)
	if name != "" {
		var info resource.TaskRunInfo
		info, err = catalog.TaskRun(lookupCtx, namespace, name)
		tasks = []resource.TaskRunInfo{info}
	} else {
		tasks, err = catalog.PipelineRunTasks(lookupCtx, namespace, o.pipelineRun)
	}
	cancel()
	if err != nil {
		return err
	}

	store, err := archive.Open(o.path)
	if err != nil {
		return err
	}
	defer store.Close()

	a := &archiver{
		client:       client,
		store:        store,
		source:       tailer.ClusterSource{Client: client.Clientset},
		allowRunning: o.allowRunning,
		log:          logger.WithName("archive"),
	}
	out := cmd.ErrOrStderr()
	for _, task := range tasks {
		stop := ui.StartSpinner(out, fmt.Sprintf("Archiving %s", task.Name))
		err := a.archiveTask(ctx, task)
		stop(err == nil)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Archived %d task run(s) into %s\n", len(tasks), store.Path())
	return nil
}

type archiver struct {
	client       *kube.Client
	store        *archive.Store
	source       tailer.Source
	allowRunning bool
	log          logr.Logger
}

func (a *archiver) archiveTask(ctx context.Context, task resource.TaskRunInfo) error {
	pod, err := a.client.Clientset.CoreV1().Pods(task.Namespace).Get(ctx, task.PodName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get pod %s/%s: %w", task.Namespace, task.PodName, err)
	}
	if !a.allowRunning && pod.Status.Phase != corev1.PodSucceeded && pod.Status.Phase != corev1.PodFailed {
		return fmt.Errorf("pod %s/%s is %s; rerun with --allow-running to snapshot it", pod.Namespace, pod.Name, pod.Status.Phase)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(archiveConcurrency)
	for _, c := range pod.Spec.Containers {
		if containers.StatusFor(pod, c.Name).Skip() {
			a.log.V(1).Info("skipping container that never started", "pod", pod.Name, "container", c.Name)
			continue
		}
		target := tailer.Target{Namespace: pod.Namespace, Pod: pod.Name, Container: c.Name}
		group.Go(func() error {
			lines, err := a.readLines(gctx, target)
			if err != nil {
				return fmt.Errorf("read logs of %s: %w", target, err)
			}
			return a.store.ReplaceLog(gctx, target.Namespace, target.Pod, target.Container, lines)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := a.store.PutPod(ctx, task.Name, pod); err != nil {
		return err
	}
	if task.Name == "" {
		return nil
	}
	return a.store.PutTaskRun(ctx, archive.TaskRunRecord{
		Namespace:   task.Namespace,
		Name:        task.Name,
		TaskName:    task.TaskName,
		Pod:         task.PodName,
		PipelineRun: task.PipelineRun,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	})
}

func (a *archiver) readLines(ctx context.Context, target tailer.Target) ([]string, error) {
	rc, err := a.source.Open(ctx, target, tailer.FetchOptions{TailLines: -1})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return scanLines(rc)
}

func scanLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxArchivedLine)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}
