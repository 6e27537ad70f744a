// File: cmd/tklogs/logs.go
// Brief: Wiring for the default log command: backends, session and output surface.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/example/tklogs/internal/archive"
	"github.com/example/tklogs/internal/caststream"
	"github.com/example/tklogs/internal/castutil"
	"github.com/example/tklogs/internal/config"
	"github.com/example/tklogs/internal/download"
	"github.com/example/tklogs/internal/kube"
	"github.com/example/tklogs/internal/logging"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
	"github.com/example/tklogs/internal/tailer"
	"github.com/example/tklogs/internal/ui"
)

// backends is everything a log command reads from.
type backends struct {
	mode      resource.Mode
	namespace string
	client    *kube.Client
	store     *archive.Store
}

func (b *backends) clientset() kubernetes.Interface {
	if b.client == nil {
		return nil
	}
	return b.client.Clientset
}

// archiveReader returns the store as an interface, nil when no archive is open.
func (b *backends) archiveReader() resource.Archive {
	if b.store == nil {
		return nil
	}
	return b.store
}

func (b *backends) sources() tailer.Sources {
	var sources tailer.Sources
	if b.client != nil {
		sources.Cluster = tailer.ClusterSource{Client: b.client.Clientset}
	}
	if b.store != nil {
		sources.Archive = tailer.ArchiveSource{Store: b.store}
	}
	return sources
}

func (b *backends) catalog(logger logr.Logger) *resource.Catalog {
	var dyn dynamic.Interface
	if b.client != nil {
		dyn = b.client.Dynamic
	}
	return resource.NewCatalog(dyn, b.archiveReader(), b.mode, logger)
}

func (b *backends) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

// openBackends connects to the cluster and opens the archive as the source mode
// allows. In auto mode a missing backend is tolerated as long as one remains.
func openBackends(ctx context.Context, opts *config.Options, logger logr.Logger) (*backends, error) {
	mode, err := resource.ParseMode(opts.Source)
	if err != nil {
		return nil, err
	}
	b := &backends{mode: mode, namespace: opts.Namespace}
	var clusterErr error
	if mode != resource.ModeArchive {
		b.client, clusterErr = kube.New(ctx, opts.KubeConfigPath, opts.Context)
		if clusterErr != nil {
			if mode == resource.ModeCluster {
				return nil, clusterErr
			}
			logger.V(1).Info("cluster unavailable; using archive only", "error", clusterErr.Error())
		}
	}
	if mode != resource.ModeCluster {
		store, err := archive.OpenExisting(opts.ArchivePath)
		switch {
		case err == nil:
			b.store = store
		case mode == resource.ModeArchive || !errors.Is(err, archive.ErrNotFound):
			return nil, err
		default:
			logger.V(1).Info("no archive available", "path", opts.ArchivePath)
		}
	}
	if b.client == nil && b.store == nil {
		return nil, fmt.Errorf("no log backend available: %w", clusterErr)
	}
	if b.namespace == "" && b.client != nil {
		b.namespace = b.client.Namespace
	}
	if b.namespace == "" {
		b.namespace = "default"
	}
	return b, nil
}

// resolveTasks turns the command target into the list of task runs the pane can show.
func resolveTasks(ctx context.Context, opts *config.Options, b *backends, logger logr.Logger) ([]resource.TaskRunInfo, error) {
	switch {
	case opts.Pod != "":
		return []resource.TaskRunInfo{{Namespace: b.namespace, TaskName: opts.Pod, PodName: opts.Pod}}, nil
	case opts.PipelineRun != "":
		lookupCtx, cancel := kube.Timeout(ctx)
		defer cancel()
		tasks, err := b.catalog(logger).PipelineRunTasks(lookupCtx, b.namespace, opts.PipelineRun)
		if err != nil {
			return nil, b.explainLookup(err)
		}
		return tasks, nil
	default:
		lookupCtx, cancel := kube.Timeout(ctx)
		defer cancel()
		info, err := b.catalog(logger).TaskRun(lookupCtx, b.namespace, opts.TaskRun)
		if err != nil {
			return nil, b.explainLookup(err)
		}
		return []resource.TaskRunInfo{info}, nil
	}
}

// explainLookup notes when a failed TaskRun lookup is due to Tekton not being installed.
func (b *backends) explainLookup(err error) error {
	if b.client == nil || !resource.IsNotFound(err) {
		return err
	}
	served, derr := kube.TektonServed(b.client.Clientset.Discovery())
	if derr != nil || served {
		return err
	}
	return fmt.Errorf("%w (the cluster does not serve %s taskruns; use --pod to address the pod directly)", err, kube.TektonGroupVersion)
}

func runLogs(cmd *cobra.Command, opts *config.Options, g *globals) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	surface := opts.ResolveOutput(ui.IsTerminal(stdout))
	applyColorMode(opts.ColorMode)

	logOut, closeLog, err := diagnosticsWriter(opts, surface, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	logger, err := logging.New(g.logLevel, logging.WithWriter(logOut))
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	tasks, err := resolveTasks(ctx, opts, b, logger)
	if err != nil {
		return err
	}
	sources := b.sources()
	resolver := resource.NewResolver(b.clientset(), b.archiveReader(), b.mode, opts.Follow, logger)

	if opts.DownloadAll {
		return runDownloadAll(ctx, opts, tasks[0], resolver, sources, logger, stderr)
	}

	fetcher := tailer.NewFetcher(sources, tailer.FetchOptions{
		Follow:    opts.Follow,
		TailLines: opts.TailLines,
		Since:     opts.Since,
	}, logger)
	cfg := stream.Config{
		Resolver:     resolver,
		Runner:       fetcher,
		Follow:       opts.Follow,
		StallTimeout: opts.StallTimeout,
		Logger:       logger,
	}
	var sessionOpts []stream.Option
	if opts.WSListenAddr != "" {
		mirror := caststream.New(opts.WSListenAddr, caststream.ModeWeb, tasks[0].TaskName, logger,
			caststream.WithTitle("tklogs "+tasks[0].TaskName))
		if err := castutil.StartCastServer(ctx, mirror, "log mirror", logger, stderr); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Mirroring logs on ws://%s/ws\n", opts.WSListenAddr)
		sessionOpts = append(sessionOpts, stream.WithLineObserver(mirror))
	}

	if surface == config.OutputTUI {
		return runPane(ctx, opts, cfg, sessionOpts, tasks, sources, logger)
	}
	printer := ui.NewPrinter(stdout, stderr, printerOptions(opts))
	cfg.ExitWhenDone = true
	sessionOpts = append(sessionOpts, stream.WithLineObserver(printer), stream.WithObserver(printer))
	return runPlain(ctx, cfg, sessionOpts, tasks, printer)
}

// runPlain prints every task in order. Each session ends when its pod's steps
// are complete.
func runPlain(ctx context.Context, cfg stream.Config, sessionOpts []stream.Option, tasks []resource.TaskRunInfo, printer *ui.Printer) error {
	for _, task := range tasks {
		printer.TaskStarted(task, time.Now())
		session := stream.New(cfg, sessionOpts...)
		if err := session.Run(ctx, task.Ref()); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func runPane(ctx context.Context, opts *config.Options, cfg stream.Config, sessionOpts []stream.Option, tasks []resource.TaskRunInfo, sources tailer.Sources, logger logr.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	forwarder := ui.NewViewForwarder()
	cfg.KeepAlive = true
	session := stream.New(cfg, append(sessionOpts, stream.WithObserver(forwarder))...)
	bulk := download.NewBulk(opts.DownloadAllLabel,
		download.AllContainers(session.Bound, sources, opts.DownloadDir, logger), logger)
	defer bulk.Wait()

	pane := ui.NewPane(ui.PaneConfig{
		Context:     ctx,
		Controller:  session,
		Tasks:       tasks,
		Bulk:        bulk,
		DownloadDir: opts.DownloadDir,
		Follow:      opts.Follow,
	})
	program := tea.NewProgram(pane, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	go func() {
		if err := session.Run(ctx, tasks[0].Ref()); err != nil {
			logger.Error(err, "log session ended")
		}
	}()
	go forwarder.Run(ctx, program.Send)

	_, err := program.Run()
	cancel()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// runDownloadAll resolves the task's pod once and writes every started
// container log to <task>-all.log.
func runDownloadAll(ctx context.Context, opts *config.Options, task resource.TaskRunInfo, resolver resource.Watcher, sources tailer.Sources, logger logr.Logger, errOut io.Writer) error {
	ref := task.Ref()
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var res resource.Result
	for r := range resolver.Watch(watchCtx, ref) {
		if r.Loading {
			continue
		}
		res = r
		break
	}
	cancel()
	if res.Err != nil {
		return res.Err
	}
	if res.Pod == nil {
		return fmt.Errorf("pod %s could not be resolved", ref.Identity)
	}
	bound := func() (resource.Ref, *corev1.Pod, resource.Source) { return ref, res.Pod, res.Source }
	bulk := download.NewBulk(opts.DownloadAllLabel, download.AllContainers(bound, sources, opts.DownloadDir, logger), logger)

	stop := ui.StartSpinner(errOut, fmt.Sprintf("%s: %s", bulk.Label(), ref.DisplayName()))
	err := bulk.Run(ctx)
	stop(err == nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "Wrote %s\n", filepath.Join(opts.DownloadDir, download.AllFileName(ref.DisplayName())))
	return nil
}

func printerOptions(opts *config.Options) ui.PrinterOptions {
	return ui.PrinterOptions{
		Color:      !color.NoColor,
		Timestamps: opts.Timestamps,
		Prefix:     opts.Prefix,
	}
}

func applyColorMode(mode string) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	}
}

// diagnosticsWriter keeps logger output off the screen while the pane owns it.
func diagnosticsWriter(opts *config.Options, surface string, stderr io.Writer) (io.Writer, func(), error) {
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if surface == config.OutputTUI {
		return io.Discard, func() {}, nil
	}
	return stderr, func() {}, nil
}
