// File: internal/config/config.go
// Brief: Internal config package implementation for 'config'.

// Package config defines the flag plumbing and runtime options shared by the
// tklogs commands, translating Cobra/Viper flag values into a strongly typed
// struct that the resolver, session and panes consume.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Source modes accepted by --source.
const (
	SourceAuto    = "auto"
	SourceCluster = "cluster"
	SourceArchive = "archive"
)

// Output modes accepted by --output.
const (
	OutputAuto  = "auto"
	OutputTUI   = "tui"
	OutputPlain = "plain"
)

const (
	defaultStallTimeout     = 2 * time.Minute
	defaultDownloadAllLabel = "Download all"
	defaultArchiveFile      = "tklogs-archive.db"
)

// Options holds all CLI configuration used by the log pane.
type Options struct {
	TaskRun          string
	PipelineRun      string
	Pod              string
	Namespace        string
	Source           string
	ArchivePath      string
	Follow           bool
	NoFollow         bool
	TailLines        int64
	Since            time.Duration
	SinceRaw         string
	StallTimeout     time.Duration
	DownloadDir      string
	DownloadAllLabel string
	DownloadAll      bool
	Output           string
	ColorMode        string
	Timestamps       bool
	Prefix           bool
	WSListenAddr     string
	LogFile          string
	KubeConfigPath   string
	Context          string
}

// DefaultArchivePath exposes the archive location used when --archive is omitted.
func DefaultArchivePath() string {
	return defaultArchiveFile
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		Source:           SourceAuto,
		ArchivePath:      defaultArchiveFile,
		Follow:           true,
		TailLines:        -1,
		StallTimeout:     defaultStallTimeout,
		DownloadDir:      ".",
		DownloadAllLabel: defaultDownloadAllLabel,
		Output:           OutputAuto,
		ColorMode:        "auto",
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.Flags())
}

// BindFlags attaches log flags to an arbitrary FlagSet and returns the flag names for further customization.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.Namespace, "namespace", "n", "", "Kubernetes namespace of the TaskRun. Defaults to the context namespace.")
	names = append(names, "namespace")
	fs.StringVar(&o.PipelineRun, "pipelinerun", "", "Show the TaskRuns of this PipelineRun; n/p switch between tasks in the pane")
	names = append(names, "pipelinerun")
	fs.StringVar(&o.Pod, "pod", "", "Address a pod directly instead of resolving it from a TaskRun")
	names = append(names, "pod")
	fs.StringVar(&o.Source, "source", o.Source, "Log backend: auto (cluster, then archive), cluster, or archive")
	names = append(names, "source")
	fs.StringVar(&o.ArchivePath, "archive", o.ArchivePath, "Path to the SQLite log archive")
	names = append(names, "archive")
	fs.BoolVarP(&o.Follow, "follow", "f", true, "Follow running containers and pod status updates")
	names = append(names, "follow")
	fs.BoolVar(&o.NoFollow, "no-follow", false, "Alias for --follow=false")
	names = append(names, "no-follow")
	fs.Int64VarP(&o.TailLines, "tail", "t", o.TailLines, "Number of historic lines per container, -1 for all available")
	names = append(names, "tail")
	fs.StringVarP(&o.SinceRaw, "since", "s", "", "Return logs newer than a relative duration like 5s, 2m, or 3h")
	names = append(names, "since")
	fs.DurationVar(&o.StallTimeout, "stall-timeout", o.StallTimeout, "Flag the current container as delayed after this long without progress (0 disables)")
	names = append(names, "stall-timeout")
	fs.StringVar(&o.DownloadDir, "download-dir", o.DownloadDir, "Directory that receives downloaded log files")
	names = append(names, "download-dir")
	fs.StringVar(&o.DownloadAllLabel, "download-all-label", o.DownloadAllLabel, "Label of the bulk download action")
	names = append(names, "download-all-label")
	fs.BoolVar(&o.DownloadAll, "download-all", false, "In plain output, write every container log to <task>-all.log and exit")
	names = append(names, "download-all")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output surface: auto, tui, or plain")
	names = append(names, "output")
	fs.StringVarP(&o.ColorMode, "color", "m", "auto", "Force set color output. 'auto': colorize if tty attached, 'always': always colorize, 'never': never colorize")
	names = append(names, "color")
	fs.BoolVar(&o.Timestamps, "timestamps", false, "In plain output, prefix each line with the time it was shown")
	names = append(names, "timestamps")
	fs.BoolVar(&o.Prefix, "prefix", false, "In plain output, prefix each line with its container name instead of printing step headers")
	names = append(names, "prefix")
	fs.StringVar(&o.WSListenAddr, "ws-listen", "", "Expose the ordered log transcript as a WebSocket feed at this address (e.g. :9090)")
	names = append(names, "ws-listen")
	fs.StringVar(&o.LogFile, "log-file", "", "Write diagnostic logs to this file (the TUI discards them otherwise)")
	names = append(names, "log-file")
	return names
}

// Validate ensures provided options are coherent and normalizes enumerations.
func (o *Options) Validate() error {
	o.TaskRun = strings.TrimSpace(o.TaskRun)
	o.PipelineRun = strings.TrimSpace(o.PipelineRun)
	o.Pod = strings.TrimSpace(o.Pod)
	o.Namespace = strings.TrimSpace(o.Namespace)
	if strings.Contains(o.TaskRun, "/") {
		parts := strings.SplitN(o.TaskRun, "/", 2)
		if parts[1] != "" {
			if o.Namespace == "" {
				o.Namespace = strings.TrimSpace(parts[0])
			}
			o.TaskRun = parts[1]
		}
	}
	targets := 0
	for _, v := range []string{o.TaskRun, o.PipelineRun, o.Pod} {
		if v != "" {
			targets++
		}
	}
	if targets == 0 {
		return fmt.Errorf("provide a TASKRUN argument, --pipelinerun, or --pod")
	}
	if targets > 1 {
		return fmt.Errorf("TASKRUN, --pipelinerun, and --pod are mutually exclusive")
	}
	switch strings.ToLower(strings.TrimSpace(o.Source)) {
	case "", SourceAuto:
		o.Source = SourceAuto
	case SourceCluster:
		o.Source = SourceCluster
	case SourceArchive:
		o.Source = SourceArchive
	default:
		return fmt.Errorf("invalid --source value %q (allowed: auto, cluster, archive)", o.Source)
	}
	o.ArchivePath = strings.TrimSpace(o.ArchivePath)
	if o.Source == SourceArchive && o.ArchivePath == "" {
		return fmt.Errorf("--source archive requires --archive")
	}
	if o.NoFollow {
		o.Follow = false
	}
	if o.Source == SourceArchive {
		o.Follow = false
	}
	if o.TailLines < -1 {
		return fmt.Errorf("--tail cannot be less than -1")
	}
	if o.SinceRaw != "" {
		dur, err := time.ParseDuration(o.SinceRaw)
		if err != nil {
			return fmt.Errorf("invalid since duration %q: %w", o.SinceRaw, err)
		}
		o.Since = dur
	}
	if o.StallTimeout < 0 {
		return fmt.Errorf("--stall-timeout cannot be negative")
	}
	if strings.TrimSpace(o.DownloadDir) == "" {
		o.DownloadDir = "."
	}
	if strings.TrimSpace(o.DownloadAllLabel) == "" {
		o.DownloadAllLabel = defaultDownloadAllLabel
	}
	switch strings.ToLower(strings.TrimSpace(o.Output)) {
	case "", OutputAuto:
		o.Output = OutputAuto
	case OutputTUI:
		o.Output = OutputTUI
	case OutputPlain:
		o.Output = OutputPlain
	default:
		return fmt.Errorf("invalid --output value %q (allowed: auto, tui, plain)", o.Output)
	}
	if o.DownloadAll && o.Output == OutputTUI {
		return fmt.Errorf("--download-all is a plain-output action; use the pane's %q key in the TUI", "a")
	}
	if (o.Timestamps || o.Prefix) && o.Output == OutputTUI {
		return fmt.Errorf("--timestamps and --prefix apply to plain output only")
	}
	switch strings.ToLower(o.ColorMode) {
	case "", "auto":
		o.ColorMode = "auto"
	case "always":
		o.ColorMode = "always"
	case "never":
		o.ColorMode = "never"
	default:
		return fmt.Errorf("invalid --color value %q (allowed: auto, always, never)", o.ColorMode)
	}
	return nil
}

// ResolveOutput picks the concrete surface for OutputAuto given whether stdout is
// a terminal. Plain-only options force plain output.
func (o *Options) ResolveOutput(stdoutIsTerminal bool) string {
	if o.Output != OutputAuto {
		return o.Output
	}
	if stdoutIsTerminal && !o.DownloadAll && !o.Timestamps && !o.Prefix {
		return OutputTUI
	}
	return OutputPlain
}
