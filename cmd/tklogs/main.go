// main.go bootstraps tklogs: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/klog/v2"

	"github.com/example/tklogs/internal/config"
	"github.com/example/tklogs/internal/logging"
	"github.com/example/tklogs/internal/stream"
	"github.com/example/tklogs/internal/version"
)

const envPrefix = "TKLOGS"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	kubeconfig   string
	kubeContext  string
	logLevel     string
	kubeLogLevel int
	noColor      bool
}

func newRootCommand() *cobra.Command {
	initKlogFlags()

	opts := config.NewOptions()
	g := &globals{logLevel: "info"}
	cmd := &cobra.Command{
		Use:   "tklogs [TASKRUN]",
		Short: "Show Tekton TaskRun logs one step after another",
		Long: "tklogs streams the step containers of a TaskRun pod in declared order, from the live cluster " +
			"or from a SQLite archive once the pod is gone.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Get().Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.apply()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.TaskRun = args[0]
			}
			opts.KubeConfigPath = g.kubeconfig
			opts.Context = g.kubeContext
			return runLogs(cmd, opts, g)
		},
	}
	cmd.PersistentFlags().StringVarP(&g.kubeconfig, "kubeconfig", "k", "", "Path to the kubeconfig file to use for CLI requests")
	cmd.PersistentFlags().StringVarP(&g.kubeContext, "context", "K", "", "Name of the kubeconfig context to use")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level for tklogs diagnostics (debug, info, warn, error)")
	cmd.PersistentFlags().IntVar(&g.kubeLogLevel, "kube-log-level", 0, "Kubernetes client-go verbosity (klog -v); at >=6 enables HTTP request/response tracing; can also set TKLOGS_KUBE_LOG_LEVEL")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	opts.AddFlags(cmd)

	archiveCmd := newArchiveCommand(g)
	cmd.AddCommand(archiveCmd, newVersionCommand())
	cmd.Example = `  # Follow a TaskRun, one step after another
  tklogs build-and-test-run-x7k2p -n ci

  # Walk the TaskRuns of a PipelineRun (n/p switch tasks)
  tklogs --pipelinerun release-42 -n ci

  # Replay a pruned TaskRun from the archive as plain text
  tklogs build-and-test-run-x7k2p -n ci --source archive --archive ci.db -o plain`
	bindViper(cmd, archiveCmd)
	return cmd
}

// apply pushes the persistent flags into klog and the color package.
func (g *globals) apply() error {
	if _, _, err := logging.ParseLevel(g.logLevel); err != nil {
		return err
	}
	if g.kubeLogLevel == 0 {
		if val := strings.TrimSpace(os.Getenv(envPrefix + "_KUBE_LOG_LEVEL")); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s_KUBE_LOG_LEVEL %q: %w", envPrefix, val, err)
			}
			g.kubeLogLevel = n
		} else if logging.AtLeast(g.logLevel, zapcore.DebugLevel) {
			g.kubeLogLevel = 6
		}
	}
	if g.kubeLogLevel > 0 {
		_ = flag.CommandLine.Set("v", strconv.Itoa(g.kubeLogLevel))
		_ = flag.CommandLine.Set("logtostderr", "true")
	}
	if g.noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	return nil
}

var klogOnce sync.Once

func initKlogFlags() {
	klogOnce.Do(func() {
		klog.InitFlags(nil)
	})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			return nil
		},
	}
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	configFile := os.Getenv(envPrefix + "_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "tklogs"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "tklogs"))
		add(filepath.Join(home, ".tklogs"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
}

func errorMessage(err error) string {
	var stalled *stream.StalledError
	switch {
	case errors.As(err, &stalled):
		return fmt.Sprintf("%s\nHint: rerun with --follow to wait for the step to start.", err)
	case apierrors.IsUnauthorized(err):
		return fmt.Sprintf("%s\nHint: kubeconfig credentials were rejected. Run 'kubectl config view' to confirm the active user.", err)
	case apierrors.IsForbidden(err):
		return fmt.Sprintf("%s\nHint: missing Kubernetes permissions. tklogs needs get/list/watch on pods, pods/log and taskruns.tekton.dev.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s\nHint: verify network connectivity to the cluster.", err)
	}
	return err.Error()
}
