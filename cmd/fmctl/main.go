// fmctl drives a blobfm deployment from the command line: it mints
// capabilities at the access endpoint and runs file manager operations
// directly against the object store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/fsops"
	"github.com/fruitsalade/blobfm/pkg/gateway"
)

const endpointEnv = "BLOBFM_ENDPOINT"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	endpoint string
	timeout  time.Duration
	retries  int
	parallel int
	trace    bool
	logLevel string
}

// app is the state built once the flags are parsed.
type app struct {
	opts *globalOptions
	gw   *retryingGateway
	fs   *fsops.FileSystem
	out  *printer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "fmctl",
		Short:         "Manage files in a blobfm container",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	defaultEndpoint := os.Getenv(endpointEnv)
	if defaultEndpoint == "" {
		defaultEndpoint = "http://localhost:8080/api/file-manager-azure-access"
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.endpoint, "endpoint", defaultEndpoint, "access endpoint URL (env "+endpointEnv+")")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	flags.IntVar(&opts.retries, "retries", 2, "retries for transient failures of single-object operations")
	flags.IntVar(&opts.parallel, "parallel", fsops.DefaultParallelism, "concurrent sub-operations per directory operation")
	flags.BoolVar(&opts.trace, "trace", false, "print every store request")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); logging is off when empty")

	root.AddCommand(
		newListCommand(a),
		newMkdirCommand(a),
		newRemoveCommand(a),
		newCopyCommand(a),
		newMoveCommand(a),
		newRenameCommand(a),
		newUploadCommand(a),
		newDownloadCommand(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.opts.logLevel == "" {
		logging.InitNop()
	} else if err := logging.Init(logging.Config{
		Level:      a.opts.logLevel,
		Format:     "console",
		OutputPath: "stderr",
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if a.opts.endpoint == "" {
		return fmt.Errorf("no endpoint: set --endpoint or %s", endpointEnv)
	}

	a.out = newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg := gateway.Config{
		Endpoint: a.opts.endpoint,
		Timeout:  a.opts.timeout,
	}
	if a.opts.trace {
		cfg.OnRequest = a.out.trace
	}

	a.gw = newRetryingGateway(gateway.New(cfg), a.opts.retries)
	a.fs = fsops.New(a.gw, fsops.Options{Parallelism: a.opts.parallel})
	return nil
}
