package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/csf-extractor/internal/ingest"
)

type watchOptions struct {
	recursive   bool
	debounce    time.Duration
	out         string
	json        bool
	noRemote    bool
	operator    string
	initialScan bool
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch DIR [DIR ...]",
		Short: "Process certificates as they land in a directory",
		Long: `Watches the directories and processes every burst of new or rewritten
certificates as one batch, writing one report per batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, opts, args)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.recursive, "recursive", false, "watch subdirectories too")
	f.DurationVar(&opts.debounce, "debounce", 2*time.Second, "quiet period that closes a batch")
	f.StringVar(&opts.out, "out", "", "report directory (default CSF_REPORT_DIR)")
	f.BoolVar(&opts.json, "json", false, "also write a JSON report")
	f.BoolVar(&opts.noRemote, "no-remote", false, "skip verification pages and parse the PDF text only")
	f.StringVar(&opts.operator, "operator", "", "name recorded on each run (default $USER)")
	f.BoolVar(&opts.initialScan, "initial-scan", true, "process the files already present first")
	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions, dirs []string) error {
	cfg, logger, err := root.load(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if opts.noRemote {
		cfg.Browser.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	target := reportTarget{dir: cfg.Report.Dir, prefix: cfg.Report.Prefix, json: opts.json || cfg.Report.JSON}
	if opts.out != "" {
		target.dir = opts.out
	}

	batches, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       dirs,
		Recursive:   opts.recursive,
		InitialScan: opts.initialScan,
		Debounce:    opts.debounce,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("watching", "dirs", dirs, "debounce", opts.debounce.String())

	for {
		select {
		case paths, ok := <-batches:
			if !ok {
				return nil
			}
			if err := a.runOnce(ctx, cmd, ingest.NewPathsSource(paths, logger), opts.operator, target); err != nil {
				if errors.Is(err, ctx.Err()) {
					return nil
				}
				// one bad batch does not stop the watcher
				logger.Error("watch batch failed", "files", len(paths), "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watcher error", "error", err)
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		}
	}
}
