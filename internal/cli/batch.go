package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/csf-extractor/internal/ingest"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
)

type batchOptions struct {
	dir        string
	recursive  bool
	out        string
	json       bool
	noRemote   bool
	operator   string
	gcsBucket  string
	gcsPrefix  string
	reportPref string
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch [file.pdf ...]",
		Short: "Process certificates and write one report",
		Long: `Processes the given files, every certificate in --dir, or every object
under --gcs-prefix in --gcs-bucket, and writes a single report with one row
per file in input order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, root, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "directory to read certificates from")
	f.BoolVar(&opts.recursive, "recursive", false, "descend into subdirectories of --dir")
	f.StringVar(&opts.out, "out", "", "report directory (default CSF_REPORT_DIR)")
	f.BoolVar(&opts.json, "json", false, "also write a JSON report")
	f.BoolVar(&opts.noRemote, "no-remote", false, "skip verification pages and parse the PDF text only")
	f.StringVar(&opts.operator, "operator", "", "name recorded on the run (default $USER)")
	f.StringVar(&opts.gcsBucket, "gcs-bucket", "", "read certificates from and upload the report to this bucket")
	f.StringVar(&opts.gcsPrefix, "gcs-prefix", "", "object prefix to read certificates from")
	f.StringVar(&opts.reportPref, "report-prefix", "", "report file name prefix (default CSF_REPORT_PREFIX)")
	return cmd
}

func runBatch(cmd *cobra.Command, root *rootOptions, opts *batchOptions, args []string) error {
	cfg, logger, err := root.load(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if opts.noRemote {
		cfg.Browser.Enabled = false
	}
	if opts.gcsBucket != "" {
		cfg.GCS.Bucket = opts.gcsBucket
	}
	if opts.gcsPrefix != "" {
		cfg.GCS.Prefix = opts.gcsPrefix
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
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
	if opts.reportPref != "" {
		target.prefix = opts.reportPref
	}

	var source ingest.Source
	switch {
	case len(args) > 0:
		source = ingest.NewPathsSource(args, logger)
	case opts.dir != "":
		source = ingest.NewFSSource(opts.dir, opts.recursive, true, logger)
	case cfg.GCS.Bucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		defer client.Close()
		store := ingest.NewBucketStore(client, cfg.GCS.Bucket)
		source = ingest.NewGCSSource(store, cfg.GCS.Bucket, cfg.GCS.Prefix, logger)
		target.sink = ingest.NewGCSSink(store, cfg.GCS.Bucket, cfg.GCS.ReportPrefix, logger)
	default:
		return errors.New("nothing to process: pass files, --dir or --gcs-bucket")
	}

	return a.runOnce(ctx, cmd, source, opts.operator, target)
}

// runOnce loads one batch from source, processes it and writes its reports.
func (a *app) runOnce(ctx context.Context, cmd *cobra.Command, source ingest.Source, operator string, target reportTarget) error {
	docs, _, stats, err := source.Load(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		a.logger.Warn("no certificates found")
	}
	a.logger.Info("starting batch", "files", len(docs), "unreadable", stats.Failed, "duplicates", stats.Deduplicated)

	if operator == "" {
		operator = os.Getenv("USER")
	}
	batch, err := a.proc.ProcessBatch(ctx, pipeline.LocalSession(operator), docs)
	if err != nil {
		return err
	}

	paths, err := a.writeReports(ctx, batch, target)
	if err != nil {
		return err
	}
	for _, p := range paths {
		cmd.Printf("report: %s\n", p)
	}
	cmd.Printf("processed %d files, %d failures\n", len(batch.Rows), batch.Failures())
	return nil
}
