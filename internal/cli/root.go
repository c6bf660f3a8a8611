// Package cli holds the csf command tree.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "csf",
		Short: "Extract taxpayer data from Constancia de Situación Fiscal PDFs",
		Long: `csf reads Mexican tax status certificates (Constancia de Situación Fiscal),
resolves the taxpayer fields either from the verification page linked in the
PDF or from the PDF text itself, and writes one spreadsheet row per file.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (env vars override it)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug|info|warn|error (overrides CSF_LOG_LEVEL)")

	cmd.AddCommand(
		newBatchCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the configuration and installs the JSON logger on w.
func (o *rootOptions) load(w io.Writer) (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("csf version %s\n", version)
		},
	}
}
