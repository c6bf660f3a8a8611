package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/csf-extractor/internal/async"
	"github.com/joseph-ayodele/csf-extractor/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, grpcAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload API",
		Long: `Serves POST /api/v1/batches (multipart field "files") and returns the
report of the uploaded certificates. When a store is configured, finished runs
are available under GET /api/v1/runs/{id}.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.HTTPAddr = addr
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddr = grpcAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{
				server.WithMaxUploadMB(cfg.Server.MaxUploadMB),
				server.WithReportPrefix(cfg.Report.Prefix),
			}
			if cfg.Server.AccessKeyHash != "" {
				gate, err := server.NewGate(cfg.Server.AccessKeyHash, logger)
				if err != nil {
					return err
				}
				opts = append(opts, server.WithGate(gate))
			} else {
				logger.Warn("CSF_ACCESS_KEY_HASH not set, uploads are open")
			}
			if a.runs != nil {
				queue := async.NewBatchQueue(a.proc, logger, async.WithWorkers(cfg.Server.Workers))
				defer func() {
					drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					queue.Shutdown(drainCtx)
				}()
				opts = append(opts, server.WithRuns(a.runs), server.WithPinger(a.db), server.WithQueue(queue))
			}
			srv := server.New(logger, a.proc, a.reports, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
			if cfg.Server.GRPCAddr != "" {
				lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
				}
				g.Go(func() error { return server.ServeHealth(gctx, lis, logger) })
			}
			if err := g.Wait(); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default CSF_HTTP_ADDR)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (default CSF_GRPC_ADDR)")
	return cmd
}
