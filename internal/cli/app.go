package cli

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
	"github.com/joseph-ayodele/csf-extractor/internal/ocr"
	"github.com/joseph-ayodele/csf-extractor/internal/parse"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
	"github.com/joseph-ayodele/csf-extractor/internal/repository"
	"github.com/joseph-ayodele/csf-extractor/internal/scrape"
)

// app is the wired extractor shared by every command.
type app struct {
	cfg     *common.Config
	logger  *slog.Logger
	proc    *pipeline.Processor
	reports *export.Service
	db      *repository.DB
	runs    *repository.RunStore
}

func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, reports: export.NewService(logger)}

	locator := ocr.NewLocator(ocr.Config{
		TextBackend: cfg.OCR.TextBackend,
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Tesseract:   cfg.OCR.Tesseract,
		Lang:        cfg.OCR.Lang,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)

	opts := []pipeline.Option{
		pipeline.WithLocalFallback(cfg.Browser.LocalFallback),
		pipeline.WithRemoteInterval(cfg.Browser.Interval),
	}
	if cfg.Browser.Enabled {
		browser := scrape.NewRodBrowser(scrape.RodConfig{
			RemoteURL: cfg.Browser.RemoteURL,
			Bin:       cfg.Browser.Bin,
			Headless:  cfg.Browser.Headless,
			Stealth:   cfg.Browser.Stealth,
		}, logger)
		scraper := scrape.NewScraper(browser, scrape.Config{
			WaitTimeout: cfg.Browser.WaitTimeout,
			NavTimeout:  cfg.Browser.NavTimeout,
			CellOrder:   scrape.ParseCellOrder(cfg.Browser.CellOrder),
		}, logger)
		opts = append(opts, pipeline.WithRemote(scraper))
	} else {
		logger.Info("remote verification disabled, parsing locally")
	}

	if cfg.Store.Driver != "" {
		db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Store), logger)
		if err != nil {
			return nil, err
		}
		runs := repository.NewRunStore(db, logger)
		if err := runs.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db, a.runs = db, runs
		opts = append(opts, pipeline.WithRecorder(runs))
	}

	a.proc = pipeline.NewProcessor(logger, locator, parse.NewExtractor(nil, logger), opts...)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
