// Package scrape reads a certificate's fields from the tax authority's public
// verification page.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/utils"
)

const (
	itemSelector     = "li"
	rfcItemSelector  = "li.ui-li-static.ui-body-c.ui-corner-top.ui-corner-bottom"
	identitySelector = ".ui-datatable-data"
	detailSelector   = "table[role='grid']"
)

var reRemoteRFC = regexp.MustCompile(`RFC[:\s]+([A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3})`)

// DetailLabel maps a label fragment of the detail tables onto a field.
// Matching is plain upper-case containment.
type DetailLabel struct {
	Match string
	Field constants.Field
}

// DefaultDetailLabels are the detail rows of the verification page.
var DefaultDetailLabels = []DetailLabel{
	{"Entidad Federativa", constants.FieldState},
	{"Municipio", constants.FieldMunicipality},
	{"Colonia", constants.FieldNeighborhood},
	{"Nombre de la vialidad", constants.FieldStreet},
	{"Número exterior", constants.FieldExteriorNumber},
	{"Número interior", constants.FieldInteriorNumber},
	{"CP", constants.FieldPostalCode},
	{"Régimen Fiscal", constants.FieldTaxRegime},
	{"Fecha de alta", constants.FieldRegistrationDate},
}

type Config struct {
	WaitTimeout time.Duration // per element wait, default 10s
	NavTimeout  time.Duration // page load, default 30s
	CellOrder   []CellStrategy
	Labels      []DetailLabel
}

// Scraper opens one browser session per URL and reads the rendered tables.
type Scraper struct {
	browser Browser
	cfg     Config
	logger  *slog.Logger
}

func NewScraper(browser Browser, cfg Config, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if len(cfg.CellOrder) == 0 {
		cfg.CellOrder = DefaultCellOrder
	}
	if cfg.Labels == nil {
		cfg.Labels = DefaultDetailLabels
	}
	return &Scraper{browser: browser, cfg: cfg, logger: logger}
}

// Scrape returns whatever fields were read before any failure. The error, if
// any, wraps common.ErrRemoteUnavailable; the session is closed either way.
func (s *Scraper) Scrape(ctx context.Context, url string) (fields entity.FieldMap, err error) {
	fields = entity.NewFieldMap()
	start := time.Now()

	sess, err := s.browser.NewSession(ctx)
	if err != nil {
		return fields, common.RemoteUnavailable("open browser session", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = common.RemoteUnavailable("scrape panic", fmt.Errorf("%v", rec))
		}
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("browser session close failed", "error", cerr)
		}
		s.logger.Debug("scrape done",
			"resolved", fields.Resolved(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	err = sess.Navigate(navCtx, url)
	cancel()
	if err != nil {
		return fields, common.RemoteUnavailable("navigate", err)
	}

	if err := s.waitFor(ctx, sess, itemSelector); err != nil {
		return fields, err
	}
	text, err := s.text(ctx, sess, rfcItemSelector)
	if err != nil {
		return fields, err
	}
	if m := reRemoteRFC.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(text))); m != nil {
		fields.Set(constants.FieldRFC, m[1])
	}

	if err := s.waitFor(ctx, sess, identitySelector); err != nil {
		return fields, err
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return fields, common.RemoteUnavailable("read page", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fields, common.RemoteUnavailable("parse page", err)
	}

	applyIdentity(&fields, tableRows(doc.Find(identitySelector).First(), s.cfg.CellOrder))
	applyDetails(&fields, rows(doc, detailSelector, s.cfg.CellOrder), s.cfg.Labels)
	return fields, nil
}

func (s *Scraper) waitFor(ctx context.Context, sess Session, selector string) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	if err := sess.WaitFor(wctx, selector); err != nil {
		return common.RemoteUnavailable(fmt.Sprintf("wait for %s", selector), err)
	}
	return nil
}

func (s *Scraper) text(ctx context.Context, sess Session, selector string) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	t, err := sess.Text(wctx, selector)
	if err != nil {
		return "", common.RemoteUnavailable(fmt.Sprintf("read %s", selector), err)
	}
	return t, nil
}

// applyIdentity resolves the legal name. Labels are compared without accents;
// a person's name found after a business name replaces it.
func applyIdentity(fields *entity.FieldMap, pairs []entity.LabelValuePair) {
	var legal, given, paternal, maternal string
	for _, p := range pairs {
		label := utils.FoldUpper(p.Label)
		value := strings.ToUpper(p.Value)
		switch {
		case strings.Contains(label, "DENOMINACION"), strings.Contains(label, "RAZON SOCIAL"):
			legal = value
		case strings.Contains(label, "NOMBRE") && paternal == "":
			given = value
		case strings.Contains(label, "PATERNO"):
			paternal = value
		case strings.Contains(label, "MATERNO"):
			maternal = value
		}
	}
	if given != "" && paternal != "" {
		legal = strings.TrimSpace(given + " " + paternal + " " + maternal)
	}
	fields.Set(constants.FieldLegalName, legal)
}

// applyDetails fills every field whose label fragment occurs in a row label.
// Later rows overwrite earlier ones.
func applyDetails(fields *entity.FieldMap, pairs []entity.LabelValuePair, labels []DetailLabel) {
	for _, p := range pairs {
		label := strings.ToUpper(p.Label)
		for _, l := range labels {
			if strings.Contains(label, strings.ToUpper(l.Match)) {
				fields.Set(l.Field, p.Value)
			}
		}
	}
}
