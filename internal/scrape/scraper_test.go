package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

const verificationPage = `<html><body>
<ul>
  <li class="ui-li-static ui-body-c ui-corner-top ui-corner-bottom">El RFC: acm010101ab1, tiene registrado</li>
</ul>
<table>
  <tbody class="ui-datatable-data">
    <tr><td><span>Denominación o Razón Social:</span></td><td>Acme Comercial SA de CV</td></tr>
    <tr><td>Régimen de capital:</td><td><input value="SA DE CV"/></td></tr>
  </tbody>
</table>
<table role="grid">
  <tr><td>Entidad Federativa:</td><td>CIUDAD DE MEXICO</td></tr>
  <tr><td>Municipio o delegación:</td><td><span> CUAUHTEMOC </span></td></tr>
  <tr><td>Colonia:</td><td>JUAREZ</td></tr>
  <tr><td>Nombre de la vialidad:</td><td>REFORMA</td></tr>
  <tr><td>Número exterior:</td><td>120</td></tr>
  <tr><td>Número interior:</td><td></td></tr>
  <tr><td>CP:</td><td>06600</td></tr>
</table>
<table role="grid">
  <tr><td>Régimen Fiscal:</td><td>Régimen General de Ley Personas Morales</td></tr>
  <tr><td>Fecha de alta:</td><td>01-01-2010</td></tr>
</table>
</body></html>`

type fakeSession struct {
	html     string
	text     string
	navErr   error
	waitErr  map[string]error
	textErr  error
	closed   int
	navigate []string
	panicOn  string
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.navigate = append(f.navigate, url)
	return f.navErr
}

func (f *fakeSession) WaitFor(_ context.Context, selector string) error {
	if f.panicOn == selector {
		panic("driver crashed")
	}
	return f.waitErr[selector]
}

func (f *fakeSession) Text(_ context.Context, _ string) (string, error) {
	return f.text, f.textErr
}

func (f *fakeSession) HTML(context.Context) (string, error) { return f.html, nil }

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeBrowser struct {
	sess *fakeSession
	err  error
}

func (b *fakeBrowser) NewSession(context.Context) (Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.sess, nil
}

func newSession() *fakeSession {
	return &fakeSession{
		html: verificationPage,
		text: "El RFC: acm010101ab1, tiene registrado",
	}
}

func TestScrape_FullPage(t *testing.T) {
	sess := newSession()
	s := NewScraper(&fakeBrowser{sess: sess}, Config{}, nil)

	fields, err := s.Scrape(context.Background(), "https://verificacfdi.facturaelectronica.sat.gob.mx/?re=A&fe=B")
	require.NoError(t, err)

	assert.Equal(t, "ACM010101AB1", fields.Get(constants.FieldRFC))
	assert.Equal(t, "ACME COMERCIAL SA DE CV", fields.Get(constants.FieldLegalName))
	assert.Equal(t, "CIUDAD DE MEXICO", fields.Get(constants.FieldState))
	assert.Equal(t, "CUAUHTEMOC", fields.Get(constants.FieldMunicipality))
	assert.Equal(t, "JUAREZ", fields.Get(constants.FieldNeighborhood))
	assert.Equal(t, "REFORMA", fields.Get(constants.FieldStreet))
	assert.Equal(t, "120", fields.Get(constants.FieldExteriorNumber))
	assert.Equal(t, constants.NotFound, fields.Get(constants.FieldInteriorNumber))
	assert.Equal(t, "06600", fields.Get(constants.FieldPostalCode))
	assert.Equal(t, "Régimen General de Ley Personas Morales", fields.Get(constants.FieldTaxRegime))
	assert.Equal(t, "01-01-2010", fields.Get(constants.FieldRegistrationDate))
	assert.Equal(t, constants.NotFound, fields.Get(constants.FieldLocality))

	assert.Equal(t, 1, sess.closed)
	assert.Len(t, sess.navigate, 1)
}

func TestScrape_BrowserUnavailable(t *testing.T) {
	s := NewScraper(&fakeBrowser{err: errors.New("chrome not found")}, Config{}, nil)

	fields, err := s.Scrape(context.Background(), "https://x")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	assert.Equal(t, entity.NewFieldMap(), fields)
}

func TestScrape_TableTimeoutKeepsRFC(t *testing.T) {
	sess := newSession()
	sess.waitErr = map[string]error{identitySelector: context.DeadlineExceeded}
	s := NewScraper(&fakeBrowser{sess: sess}, Config{}, nil)

	fields, err := s.Scrape(context.Background(), "https://x")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "ACM010101AB1", fields.Get(constants.FieldRFC))
	assert.Equal(t, constants.LegalNameNotFound, fields.Get(constants.FieldLegalName))
	assert.Equal(t, 1, sess.closed)
}

func TestScrape_NavigationFailureClosesSession(t *testing.T) {
	sess := newSession()
	sess.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	s := NewScraper(&fakeBrowser{sess: sess}, Config{}, nil)

	_, err := s.Scrape(context.Background(), "https://x")
	assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	assert.Equal(t, 1, sess.closed)
}

func TestScrape_MissingRFCItem(t *testing.T) {
	sess := newSession()
	sess.textErr = errors.New("element not found")
	s := NewScraper(&fakeBrowser{sess: sess}, Config{}, nil)

	fields, err := s.Scrape(context.Background(), "https://x")
	assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	assert.Zero(t, fields.Resolved())
	assert.Equal(t, 1, sess.closed)
}

func TestScrape_PanicIsRecovered(t *testing.T) {
	sess := newSession()
	sess.panicOn = identitySelector
	s := NewScraper(&fakeBrowser{sess: sess}, Config{}, nil)

	fields, err := s.Scrape(context.Background(), "https://x")
	assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	assert.Equal(t, "ACM010101AB1", fields.Get(constants.FieldRFC))
	assert.Equal(t, 1, sess.closed)
}

func TestApplyIdentity_PersonOverridesBusiness(t *testing.T) {
	fields := entity.NewFieldMap()
	applyIdentity(&fields, []entity.LabelValuePair{
		{Label: "Denominación/Razón Social", Value: "Empresa"},
		{Label: "Nombre (s):", Value: "Juan"},
		{Label: "Apellido Paterno:", Value: "Pérez"},
		{Label: "Apellido Materno:", Value: "López"},
	})
	assert.Equal(t, "JUAN PÉREZ LÓPEZ", fields.Get(constants.FieldLegalName))
}

func TestApplyIdentity_NeedsGivenAndPaternal(t *testing.T) {
	fields := entity.NewFieldMap()
	applyIdentity(&fields, []entity.LabelValuePair{
		{Label: "RAZON SOCIAL", Value: "Empresa"},
		{Label: "Nombre", Value: "Juan"},
	})
	assert.Equal(t, "EMPRESA", fields.Get(constants.FieldLegalName))
}

func TestApplyIdentity_NoMaternalSurname(t *testing.T) {
	fields := entity.NewFieldMap()
	applyIdentity(&fields, []entity.LabelValuePair{
		{Label: "Nombre", Value: "Ana"},
		{Label: "Apellido Paterno", Value: "Ruiz"},
	})
	assert.Equal(t, "ANA RUIZ", fields.Get(constants.FieldLegalName))
}

func TestApplyDetails_PlainUppercaseContainment(t *testing.T) {
	fields := entity.NewFieldMap()
	applyDetails(&fields, []entity.LabelValuePair{
		// no accent stripping: "Numero" does not contain "NÚMERO"
		{Label: "Numero exterior", Value: "7"},
		{Label: "RÉGIMEN FISCAL", Value: "Sueldos"},
	}, DefaultDetailLabels)
	assert.Equal(t, constants.NotFound, fields.Get(constants.FieldExteriorNumber))
	assert.Equal(t, "Sueldos", fields.Get(constants.FieldTaxRegime))
}

func TestCellValue_StrategyOrder(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><td>x</td><td><span>nested</span><input value="typed"/></td></tr></table>`))
	require.NoError(t, err)
	cell := doc.Find("td").Eq(1)

	assert.Equal(t, "typed", cellValue(cell, DefaultCellOrder))
	assert.Equal(t, "nested", cellValue(cell, []CellStrategy{CellNestedText, CellInputValue}))
	assert.Equal(t, "nested", cellValue(cell, []CellStrategy{CellRawText}))
}

func TestCellValue_FallsThroughBlankStrategies(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><td>x</td><td>  plain   text </td></tr></table>`))
	require.NoError(t, err)
	assert.Equal(t, "plain text", cellValue(doc.Find("td").Eq(1), DefaultCellOrder))
}

func TestLabelText_FallsBackToCell(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><td><span> </span>Colonia:</td><td>a</td></tr><tr><td><b>CP:</b></td><td>b</td></tr></table>`))
	require.NoError(t, err)
	cells := doc.Find("tr")
	assert.Equal(t, "Colonia:", labelText(cells.Eq(0).Find("td").First()))
	assert.Equal(t, "CP:", labelText(cells.Eq(1).Find("td").First()))
}

func TestParseCellOrder(t *testing.T) {
	assert.Equal(t, DefaultCellOrder, ParseCellOrder(""))
	assert.Equal(t, DefaultCellOrder, ParseCellOrder("bogus"))
	assert.Equal(t, []CellStrategy{CellRawText, CellInputValue}, ParseCellOrder("raw-text, input-value"))
}
