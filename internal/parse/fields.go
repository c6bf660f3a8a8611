package parse

import (
	"log/slog"
	"regexp"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/utils"
)

// reRFC finds the tax ID anywhere in the text. The surrounding groups stand in
// for word boundaries, which RE2 only supports for ASCII.
var reRFC = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])([A-ZÑ&]{3,4}\d{6}[A-Z0-9]{2,3})(?:[^\p{L}\p{N}_]|$)`)

const municipalityLabel = "Nombre del Municipio o Demarcación Territorial"

// FieldRule binds a labeled Rule to the field it fills.
type FieldRule struct {
	Field constants.Field
	Rule
}

// DefaultRules are the labeled fields of a Constancia de Situación Fiscal.
var DefaultRules = []FieldRule{
	{constants.FieldPostalCode, Rule{Label: "Código Postal", Stop: "Tipo de Vialidad"}},
	{constants.FieldStreet, Rule{Label: "Nombre de Vialidad", Stop: "Número Exterior"}},
	{constants.FieldExteriorNumber, Rule{Label: "Número Exterior", Stop: "Número Interior"}},
	{constants.FieldInteriorNumber, Rule{Label: "Número Interior", Stop: "Nombre de la Colonia"}},
	{constants.FieldNeighborhood, Rule{
		Label:      "Nombre de la Colonia",
		Stop:       "Nombre de la Localidad",
		ExtraStops: []string{"Nombre del Municipio", "Nombre de la Entidad"},
	}},
	{constants.FieldLocality, Rule{
		Label:      "Nombre de la Localidad",
		Stop:       municipalityLabel,
		ExtraStops: []string{"Nombre del Municipio", "Nombre de la Entidad", municipalityLabel},
	}},
	{constants.FieldMunicipality, Rule{
		Label:      municipalityLabel,
		Stop:       "Nombre de la Entidad Federativa",
		ExtraStops: []string{"Nombre de la Entidad Federativa", "Entidad Federativa"},
	}},
	{constants.FieldState, Rule{Label: "Nombre de la Entidad Federativa", Stop: "Tipo de Vialidad"}},
	{constants.FieldTaxRegime, Rule{Label: "Régimen"}},
	{constants.FieldRegistrationDate, Rule{Label: "Fecha inicio de operaciones", Stop: "Estatus en el padrón"}},
}

type boundRule struct {
	field constants.Field
	compiledRule
}

// Extractor turns certificate text into a FieldMap.
type Extractor struct {
	rules  []boundRule
	logger *slog.Logger
}

// NewExtractor compiles rules; nil rules means DefaultRules.
func NewExtractor(rules []FieldRule, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = DefaultRules
	}
	e := &Extractor{logger: logger}
	for _, r := range rules {
		e.rules = append(e.rules, boundRule{field: r.Field, compiledRule: compileRule(r.Rule)})
	}
	return e
}

// Extract never fails: anything it cannot find keeps its sentinel.
func (e *Extractor) Extract(text string) entity.FieldMap {
	text = utils.NFC(text)
	fields := entity.NewFieldMap()

	if rfc, ok := FindRFC(text); ok {
		fields.Set(constants.FieldRFC, rfc)
	}
	if name, ok := FindLegalName(text); ok {
		fields.Set(constants.FieldLegalName, name)
	}
	for _, r := range e.rules {
		if v, ok := r.find(text); ok {
			fields.Set(r.field, v)
		}
	}

	e.logger.Debug("parse fields done", "resolved", fields.Resolved(), "text_len", len(text))
	return fields
}

// FindRFC returns the first tax ID in text.
func FindRFC(text string) (string, bool) {
	m := reRFC.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
