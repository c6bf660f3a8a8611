package constants

// Field identifies one recognized certificate field. The numeric order is the
// column order of every report.
type Field int

const (
	FieldRFC Field = iota
	FieldLegalName
	FieldPostalCode
	FieldStreet
	FieldExteriorNumber
	FieldInteriorNumber
	FieldNeighborhood
	FieldLocality
	FieldMunicipality
	FieldState
	FieldTaxRegime
	FieldRegistrationDate

	FieldCount int = iota
)

// FilenameColumn is the leading report column.
const FilenameColumn = "Archivo"

// Sentinels used for unresolved fields.
const (
	NotFound          = "No encontrado"
	LegalNameNotFound = "No encontrada"
)

var fieldKeys = [FieldCount]string{
	FieldRFC:              "RFC",
	FieldLegalName:        "Razón Social",
	FieldPostalCode:       "Código Postal",
	FieldStreet:           "Vialidad",
	FieldExteriorNumber:   "Número Exterior",
	FieldInteriorNumber:   "Número Interior",
	FieldNeighborhood:     "Colonia",
	FieldLocality:         "Localidad",
	FieldMunicipality:     "Municipio/Demarcación",
	FieldState:            "Estado",
	FieldTaxRegime:        "Régimen",
	FieldRegistrationDate: "Fecha de Alta",
}

// Key returns the report column name for f.
func (f Field) Key() string {
	if f < 0 || int(f) >= FieldCount {
		return ""
	}
	return fieldKeys[f]
}

func (f Field) String() string { return f.Key() }

// Sentinel is the placeholder stored in f while it is unresolved.
func (f Field) Sentinel() string {
	if f == FieldLegalName {
		return LegalNameNotFound
	}
	return NotFound
}

// AllFields lists every field in report order.
func AllFields() []Field {
	out := make([]Field, FieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// FieldKeys lists every field key in report order.
func FieldKeys() []string {
	out := make([]string, FieldCount)
	copy(out, fieldKeys[:])
	return out
}

// FieldByKey resolves a report column name back to its field.
func FieldByKey(key string) (Field, bool) {
	for i, k := range fieldKeys {
		if k == key {
			return Field(i), true
		}
	}
	return 0, false
}
