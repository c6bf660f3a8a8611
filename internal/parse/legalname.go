package parse

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/csf-extractor/internal/utils"
)

var (
	reLegalNameDirect = labelPattern("Denominación/Razón Social")
	reRegimenTail     = regexp.MustCompile(`(?is)R[ÉE]GIMEN.*$`)

	reGivenName     = regexp.MustCompile(`(?i)Nombre \(s\):\s*([A-ZÑÁÉÍÓÚ ]+)`)
	reFirstSurname  = regexp.MustCompile(`(?i)Primer Apellido:\s*([A-ZÑÁÉÍÓÚ ]+)`)
	reSecondSurname = regexp.MustCompile(`(?i)Segundo Apellido:\s*([A-ZÑÁÉÍÓÚ ]+)`)
)

// boilerplate headers that sit next to the legal-name label on the certificate.
var boilerplate = map[string]struct{}{
	"CÉDULA DE IDENTIFICACIÓN FISCAL":       {},
	"SERVICIO DE ADMINISTRACIÓN TRIBUTARIA": {},
	"REGISTRO FEDERAL DE CONTRIBUYENTES":    {},
	"CONSTANCIA DE SITUACIÓN FISCAL":        {},
}

// FindLegalName resolves the business or person name, trying in order the
// labeled value, a line scan around the label and the person-name labels.
func FindLegalName(text string) (string, bool) {
	if v, ok := legalNameDirect(text); ok {
		return v, true
	}
	if v, ok := legalNameLineScan(text); ok {
		return v, true
	}
	return personName(text)
}

func legalNameDirect(text string) (string, bool) {
	m := reLegalNameDirect.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(reRegimenTail.ReplaceAllString(strings.TrimSpace(m[1]), ""))
	return v, v != ""
}

func legalNameLineScan(text string) (string, bool) {
	lines := utils.SplitLines(text)
	for i, line := range lines {
		folded := utils.Fold(line)
		if !strings.Contains(folded, "denominacion") && !strings.Contains(folded, "razon social") {
			continue
		}
		var candidate string
		if idx := strings.LastIndex(line, ":"); idx >= 0 {
			candidate = strings.TrimSpace(line[idx+1:])
		} else if i+1 < len(lines) {
			candidate = strings.TrimSpace(lines[i+1])
		} else {
			continue
		}
		if acceptableName(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func acceptableName(s string) bool {
	if _, ok := boilerplate[s]; ok {
		return false
	}
	return utils.IsUpper(s) && utf8.RuneCountInString(s) > 3
}

func personName(text string) (string, bool) {
	given := reGivenName.FindStringSubmatch(text)
	first := reFirstSurname.FindStringSubmatch(text)
	second := reSecondSurname.FindStringSubmatch(text)
	if given == nil || first == nil || second == nil {
		return "", false
	}
	return strings.TrimSpace(given[1]) + " " + strings.TrimSpace(first[1]) + " " + strings.TrimSpace(second[1]), true
}
