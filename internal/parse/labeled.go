package parse

import (
	"regexp"
	"strings"
)

// valueClass is what a labeled value may contain: word characters (accented
// letters and Ñ included), whitespace and . , - / &.
const valueClass = `[\p{L}\p{M}\p{N}_\s\v\p{Z}.,\-/&]`

// Rule describes one labeled field. Stop truncates the captured run at its
// first occurrence; ExtraStops are applied afterwards in order.
type Rule struct {
	Label      string
	Stop       string
	ExtraStops []string
}

type compiledRule struct {
	re    *regexp.Regexp
	stops []*regexp.Regexp
}

func compileRule(r Rule) compiledRule {
	c := compiledRule{re: labelPattern(r.Label)}
	for _, s := range append([]string{r.Stop}, r.ExtraStops...) {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c.stops = append(c.stops, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(s)))
	}
	return c
}

func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `[:\s\v\p{Z}]*(` + valueClass + `+)`)
}

func (c compiledRule) find(text string) (string, bool) {
	m := c.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	for _, stop := range c.stops {
		if loc := stop.FindStringIndex(v); loc != nil {
			v = strings.TrimSpace(v[:loc[0]])
		}
	}
	if v == "" {
		return "", false
	}
	return v, true
}

// FindLabeled searches text for label followed by a value run and truncates
// the run at stop and then at each extra stop word that occurs in it.
// Label and stop words match case-insensitively.
func FindLabeled(text, label, stop string, extraStops ...string) (string, bool) {
	return compileRule(Rule{Label: label, Stop: stop, ExtraStops: extraStops}).find(text)
}
