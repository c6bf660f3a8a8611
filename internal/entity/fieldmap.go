package entity

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/csf-extractor/constants"
)

var reRFCExact = regexp.MustCompile(`^[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{2,3}$`)

// ValidRFC reports whether s has the exact tax-ID shape.
func ValidRFC(s string) bool {
	return reRFCExact.MatchString(s)
}

// FieldMap holds one value per recognized field. Unset fields read back as
// their sentinel, so the zero value is a fully unresolved map.
type FieldMap struct {
	values [constants.FieldCount]string
}

// NewFieldMap returns a map with every field set to its sentinel.
func NewFieldMap() FieldMap {
	var m FieldMap
	for _, f := range constants.AllFields() {
		m.values[f] = f.Sentinel()
	}
	return m
}

// Set stores v (trimmed) for f. Blank values and RFCs without the tax-ID shape
// are rejected and leave the current value untouched.
func (m *FieldMap) Set(f constants.Field, v string) bool {
	if int(f) < 0 || int(f) >= constants.FieldCount {
		return false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if f == constants.FieldRFC && !ValidRFC(v) {
		return false
	}
	m.values[f] = v
	return true
}

// Get returns the value of f, or its sentinel when unresolved.
func (m FieldMap) Get(f constants.Field) string {
	if int(f) < 0 || int(f) >= constants.FieldCount {
		return ""
	}
	if m.values[f] == "" {
		return f.Sentinel()
	}
	return m.values[f]
}

// IsResolved reports whether f holds something other than its sentinel.
func (m FieldMap) IsResolved(f constants.Field) bool {
	return m.Get(f) != f.Sentinel()
}

// Resolved counts the fields holding a real value.
func (m FieldMap) Resolved() int {
	n := 0
	for _, f := range constants.AllFields() {
		if m.IsResolved(f) {
			n++
		}
	}
	return n
}

// Values lists the values in report order.
func (m FieldMap) Values() []string {
	out := make([]string, constants.FieldCount)
	for i := range out {
		out[i] = m.Get(constants.Field(i))
	}
	return out
}

// Map returns a plain key -> value copy.
func (m FieldMap) Map() map[string]string {
	out := make(map[string]string, constants.FieldCount)
	for _, f := range constants.AllFields() {
		out[f.Key()] = m.Get(f)
	}
	return out
}

// MarshalJSON writes the fields as an object in report order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := m.writeMembers(&buf); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by field keys; unknown keys are ignored.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = NewFieldMap()
	for k, v := range raw {
		if f, ok := constants.FieldByKey(k); ok {
			m.Set(f, v)
		}
	}
	return nil
}

func (m FieldMap) writeMembers(buf *bytes.Buffer) error {
	for i, f := range constants.AllFields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writePair(buf, f.Key(), m.Get(f)); err != nil {
			return err
		}
	}
	return nil
}

func writePair(buf *bytes.Buffer, k, v string) error {
	kb, err := json.Marshal(k)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
	return nil
}

// LabelValuePair is a raw label and value read from text or a table row,
// before any cleanup.
type LabelValuePair struct {
	Label string
	Value string
}
