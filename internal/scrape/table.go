package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

// CellStrategy is one way of reading a value cell.
type CellStrategy string

const (
	CellInputValue CellStrategy = "input-value" // value attribute of a nested <input>
	CellNestedText CellStrategy = "nested-text" // text of the first nested element
	CellRawText    CellStrategy = "raw-text"    // the cell's own text
)

// DefaultCellOrder tries the input value first and the raw cell text last.
var DefaultCellOrder = []CellStrategy{CellInputValue, CellNestedText, CellRawText}

// ParseCellOrder reads a comma separated strategy list, ignoring unknown
// names. An empty result means DefaultCellOrder.
func ParseCellOrder(s string) []CellStrategy {
	var out []CellStrategy
	for _, part := range strings.Split(s, ",") {
		switch st := CellStrategy(strings.TrimSpace(part)); st {
		case CellInputValue, CellNestedText, CellRawText:
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		return DefaultCellOrder
	}
	return out
}

// rows collects the two-cell records under every element matched by
// selector, in document order.
func rows(doc *goquery.Document, selector string, order []CellStrategy) []entity.LabelValuePair {
	var out []entity.LabelValuePair
	doc.Find(selector).Each(func(_ int, table *goquery.Selection) {
		out = append(out, tableRows(table, order)...)
	})
	return out
}

func tableRows(table *goquery.Selection, order []CellStrategy) []entity.LabelValuePair {
	var out []entity.LabelValuePair
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		out = append(out, entity.LabelValuePair{
			Label: labelText(cells.Eq(0)),
			Value: cellValue(cells.Eq(1), order),
		})
	})
	return out
}

// labelText prefers a nested element's text and falls back to the cell text.
func labelText(cell *goquery.Selection) string {
	if child := cell.Children().First(); child.Length() > 0 {
		if t := collapse(child.Text()); t != "" {
			return t
		}
	}
	return collapse(cell.Text())
}

func cellValue(cell *goquery.Selection, order []CellStrategy) string {
	for _, st := range order {
		var v string
		switch st {
		case CellInputValue:
			v, _ = cell.Find("input").First().Attr("value")
		case CellNestedText:
			v = cell.Children().Not("input").First().Text()
		case CellRawText:
			v = cell.Text()
		}
		if v = collapse(v); v != "" {
			return v
		}
	}
	return ""
}

// collapse trims and folds internal whitespace runs to one space, as the
// rendered page shows them.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
