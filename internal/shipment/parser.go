package shipment

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
)

// preferredSheet is the sheet name produced by the CRM client export.
// Workbooks assembled by hand fall back to their first sheet.
const preferredSheet = "Resultado consulta"

var requiredColumns = []string{"user_id", "email", "nombre", "apellido"}

// numericColumns are stored as floats by most spreadsheet tools and grow a
// ".0" tail when read back as text.
var numericColumns = []string{"user_id", "codigo_postal", "telefono"}

// Row is one client record keyed by normalized column name.
type Row map[string]string

// Postal returns the row's postal code, cleaned for matching.
func (r Row) Postal() string {
	code := r["codigo_postal"]
	if code == "" {
		code = r["postal_code"]
	}
	return NormalizePostal(code)
}

// Table holds the parsed client workbook.
type Table struct {
	Sheet   string
	Headers []string
	Rows    []Row
}

// HasPostal reports whether the source sheet carried a postal column at
// all. Sheets without one cannot be filtered and ship every row.
func (t *Table) HasPostal() bool {
	for _, h := range t.Headers {
		if h == "codigo_postal" || h == "postal_code" {
			return true
		}
	}
	return false
}

// MarketRows returns the rows whose postal code passes the market's
// filter. A row can appear in several markets when their ranges overlap.
func (t *Table) MarketRows(m Market) []Row {
	if !t.HasPostal() {
		return t.Rows
	}
	var out []Row
	for _, row := range t.Rows {
		if m.Matches(row.Postal()) {
			out = append(out, row)
		}
	}
	return out
}

// DetectMarkets counts how many rows classify into each market.
func (t *Table) DetectMarkets() map[Market]int {
	counts := make(map[Market]int)
	for _, row := range t.Rows {
		if m, ok := Classify(row.Postal()); ok {
			counts[m]++
		}
	}
	return counts
}

// ParseClients reads a client workbook and validates it carries the
// columns every market layout needs.
func ParseClients(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook contains no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == preferredSheet {
			sheet = name
			break
		}
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	headers := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var missing []string
	for _, col := range requiredColumns {
		if !slices.Contains(headers, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	table := &Table{Sheet: sheet, Headers: headers}
	for _, cells := range raw[1:] {
		row := make(Row, len(headers))
		empty := true
		for i, h := range headers {
			if h == "" {
				continue
			}
			var v string
			if i < len(cells) {
				v = strings.TrimSpace(cells[i])
			}
			if v != "" {
				empty = false
			}
			row[h] = v
		}
		if empty {
			continue
		}
		for _, col := range numericColumns {
			if v, ok := row[col]; ok {
				row[col] = strings.TrimSuffix(v, ".0")
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
