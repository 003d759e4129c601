package shipment

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// fileTimestamp matches the carrier's expected naming, e.g. 2026-08-25_14h30.
const fileTimestamp = "2006-01-02_15h04"

// column maps one output header to its candidate source fields. The first
// source with a usable value wins; exports mix Spanish CRM names with
// English ones depending on which system produced them.
type column struct {
	header  string
	sources []string
}

var marketColumns = map[Market][]column{
	MarketIT: {
		{"MEMBER_ID", []string{"user_id"}},
		{"NOME", []string{"nombre", "first_name", "name"}},
		{"COGNOME", []string{"apellido", "last_name", "surname"}},
		{"INDIRIZZO", []string{"direccion", "address", "direccion_envio"}},
		{"DETTAGLI", []string{"complemento_direccion", "address_details", "detalles"}},
		{"CAP", []string{"codigo_postal", "postal_code", "cp"}},
		{"CITTÀ", []string{"ciudad", "city", "localidad"}},
		{"PROVINCIA", []string{"provincia", "province", "region"}},
		{"TELEFONO", []string{"telefono", "phone", "telephone"}},
		{"EMAIL", []string{"email", "correo", "e-mail"}},
	},
	MarketFR: {
		{"MEMBER_ID", []string{"user_id"}},
		{"PRENOM", []string{"nombre", "first_name", "prenom"}},
		{"NOM", []string{"apellido", "last_name", "nom"}},
		{"ADRESSE", []string{"direccion", "address", "adresse"}},
		{"COMPLEMENT ADRESSE", []string{"complemento_direccion", "address_details", "complement"}},
		{"CP", []string{"codigo_postal", "postal_code", "cp"}},
		{"VILLE", []string{"ciudad", "city", "ville"}},
		{"REGION", []string{"provincia", "province", "region"}},
		{"EMAIL", []string{"email", "correo", "e-mail"}},
		{"TÉLEFONO", []string{"telefono", "phone", "telephone"}},
	},
	MarketES: {
		{"MEMBER ID", []string{"user_id"}},
		{"NOMBRE", []string{"nombre", "first_name", "name"}},
		{"APELLIDOS", []string{"apellido", "last_name", "surname"}},
		{"DIRECCIÓN", []string{"direccion", "address", "direccion_envio"}},
		{"DETALLES", []string{"complemento_direccion", "address_details", "detalles"}},
		{"CODIGO POSTAL", []string{"codigo_postal", "postal_code", "cp"}},
		{"CIUDAD", []string{"ciudad", "city", "localidad"}},
		{"PROVINCIA", []string{"provincia", "province", "region"}},
		{"TÉLEFONO", []string{"telefono", "phone", "telephone"}},
		{"EMAIL", []string{"email", "correo", "e-mail"}},
	},
}

// pickValue returns the first usable source value. Spreadsheet round-trips
// leave "None" and "nan" behind for empty cells.
func pickValue(row Row, sources []string) string {
	for _, src := range sources {
		v := strings.TrimSpace(row[src])
		switch v {
		case "", "None", "nan", "NaN":
			continue
		}
		return v
	}
	return ""
}

// GenerateWorkbook renders the market's shipment sheet: one header row in
// the carrier's layout, one row per client record.
func GenerateWorkbook(m Market, rows []Row) ([]byte, error) {
	cols, ok := marketColumns[m]
	if !ok {
		return nil, fmt.Errorf("unknown market %q", m)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := make([]any, len(cols))
	for i, c := range cols {
		headers[i] = c.header
	}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}

	for i, row := range rows {
		values := make([]any, len(cols))
		for j, c := range cols {
			values[j] = pickValue(row, c.sources)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the workbook name used inside archives and for single-market
// downloads, e.g. Shipment_Italy_2026-08-25_14h30.xlsx.
func FileName(m Market, ts time.Time) string {
	return fmt.Sprintf("Shipment_%s_%s.xlsx", m.DisplayName(), ts.Format(fileTimestamp))
}

// ArchiveName joins the sorted display names of the generated markets,
// e.g. Shipments_France_Italy_2026-08-25_14h30.zip.
func ArchiveName(markets []Market, ts time.Time) string {
	names := make([]string, 0, len(markets))
	for _, m := range markets {
		names = append(names, m.DisplayName())
	}
	sort.Strings(names)
	return fmt.Sprintf("Shipments_%s_%s.zip", strings.Join(names, "_"), ts.Format(fileTimestamp))
}

// BuildArchive writes the generated workbooks into w as a ZIP archive.
func BuildArchive(w io.Writer, files map[Market][]byte, ts time.Time) error {
	markets := make([]Market, 0, len(files))
	for m := range files {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].DisplayName() < markets[j].DisplayName()
	})

	zw := zip.NewWriter(w)
	for _, m := range markets {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     FileName(m, ts),
			Method:   zip.Deflate,
			Modified: ts,
		})
		if err != nil {
			return fmt.Errorf("create archive entry for %s: %w", m, err)
		}
		if _, err := entry.Write(files[m]); err != nil {
			return fmt.Errorf("write archive entry for %s: %w", m, err)
		}
	}
	return zw.Close()
}
