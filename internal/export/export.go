// Package export writes enrichment results as CSV or XLSX, one row per
// contact.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-intake/internal/model"
)

// Columns is the ordered header of every export.
var Columns = []string{
	"Company",
	"URL",
	"Name",
	"Title",
	"Email",
	"Phone",
	"LinkedIn",
	"Organization",
	"Error",
}

// Rows flattens results into table rows. A company without contacts still
// gets one row so its error (or absence of contacts) is visible.
func Rows(results []model.EnrichmentResult) [][]string {
	var rows [][]string
	for _, r := range results {
		if len(r.Contacts) == 0 {
			rows = append(rows, []string{r.Company, r.URL, "", "", "", "", "", "", r.Error})
			continue
		}
		for _, c := range r.Contacts {
			rows = append(rows, []string{
				r.Company,
				r.URL,
				c.Name,
				c.Title,
				c.Email,
				c.Phone,
				c.LinkedInURL,
				c.OrganizationName,
				r.Error,
			})
		}
	}
	return rows
}

// WriteCSV writes results to w as CSV with a header row.
func WriteCSV(w io.Writer, results []model.EnrichmentResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, row := range Rows(results) {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX saves results to path as a single-sheet workbook.
func WriteXLSX(path string, results []model.EnrichmentResult) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contacts")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Columns)
	for _, row := range Rows(results) {
		addRow(sheet, row)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

// WriteFile picks the format from path's extension: .xlsx for a workbook,
// anything else for CSV.
func WriteFile(path string, results []model.EnrichmentResult) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, results)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := WriteCSV(f, results); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "export: close file")
}
