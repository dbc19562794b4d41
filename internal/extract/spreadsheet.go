package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// XLSX renders every sheet of an Office Open XML workbook as text: a
// "# sheet" header followed by one tab-separated line per row.
func XLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("xlsx: sheet %q: %w", sheet, err)
		}
		writeSheet(&b, sheet, rows)
	}
	return b.String(), nil
}

// XLS renders a legacy BIFF workbook the same way as XLSX.
func XLS(data []byte) (string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return "", fmt.Errorf("xls: %w", err)
	}

	var b strings.Builder
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheetRow(sheet, r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, max(row.LastCol()-row.FirstCol(), 0))
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		writeSheet(&b, sheet.Name, rows)
	}
	return b.String(), nil
}

// sheetRow returns nil for row indexes the workbook has no record of.
// WorkSheet.Row dereferences the missing entry, which panics on any sheet
// with a gap between its first and last row.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// writeSheet appends one sheet, skipping rows whose cells are all blank.
func writeSheet(b *strings.Builder, name string, rows [][]string) {
	var lines []string
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "# %s\n", name)
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
}
