package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lexleads/internal/model"
)

// DefaultSheetName names the worksheet when none is configured.
const DefaultSheetName = "Leads"

// WriteXLSX writes a workbook with one sheet of leads.
func WriteXLSX(w io.Writer, leads []model.Lead, headers []string, sheetName string) error {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	if len(sheetName) > 31 {
		sheetName = sheetName[:31]
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, headers)
	for _, l := range leads {
		addRow(sheet, l.Fields())
	}

	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// ReadXLSX reads the first sheet of a workbook as string rows.
func ReadXLSX(data []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
