package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/jobsync/internal/model"
)

// SheetName is the worksheet the XLSX export writes.
const SheetName = "Jobs"

// WriteXLSX saves jobs to a single-sheet workbook at path.
func WriteXLSX(path string, jobs []model.Job) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Header)
	for _, j := range jobs {
		addRow(sheet, Row(j))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
