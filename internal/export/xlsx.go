package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"cyclekeeper/pkg/domain"
)

// sheet is one worksheet of the workbook: a header row and the rows it
// contributes for each cycle.
type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    func(domain.CycleAggregate) [][]any
}

// Sheet names in workbook order.
const (
	SheetCycles        = "Cycles"
	SheetInjections    = "Injections"
	SheetRetrieval     = "Retrieval"
	SheetFertilization = "Fertilization"
	SheetCulture       = "Culture"
	SheetTransfer      = "Transfer"
	SheetFreeze        = "Freeze"
	SheetPGT           = "PGT"
)

var workbookSheets = []sheet{
	{
		name:    SheetCycles,
		headers: []string{"Cycle ID", "Cycle Number", "Title", "Subtitle", "Start Date", "Type", "Injections Skipped", "Progress", "Warnings"},
		widths:  []float64{38, 14, 20, 20, 14, 14, 18, 22, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			progress := a.Progress()
			stage := string(progress.Stage)
			if len(progress.Pending) > 0 {
				stage += " (" + progress.Pending.String() + ")"
			}
			return [][]any{{a.ID, a.Number, a.Title, a.Subtitle, a.StartDate, string(a.Type), yesNo(a.InjectionSkipped), stage, strings.Join(a.Warnings, "; ")}}
		},
	},
	{
		name:    SheetInjections,
		headers: []string{"Cycle Number", "Date", "Time", "Medication", "Dosage", "Memo"},
		widths:  []float64{14, 14, 10, 24, 14, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			out := make([][]any, 0, len(a.Injections))
			for _, inj := range a.Injections {
				out = append(out, []any{a.Number, inj.Date, inj.Time, inj.MedicationName, inj.Dosage, inj.Memo})
			}
			return out
		},
	},
	{
		name:    SheetRetrieval,
		headers: []string{"Cycle Number", "Retrieval Date", "Total Eggs", "Memo"},
		widths:  []float64{14, 16, 12, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.Retrieval == nil {
				return nil
			}
			r := a.Retrieval
			return [][]any{{a.Number, r.RetrievalDate, r.TotalEggs, r.Memo}}
		},
	},
	{
		name:    SheetFertilization,
		headers: []string{"Cycle Number", "Fertilization Date", "Total Fertilized", "Memo"},
		widths:  []float64{14, 18, 16, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.Fertilization == nil {
				return nil
			}
			f := a.Fertilization
			return [][]any{{a.Number, f.FertilizationDate, f.TotalFertilized, f.Memo}}
		},
	},
	{
		name:    SheetCulture,
		headers: []string{"Cycle Number", "Day", "Total Embryos", "Grade A", "Grade B", "Grade C", "Next Plans", "Memo"},
		widths:  []float64{14, 8, 14, 10, 10, 10, 22, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.Culture == nil {
				return nil
			}
			c := a.Culture
			return [][]any{{a.Number, c.Day, c.TotalEmbryos, optional(c.GradeA), optional(c.GradeB), optional(c.GradeC), c.NextPlans.String(), c.Memo}}
		},
	},
	{
		name:    SheetTransfer,
		headers: []string{"Cycle Number", "Transfer Date", "Transfer Count", "Memo"},
		widths:  []float64{14, 16, 16, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.Transfer == nil {
				return nil
			}
			t := a.Transfer
			return [][]any{{a.Number, t.TransferDate, t.TransferCount, t.Memo}}
		},
	},
	{
		name:    SheetFreeze,
		headers: []string{"Cycle Number", "Freeze Date", "Frozen Count", "Memo"},
		widths:  []float64{14, 14, 14, 40},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.Freeze == nil {
				return nil
			}
			f := a.Freeze
			return [][]any{{a.Number, f.FreezeDate, f.FrozenCount, f.Memo}}
		},
	},
	{
		name:    SheetPGT,
		headers: []string{"Cycle Number", "Result Date", "Tested", "Euploid", "Mosaic", "Abnormal"},
		widths:  []float64{14, 14, 10, 10, 10, 10},
		rows: func(a domain.CycleAggregate) [][]any {
			if a.PGT == nil {
				return nil
			}
			p := a.PGT
			return [][]any{{a.Number, p.ResultDate, p.Tested, p.Euploid, optional(p.Mosaic), p.Abnormal}}
		},
	},
}

// renderWorkbook writes one sheet per record type, each with a styled header.
func renderWorkbook(cycles []domain.CycleAggregate) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, sh := range workbookSheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return nil, fmt.Errorf("rename first sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sh.name, err)
		}
		if err := writeSheet(f, sh, headerStyle, cycles); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sh sheet, headerStyle int, cycles []domain.CycleAggregate) error {
	header := make([]any, len(sh.headers))
	for i, h := range sh.headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sh.name, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sh.name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(sh.headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sh.name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sh.name, err)
	}
	for i, width := range sh.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sh.name, col, col, width); err != nil {
			return fmt.Errorf("set %s width: %w", sh.name, err)
		}
	}

	row := 2
	for _, agg := range cycles {
		for _, values := range sh.rows(agg) {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sh.name, cell, &values); err != nil {
				return fmt.Errorf("write %s row %d: %w", sh.name, row, err)
			}
			row++
		}
	}
	return nil
}

func optional(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

