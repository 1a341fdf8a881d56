// Package exportsvc renders grade sheets and report cards as spreadsheets.
package exportsvc

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/shule/core/grading"
)

// XLSXContentType is the MIME type of the files written by WriteGradeSheet.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var gradeSheetHeader = []interface{}{
	"Student", "Grade Level", "Section", "Subject", "Q1", "Q2", "Q3", "Q4", "Final", "Remark",
}

// sheetName returns a valid worksheet name: at most 31 characters, none of : \ / ? * [ ].
func sheetName(name string) string {
	name = strings.NewReplacer(":", "-", `\`, "-", "/", "-", "?", "", "*", "", "[", "(", "]", ")").Replace(name)
	if name == "" {
		name = "Grades"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}

func scoreCell(s grading.Score) interface{} {
	if !s.Valid {
		return nil
	}
	return s.Float64.Float64
}

// WriteGradeSheet writes one row per student subject to an XLSX workbook.
func WriteGradeSheet(w io.Writer, sheet grading.GradeSheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	name := sheetName(sheet.SchoolYear)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return errors.Wrap(err, "naming sheet")
	}

	if err := f.SetSheetRow(name, "A1", &gradeSheetHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}
	if err := f.SetCellStyle(name, "A1", "J1", bold); err != nil {
		return errors.Wrap(err, "styling header")
	}
	decimals, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return errors.Wrap(err, "creating score style")
	}

	rowIdx := 2
	for _, st := range sheet.Students {
		for _, sg := range st.Subjects {
			row := []interface{}{
				st.StudentName, st.GradeLevel, st.Section, sg.Subject,
				scoreCell(sg.Quarter1), scoreCell(sg.Quarter2), scoreCell(sg.Quarter3), scoreCell(sg.Quarter4),
				scoreCell(sg.Final), sg.Remark,
			}
			cell, err := excelize.CoordinatesToCellName(1, rowIdx)
			if err != nil {
				return errors.Wrap(err, "computing cell name")
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				return errors.Wrapf(err, "writing row %d", rowIdx)
			}
			rowIdx++
		}
	}

	if rowIdx > 2 {
		last, err := excelize.CoordinatesToCellName(9, rowIdx-1)
		if err != nil {
			return errors.Wrap(err, "computing cell name")
		}
		if err := f.SetCellStyle(name, "E2", last, decimals); err != nil {
			return errors.Wrap(err, "styling scores")
		}
	}
	if err := f.SetColWidth(name, "A", "A", 28); err != nil {
		return errors.Wrap(err, "sizing columns")
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

var reportCardHeader = []interface{}{"Subject", "Q1", "Q2", "Q3", "Q4", "Final", "Remark"}

// WriteReportCard writes a student's report card to an XLSX workbook, the general average last.
func WriteReportCard(w io.Writer, card grading.ReportCard) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	name := sheetName(card.SchoolYear)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return errors.Wrap(err, "naming sheet")
	}

	rows := [][]interface{}{
		{card.StudentName},
		{"Grade " + card.GradeLevel + " - " + card.Section},
		{},
		reportCardHeader,
	}
	for _, sg := range card.Subjects {
		rows = append(rows, []interface{}{
			sg.Subject,
			scoreCell(sg.Quarter1), scoreCell(sg.Quarter2), scoreCell(sg.Quarter3), scoreCell(sg.Quarter4),
			scoreCell(sg.Final), sg.Remark,
		})
	}
	rows = append(rows, []interface{}{}, []interface{}{"General Average", nil, nil, nil, nil, scoreCell(card.OverallAverage)})

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "computing cell name")
		}
		if err := f.SetSheetRow(name, cell, &rows[i]); err != nil {
			return errors.Wrapf(err, "writing row %d", i+1)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}
	if err := f.SetCellStyle(name, "A4", "G4", bold); err != nil {
		return errors.Wrap(err, "styling header")
	}
	decimals, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return errors.Wrap(err, "creating score style")
	}
	last, err := excelize.CoordinatesToCellName(6, len(rows))
	if err != nil {
		return errors.Wrap(err, "computing cell name")
	}
	if err := f.SetCellStyle(name, "B5", last, decimals); err != nil {
		return errors.Wrap(err, "styling scores")
	}
	if err := f.SetColWidth(name, "A", "A", 24); err != nil {
		return errors.Wrap(err, "sizing columns")
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

// ReportCardExporter attaches report cards to their email as XLSX workbooks.
type ReportCardExporter struct{}

var _ grading.ReportCardExporter = ReportCardExporter{}

func (ReportCardExporter) ExportReportCard(w io.Writer, card grading.ReportCard) (filename, contentType string, err error) {
	if err := WriteReportCard(w, card); err != nil {
		return "", "", err
	}
	filename = "report-card-" + strings.ReplaceAll(card.SchoolYear, " ", "_") + "-" + strconv.FormatInt(card.StudentID, 10) + ".xlsx"
	return filename, XLSXContentType, nil
}
