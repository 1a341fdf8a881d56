package exportsvc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/shule/core/grading"
)

func TestWriteGradeSheet(t *testing.T) {
	sheet := grading.GradeSheet{
		SchoolYear: "2024-2025",
		Students: []grading.StudentGrades{
			{
				StudentName: "Amani Kabila", GradeLevel: "7", Section: "A",
				Subjects: []grading.SubjectGrades{
					{
						Subject: "Math", Quarter1: grading.NewScore(80), Quarter2: grading.NewScore(85),
						Quarter3: grading.NewScore(90), Quarter4: grading.NewScore(95),
						Final: grading.NewScore(87.5), Remark: grading.RemarkPassed,
					},
					{Subject: "Science", Quarter1: grading.NewScore(70), Remark: grading.RemarkPending},
				},
			},
			{StudentName: "Eshe Pendo", GradeLevel: "7", Section: "A", Subjects: []grading.SubjectGrades{}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteGradeSheet(&buf, sheet))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"2024-2025"}, f.GetSheetList())
	rows, err := f.GetRows("2024-2025")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Student", "Grade Level", "Section", "Subject", "Q1", "Q2", "Q3", "Q4", "Final", "Remark"}, rows[0])
	assert.Equal(t, []string{"Amani Kabila", "7", "A", "Math", "80.00", "85.00", "90.00", "95.00", "87.50", "Passed"}, rows[1])
	assert.Equal(t, []string{"Amani Kabila", "7", "A", "Science", "70.00", "", "", "", "", "Pending"}, rows[2])
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "2024-2025", sheetName("2024-2025"))
	assert.Equal(t, "2024-2025", sheetName("2024/2025"))
	assert.Equal(t, "Grades", sheetName(""))
	assert.Len(t, []rune(sheetName("a very long school year label that overflows")), 31)
}

func TestReportCardExporter(t *testing.T) {
	card := grading.ReportCard{
		StudentID: 7, StudentName: "Amani Kabila", SchoolYear: "2024-2025", GradeLevel: "7", Section: "A",
		Subjects: []grading.SubjectGrades{
			{
				Subject: "Math", Quarter1: grading.NewScore(80), Quarter2: grading.NewScore(85),
				Quarter3: grading.NewScore(90), Quarter4: grading.NewScore(95),
				Final: grading.NewScore(87.5), Remark: grading.RemarkPassed,
			},
			{Subject: "Science", Quarter1: grading.NewScore(70), Remark: grading.RemarkPending},
		},
		OverallAverage: grading.NewScore(87.5),
	}

	var buf bytes.Buffer
	filename, contentType, err := ReportCardExporter{}.ExportReportCard(&buf, card)
	require.NoError(t, err)
	assert.Equal(t, "report-card-2024-2025-7.xlsx", filename)
	assert.Equal(t, XLSXContentType, contentType)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("2024-2025")
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, []string{"Amani Kabila"}, rows[0])
	assert.Equal(t, []string{"Grade 7 - A"}, rows[1])
	assert.Equal(t, []string{"Subject", "Q1", "Q2", "Q3", "Q4", "Final", "Remark"}, rows[3])
	assert.Equal(t, []string{"Math", "80.00", "85.00", "90.00", "95.00", "87.50", "Passed"}, rows[4])
	assert.Equal(t, []string{"Science", "70.00", "", "", "", "", "Pending"}, rows[5])
	assert.Equal(t, []string{"General Average", "", "", "", "", "87.50"}, rows[7])
}
