package grading

import (
	"math"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/school"
)

// QuarterGrades holds the four quarter grades of a subject, absent ones included.
type QuarterGrades [NumQuarters]Score

// Round2 rounds half away from zero to 2 decimal places.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Mean returns the rounded arithmetic mean of the valid scores, or an absent Score when there is none.
func Mean(scores ...Score) Score {
	var (
		sum float64
		n   int
	)
	for _, s := range scores {
		if s.Valid {
			sum += s.Float64.Float64
			n++
		}
	}
	if n == 0 {
		return Score{}
	}
	return NewScore(Round2(sum / float64(n)))
}

// FinalGrade is the mean of the four quarter grades. It is absent unless all four exist.
func FinalGrade(qg QuarterGrades) Score {
	for _, g := range qg {
		if !g.Valid {
			return Score{}
		}
	}
	return Mean(qg[:]...)
}

// Remark is Passed for a final grade of at least PassingGrade, Failed below it and Pending without one.
func Remark(final Score) string {
	switch {
	case !final.Valid:
		return RemarkPending
	case final.Float64.Float64 >= PassingGrade:
		return RemarkPassed
	}
	return RemarkFailed
}

// SortStandings orders standings by descending average. Standings without an average go last;
// ties keep their original order.
func SortStandings(standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		ai, aj := standings[i].Average, standings[j].Average
		if ai.Valid != aj.Valid {
			return ai.Valid
		}
		return ai.Valid && ai.Float64.Float64 > aj.Float64.Float64
	})
}

// DenseRank sorts the standings and numbers them from 1. Equal averages share a rank and the next
// distinct average gets the following number. Standings without an average have no rank.
func DenseRank(standings []Standing) []RankedStanding {
	SortStandings(standings)

	ranked := make([]RankedStanding, 0, len(standings))
	rank := 0
	var prev float64
	for i, st := range standings {
		rs := RankedStanding{Standing: st}
		if st.Average.Valid {
			if i == 0 || st.Average.Float64.Float64 != prev {
				rank++
				prev = st.Average.Float64.Float64
			}
			rs.Rank = null.IntFrom(rank)
		}
		ranked = append(ranked, rs)
	}
	return ranked
}

// standingKey identifies a student within a class.
type standingKey struct {
	studentID int64
	classID   int64
}

// Standings averages every graded row per student, keeping the students in row order.
// Students whose rows carry no grade get an absent average.
func Standings(rows []GradeRow) []Standing {
	var (
		order  []standingKey
		byKey  = make(map[standingKey]*Standing)
		grades = make(map[standingKey][]Score)
	)
	for _, row := range rows {
		key := standingKey{studentID: row.StudentID, classID: row.ClassID}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
			byKey[key] = &Standing{
				StudentID:  row.StudentID,
				FirstName:  row.FirstName,
				MiddleName: row.MiddleName,
				LastName:   row.LastName,
				ClassID:    row.ClassID,
				GradeLevel: row.GradeLevel,
				Section:    row.Section,
			}
		}
		if row.Grade.Valid {
			grades[key] = append(grades[key], Score{row.Grade})
		}
	}

	standings := make([]Standing, 0, len(order))
	for _, key := range order {
		st := byKey[key]
		st.Average = Mean(grades[key]...)
		standings = append(standings, *st)
	}
	return standings
}

// GroupByStudent assembles the rows into per student, per subject grades, keeping row order.
// Rows without a subject only register the student.
func GroupByStudent(rows []GradeRow) []StudentGrades {
	type subjectKey struct {
		standingKey
		subjectID int64
	}

	var (
		order      []standingKey
		students   = make(map[standingKey]*StudentGrades)
		subjOrder  = make(map[standingKey][]subjectKey)
		bySubjects = make(map[subjectKey]*SubjectGrades)
	)
	for _, row := range rows {
		key := standingKey{studentID: row.StudentID, classID: row.ClassID}
		if _, ok := students[key]; !ok {
			order = append(order, key)
			students[key] = &StudentGrades{
				StudentID:   row.StudentID,
				StudentName: school.PersonName{FirstName: row.FirstName, MiddleName: row.MiddleName, LastName: row.LastName}.FullName(),
				ClassID:     row.ClassID,
				GradeLevel:  row.GradeLevel,
				Section:     row.Section,
				Subjects:    []SubjectGrades{},
			}
		}
		if !row.SubjectID.Valid {
			continue
		}

		skey := subjectKey{standingKey: key, subjectID: row.SubjectID.Int64}
		sg, ok := bySubjects[skey]
		if !ok {
			sg = &SubjectGrades{SubjectID: row.SubjectID.Int64, Subject: row.SubjectName.String}
			bySubjects[skey] = sg
			subjOrder[key] = append(subjOrder[key], skey)
		}
		if row.Quarter.Valid && row.Grade.Valid {
			sg.set(Quarter(row.Quarter.Int), Score{row.Grade})
		}
	}

	grouped := make([]StudentGrades, 0, len(order))
	for _, key := range order {
		st := students[key]
		for _, skey := range subjOrder[key] {
			sg := bySubjects[skey]
			sg.complete()
			st.Subjects = append(st.Subjects, *sg)
		}
		grouped = append(grouped, *st)
	}
	return grouped
}

// OverallAverage is the mean of the subjects' final grades; subjects without one are left out.
func OverallAverage(subjects []SubjectGrades) Score {
	finals := make([]Score, 0, len(subjects))
	for _, sg := range subjects {
		finals = append(finals, sg.Final)
	}
	return Mean(finals...)
}
