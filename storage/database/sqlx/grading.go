package sqlxrepos

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/school"
)

type gradingRepository struct {
	*schoolRepository
}

var _ grading.Repository = (*gradingRepository)(nil)

func NewGradingRepository(db core.DB) grading.Repository {
	return &gradingRepository{schoolRepository: &schoolRepository{db: db}}
}

// scopeConds restricts the classes aliased c to the scope.
func scopeConds(scope grading.Scope) ([]string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if scope.HasLevel() {
		conds = append(conds, "c.grade_level = ?")
		args = append(args, scope.Level())
	}
	if scope.HasSection() {
		conds = append(conds, "c.section = ?")
		args = append(args, scope.Section())
	}
	return conds, args
}

// QueryGradeRows returns one row per (enrolled student, class subject, grade). Subject and quarter
// filters are applied in the join conditions so that students without a matching grade keep a row.
func (repo *gradingRepository) QueryGradeRows(ctx context.Context, filter grading.RowFilter) ([]grading.GradeRow, error) {
	var (
		subjectOn, gradeOn string
		joinArgs           []interface{}
	)
	if filter.SubjectID != 0 {
		subjectOn = ` AND csub.subject_id = ?`
		joinArgs = append(joinArgs, filter.SubjectID)
	}
	if filter.Quarter != 0 {
		gradeOn = ` AND g.quarter = ?`
		joinArgs = append(joinArgs, int(filter.Quarter))
	}

	conds, args := scopeConds(filter.Scope)
	if filter.SchoolYearID != 0 {
		conds = append(conds, "c.school_year_id = ?")
		args = append(args, filter.SchoolYearID)
	}
	if filter.ClassID != 0 {
		conds = append(conds, "c.id = ?")
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != 0 {
		conds = append(conds, "s.id = ?")
		args = append(args, filter.StudentID)
	}

	q := `
	SELECT
		s.id AS student_id, s.user_id, s.first_name, s.middle_name, s.last_name,
		c.id AS class_id, c.grade_level, c.section,
		csub.subject_id, sb.name AS subject_name,
		g.quarter, g.grade::float8 AS grade
	FROM class_students cst
	JOIN students s ON s.id = cst.student_id
	JOIN classes c ON c.id = cst.class_id
	LEFT JOIN class_subjects csub ON csub.class_id = c.id` + subjectOn + `
	LEFT JOIN subjects sb ON sb.id = csub.subject_id
	LEFT JOIN student_grades g
		ON g.student_id = s.id AND g.class_id = c.id AND g.subject_id = csub.subject_id` + gradeOn
	if len(conds) > 0 {
		q += `
	WHERE ` + strings.Join(conds, " AND ")
	}
	q += `
	ORDER BY s.last_name, s.first_name, s.id, c.id, sb.name, csub.subject_id, g.quarter`

	rows := make([]grading.GradeRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), append(joinArgs, args...)...); err != nil {
		return nil, errors.Wrap(err, "selecting grade rows")
	}
	return rows, nil
}

func (repo *gradingRepository) GetClassByScope(ctx context.Context, schoolYearID int64, gradeLevel, section string) (school.Class, error) {
	var cl school.Class
	q := classSelect + ` WHERE c.school_year_id = ? AND c.grade_level = ? AND c.section = ?`
	if err := get(ctx, repo.db, &cl, school.ErrClassNotFound, q, schoolYearID, gradeLevel, section); err != nil {
		return school.Class{}, errors.Wrap(err, "selecting class by scope")
	}
	return cl, nil
}

// QueryQuarters reads the grades through the same enrollment and class subject joins as
// QueryGradeRows, so grades of unenrolled students or unassigned subjects are not counted.
func (repo *gradingRepository) QueryQuarters(ctx context.Context, schoolYearID int64, scope grading.Scope) ([]grading.Quarter, error) {
	conds, args := scopeConds(scope)
	conds = append([]string{"c.school_year_id = ?"}, conds...)
	args = append([]interface{}{schoolYearID}, args...)

	q := `
	SELECT DISTINCT g.quarter
	FROM student_grades g
	JOIN classes c ON c.id = g.class_id
	JOIN class_students cst ON cst.class_id = g.class_id AND cst.student_id = g.student_id
	JOIN class_subjects csub ON csub.class_id = g.class_id AND csub.subject_id = g.subject_id
	WHERE ` + strings.Join(conds, " AND ") + `
	ORDER BY g.quarter`

	quarters := make([]grading.Quarter, 0, grading.NumQuarters)
	if err := repo.db.SelectContext(ctx, &quarters, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting quarters")
	}
	return quarters, nil
}

func (repo *gradingRepository) GetEnrollment(ctx context.Context, userID, schoolYearID int64) (grading.Enrollment, error) {
	const q = `
	SELECT
		s.id AS student_id, u.id AS user_id, s.first_name, s.middle_name, s.last_name, u.email,
		c.id AS class_id, c.grade_level, c.section, sy.id AS school_year_id, sy.label AS school_year
	FROM students s
	JOIN users u ON u.id = s.user_id
	JOIN class_students cst ON cst.student_id = s.id
	JOIN classes c ON c.id = cst.class_id
	JOIN school_years sy ON sy.id = c.school_year_id
	WHERE u.id = ? AND c.school_year_id = ?
	LIMIT 1`

	var enr grading.Enrollment
	if err := get(ctx, repo.db, &enr, school.ErrEnrollmentNotFound, q, userID, schoolYearID); err != nil {
		return grading.Enrollment{}, errors.Wrap(err, "selecting enrollment")
	}
	return enr, nil
}

func (repo *gradingRepository) IsEnrolled(ctx context.Context, classID, studentID int64) (bool, error) {
	var enrolled bool
	q := `SELECT EXISTS (SELECT 1 FROM class_students WHERE class_id = $1 AND student_id = $2)`
	if err := repo.db.GetContext(ctx, &enrolled, q, classID, studentID); err != nil {
		return false, errors.Wrap(err, "checking enrollment")
	}
	return enrolled, nil
}

func (repo *gradingRepository) UpsertGrade(ctx context.Context, grade grading.StudentGrade) (grading.StudentGrade, error) {
	const q = `
	INSERT INTO student_grades (student_id, class_id, subject_id, quarter, grade)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (student_id, class_id, subject_id, quarter)
	DO UPDATE SET grade = EXCLUDED.grade, updated_at = (NOW() AT TIME ZONE 'utc')
	RETURNING id, student_id, class_id, subject_id, quarter, grade::float8 AS grade`

	var out grading.StudentGrade
	err := get(ctx, repo.db, &out, nil, q, grade.StudentID, grade.ClassID, grade.SubjectID, int(grade.Quarter), grade.Grade)
	if err != nil {
		return grading.StudentGrade{}, errors.Wrap(err, "upserting grade")
	}
	return out, nil
}
