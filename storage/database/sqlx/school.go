package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
)

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = core.NewValidationError(errors.New("a record with the same values already exists"))

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// get runs a single-row query, mapping sql.ErrNoRows to notFound.
func get(ctx context.Context, db core.DBExecutor, dest interface{}, notFound error, q string, args ...interface{}) error {
	if err := db.GetContext(ctx, dest, db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// execOne runs a write that must affect exactly one row.
func execOne(ctx context.Context, db core.DBExecutor, notFound error, q string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, db.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func ilike(search string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search) + "%"
}

type schoolRepository struct {
	db core.DB
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(db core.DB) school.Repository {
	return &schoolRepository{db: db}
}

// School years

const schoolYearColumns = `id, label, is_active`

func (repo *schoolRepository) QuerySchoolYears(ctx context.Context) ([]school.SchoolYear, error) {
	years := make([]school.SchoolYear, 0)
	q := `SELECT ` + schoolYearColumns + ` FROM school_years ORDER BY label DESC`
	if err := repo.db.SelectContext(ctx, &years, q); err != nil {
		return nil, errors.Wrap(err, "selecting school years")
	}
	return years, nil
}

func (repo *schoolRepository) GetSchoolYear(ctx context.Context, id int64) (school.SchoolYear, error) {
	var sy school.SchoolYear
	q := `SELECT ` + schoolYearColumns + ` FROM school_years WHERE id = ?`
	if err := get(ctx, repo.db, &sy, school.ErrSchoolYearNotFound, q, id); err != nil {
		return school.SchoolYear{}, errors.Wrap(err, "selecting school year")
	}
	return sy, nil
}

func (repo *schoolRepository) GetSchoolYearByLabel(ctx context.Context, label string) (school.SchoolYear, error) {
	var sy school.SchoolYear
	q := `SELECT ` + schoolYearColumns + ` FROM school_years WHERE label = ?`
	if err := get(ctx, repo.db, &sy, school.ErrSchoolYearNotFound, q, label); err != nil {
		return school.SchoolYear{}, errors.Wrap(err, "selecting school year by label")
	}
	return sy, nil
}

func (repo *schoolRepository) CreateSchoolYear(ctx context.Context, sy school.SchoolYear) (school.SchoolYear, error) {
	var out school.SchoolYear
	q := `INSERT INTO school_years (label, is_active) VALUES (?, false) RETURNING ` + schoolYearColumns
	if err := get(ctx, repo.db, &out, nil, q, sy.Label); err != nil {
		return school.SchoolYear{}, errors.Wrap(err, "inserting school year")
	}
	return out, nil
}

func (repo *schoolRepository) ActivateSchoolYear(ctx context.Context, id int64) (school.SchoolYear, error) {
	var sy school.SchoolYear
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE school_years SET is_active = false WHERE is_active AND id <> $1`, id); err != nil {
			return err
		}
		q := `UPDATE school_years SET is_active = true WHERE id = ? RETURNING ` + schoolYearColumns
		return get(ctx, tx, &sy, school.ErrSchoolYearNotFound, q, id)
	})
	if err != nil {
		return school.SchoolYear{}, errors.Wrap(err, "activating school year")
	}
	return sy, nil
}

// inTx runs fn in a transaction, rolling back when it fails.
func inTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Students

const studentColumns = `s.id, s.user_id, s.first_name, s.middle_name, s.last_name, s.gender, s.age`

func (repo *schoolRepository) QueryStudents(ctx context.Context, filter school.StudentFilter) ([]school.Student, error) {
	var (
		conds []string
		args  []interface{}
	)
	q := `SELECT ` + studentColumns + ` FROM students s`
	if filter.ClassID != 0 {
		q += ` JOIN class_students cs ON cs.student_id = s.id`
		conds = append(conds, "cs.class_id = ?")
		args = append(args, filter.ClassID)
	}
	if search := core.CleanString(filter.Search); search != "" {
		conds = append(conds, "(s.first_name ILIKE ? OR s.middle_name ILIKE ? OR s.last_name ILIKE ?)")
		pattern := ilike(search)
		args = append(args, pattern, pattern, pattern)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY s.last_name, s.first_name, s.id`

	students := make([]school.Student, 0)
	if err := repo.db.SelectContext(ctx, &students, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting students")
	}
	return students, nil
}

func (repo *schoolRepository) GetStudent(ctx context.Context, id int64) (school.Student, error) {
	var st school.Student
	q := `SELECT ` + studentColumns + ` FROM students s WHERE s.id = ?`
	if err := get(ctx, repo.db, &st, school.ErrStudentNotFound, q, id); err != nil {
		return school.Student{}, errors.Wrap(err, "selecting student")
	}
	return st, nil
}

func (repo *schoolRepository) CreateStudent(ctx context.Context, st school.Student) (school.Student, error) {
	var out school.Student
	q := `
	INSERT INTO students AS s (user_id, first_name, middle_name, last_name, gender, age)
	VALUES (?, ?, ?, ?, ?, ?)
	RETURNING ` + studentColumns
	err := get(ctx, repo.db, &out, nil, q, st.UserID, st.FirstName, st.MiddleName, st.LastName, st.Gender, st.Age)
	if err != nil {
		return school.Student{}, errors.Wrap(err, "inserting student")
	}
	return out, nil
}

func (repo *schoolRepository) UpdateStudent(ctx context.Context, st school.Student) (school.Student, error) {
	var out school.Student
	q := `
	UPDATE students AS s
	SET user_id = ?, first_name = ?, middle_name = ?, last_name = ?, gender = ?, age = ?
	WHERE s.id = ?
	RETURNING ` + studentColumns
	err := get(ctx, repo.db, &out, school.ErrStudentNotFound, q,
		st.UserID, st.FirstName, st.MiddleName, st.LastName, st.Gender, st.Age, st.ID)
	if err != nil {
		return school.Student{}, errors.Wrap(err, "updating student")
	}
	return out, nil
}

func (repo *schoolRepository) DeleteStudent(ctx context.Context, id int64) error {
	if err := execOne(ctx, repo.db, school.ErrStudentNotFound, `DELETE FROM students WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return nil
}

// Teachers

const teacherColumns = `t.id, t.user_id, t.first_name, t.middle_name, t.last_name, t.gender, t.is_active`

func (repo *schoolRepository) QueryTeachers(ctx context.Context, filter school.TeacherFilter) ([]school.Teacher, error) {
	var (
		conds []string
		args  []interface{}
	)
	if search := core.CleanString(filter.Search); search != "" {
		conds = append(conds, "(t.first_name ILIKE ? OR t.middle_name ILIKE ? OR t.last_name ILIKE ?)")
		pattern := ilike(search)
		args = append(args, pattern, pattern, pattern)
	}
	if filter.IsActive != nil {
		conds = append(conds, "t.is_active = ?")
		args = append(args, *filter.IsActive)
	}
	q := `SELECT ` + teacherColumns + ` FROM teachers t`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY t.last_name, t.first_name, t.id`

	teachers := make([]school.Teacher, 0)
	if err := repo.db.SelectContext(ctx, &teachers, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting teachers")
	}
	return teachers, nil
}

func (repo *schoolRepository) GetTeacher(ctx context.Context, id int64) (school.Teacher, error) {
	var tc school.Teacher
	q := `SELECT ` + teacherColumns + ` FROM teachers t WHERE t.id = ?`
	if err := get(ctx, repo.db, &tc, school.ErrTeacherNotFound, q, id); err != nil {
		return school.Teacher{}, errors.Wrap(err, "selecting teacher")
	}
	return tc, nil
}

func (repo *schoolRepository) GetTeacherByUserID(ctx context.Context, userID int64) (school.Teacher, error) {
	var tc school.Teacher
	q := `SELECT ` + teacherColumns + ` FROM teachers t WHERE t.user_id = ?`
	if err := get(ctx, repo.db, &tc, school.ErrTeacherNotFound, q, userID); err != nil {
		return school.Teacher{}, errors.Wrap(err, "selecting teacher by user ID")
	}
	return tc, nil
}

func (repo *schoolRepository) CreateTeacher(ctx context.Context, tc school.Teacher) (school.Teacher, error) {
	var out school.Teacher
	q := `
	INSERT INTO teachers AS t (user_id, first_name, middle_name, last_name, gender, is_active)
	VALUES (?, ?, ?, ?, ?, ?)
	RETURNING ` + teacherColumns
	err := get(ctx, repo.db, &out, nil, q, tc.UserID, tc.FirstName, tc.MiddleName, tc.LastName, tc.Gender, tc.IsActive)
	if err != nil {
		return school.Teacher{}, errors.Wrap(err, "inserting teacher")
	}
	return out, nil
}

func (repo *schoolRepository) UpdateTeacher(ctx context.Context, tc school.Teacher) (school.Teacher, error) {
	var out school.Teacher
	q := `
	UPDATE teachers AS t
	SET user_id = ?, first_name = ?, middle_name = ?, last_name = ?, gender = ?, is_active = ?
	WHERE t.id = ?
	RETURNING ` + teacherColumns
	err := get(ctx, repo.db, &out, school.ErrTeacherNotFound, q,
		tc.UserID, tc.FirstName, tc.MiddleName, tc.LastName, tc.Gender, tc.IsActive, tc.ID)
	if err != nil {
		return school.Teacher{}, errors.Wrap(err, "updating teacher")
	}
	return out, nil
}

func (repo *schoolRepository) DeleteTeacher(ctx context.Context, id int64) error {
	if err := execOne(ctx, repo.db, school.ErrTeacherNotFound, `DELETE FROM teachers WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	return nil
}

// Subjects

func (repo *schoolRepository) QuerySubjects(ctx context.Context, search string) ([]school.Subject, error) {
	var args []interface{}
	q := `SELECT id, name FROM subjects`
	if search = core.CleanString(search); search != "" {
		q += ` WHERE name ILIKE ?`
		args = append(args, ilike(search))
	}
	q += ` ORDER BY name`

	subjects := make([]school.Subject, 0)
	if err := repo.db.SelectContext(ctx, &subjects, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting subjects")
	}
	return subjects, nil
}

func (repo *schoolRepository) GetSubject(ctx context.Context, id int64) (school.Subject, error) {
	var sb school.Subject
	if err := get(ctx, repo.db, &sb, school.ErrSubjectNotFound, `SELECT id, name FROM subjects WHERE id = ?`, id); err != nil {
		return school.Subject{}, errors.Wrap(err, "selecting subject")
	}
	return sb, nil
}

func (repo *schoolRepository) CreateSubject(ctx context.Context, sb school.Subject) (school.Subject, error) {
	var out school.Subject
	if err := get(ctx, repo.db, &out, nil, `INSERT INTO subjects (name) VALUES (?) RETURNING id, name`, sb.Name); err != nil {
		return school.Subject{}, errors.Wrap(err, "inserting subject")
	}
	return out, nil
}

func (repo *schoolRepository) UpdateSubject(ctx context.Context, sb school.Subject) (school.Subject, error) {
	var out school.Subject
	q := `UPDATE subjects SET name = ? WHERE id = ? RETURNING id, name`
	if err := get(ctx, repo.db, &out, school.ErrSubjectNotFound, q, sb.Name, sb.ID); err != nil {
		return school.Subject{}, errors.Wrap(err, "updating subject")
	}
	return out, nil
}

func (repo *schoolRepository) DeleteSubject(ctx context.Context, id int64) error {
	if err := execOne(ctx, repo.db, school.ErrSubjectNotFound, `DELETE FROM subjects WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return nil
}

// Classes

const classSelect = `
SELECT c.id, c.grade_level, c.section, c.school_year_id, sy.label AS school_year, c.description
FROM classes c
JOIN school_years sy ON sy.id = c.school_year_id`

func (repo *schoolRepository) QueryClasses(ctx context.Context, filter school.ClassFilter) ([]school.Class, error) {
	filter.Clean()
	var (
		conds []string
		args  []interface{}
	)
	if filter.SchoolYearID != 0 {
		conds = append(conds, "c.school_year_id = ?")
		args = append(args, filter.SchoolYearID)
	}
	if filter.GradeLevel != "" {
		conds = append(conds, "c.grade_level = ?")
		args = append(args, filter.GradeLevel)
	}
	if filter.Section != "" {
		conds = append(conds, "c.section = ?")
		args = append(args, filter.Section)
	}
	q := classSelect
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY sy.label DESC, c.grade_level, c.section`

	classes := make([]school.Class, 0)
	if err := repo.db.SelectContext(ctx, &classes, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting classes")
	}
	return classes, nil
}

func (repo *schoolRepository) GetClass(ctx context.Context, id int64) (school.Class, error) {
	return repo.getClass(ctx, repo.db, id)
}

func (repo *schoolRepository) getClass(ctx context.Context, db core.DBExecutor, id int64) (school.Class, error) {
	var cl school.Class
	if err := get(ctx, db, &cl, school.ErrClassNotFound, classSelect+` WHERE c.id = ?`, id); err != nil {
		return school.Class{}, errors.Wrap(err, "selecting class")
	}
	return cl, nil
}

func (repo *schoolRepository) CreateClass(ctx context.Context, cl school.Class) (school.Class, error) {
	var id int64
	q := `
	INSERT INTO classes (grade_level, section, school_year_id, description)
	VALUES (?, ?, ?, ?)
	RETURNING id`
	if err := get(ctx, repo.db, &id, nil, q, cl.GradeLevel, cl.Section, cl.SchoolYearID, cl.Description); err != nil {
		return school.Class{}, errors.Wrap(err, "inserting class")
	}
	return repo.GetClass(ctx, id)
}

func (repo *schoolRepository) UpdateClass(ctx context.Context, cl school.Class) (school.Class, error) {
	q := `
	UPDATE classes SET grade_level = ?, section = ?, school_year_id = ?, description = ?
	WHERE id = ?`
	err := execOne(ctx, repo.db, school.ErrClassNotFound, q, cl.GradeLevel, cl.Section, cl.SchoolYearID, cl.Description, cl.ID)
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicate
		}
		return school.Class{}, errors.Wrap(err, "updating class")
	}
	return repo.GetClass(ctx, cl.ID)
}

func (repo *schoolRepository) DeleteClass(ctx context.Context, id int64) error {
	if err := execOne(ctx, repo.db, school.ErrClassNotFound, `DELETE FROM classes WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return nil
}

// Class subjects

const classSubjectSelect = `
SELECT
	cs.id, cs.class_id, cs.subject_id, sb.name AS subject_name, cs.teacher_id,
	COALESCE(t.first_name || ' ' || t.last_name, '') AS teacher_name
FROM class_subjects cs
JOIN subjects sb ON sb.id = cs.subject_id
LEFT JOIN teachers t ON t.id = cs.teacher_id`

func (repo *schoolRepository) AssignClassSubject(ctx context.Context, cs school.ClassSubject) (school.ClassSubject, error) {
	q := `
	INSERT INTO class_subjects (class_id, subject_id, teacher_id)
	VALUES (?, ?, ?)
	ON CONFLICT (class_id, subject_id) DO UPDATE SET teacher_id = EXCLUDED.teacher_id`
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), cs.ClassID, cs.SubjectID, cs.TeacherID); err != nil {
		return school.ClassSubject{}, errors.Wrap(err, "upserting class subject")
	}
	return repo.GetClassSubject(ctx, cs.ClassID, cs.SubjectID)
}

func (repo *schoolRepository) QueryClassSubjects(ctx context.Context, classID int64) ([]school.ClassSubject, error) {
	subjects := make([]school.ClassSubject, 0)
	q := classSubjectSelect + ` WHERE cs.class_id = $1 ORDER BY sb.name`
	if err := repo.db.SelectContext(ctx, &subjects, q, classID); err != nil {
		return nil, errors.Wrap(err, "selecting class subjects")
	}
	return subjects, nil
}

func (repo *schoolRepository) GetClassSubject(ctx context.Context, classID, subjectID int64) (school.ClassSubject, error) {
	var cs school.ClassSubject
	q := classSubjectSelect + ` WHERE cs.class_id = ? AND cs.subject_id = ?`
	if err := get(ctx, repo.db, &cs, school.ErrClassSubjectNotFound, q, classID, subjectID); err != nil {
		return school.ClassSubject{}, errors.Wrap(err, "selecting class subject")
	}
	return cs, nil
}

func (repo *schoolRepository) UnassignClassSubject(ctx context.Context, classID, subjectID int64) error {
	q := `DELETE FROM class_subjects WHERE class_id = ? AND subject_id = ?`
	if err := execOne(ctx, repo.db, school.ErrClassSubjectNotFound, q, classID, subjectID); err != nil {
		return errors.Wrap(err, "deleting class subject")
	}
	return nil
}

// Enrollments

// Enroll locks the student row so that concurrent enrollments of the same student are serialized,
// then checks for a class of the same school year before inserting.
func (repo *schoolRepository) Enroll(ctx context.Context, classID, studentID int64) (school.Enrollment, error) {
	var enr school.Enrollment
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		cl, err := repo.getClass(ctx, tx, classID)
		if err != nil {
			return err
		}

		var locked int64
		if err := get(ctx, tx, &locked, school.ErrStudentNotFound, `SELECT id FROM students WHERE id = ? FOR UPDATE`, studentID); err != nil {
			return err
		}

		var existingID int64
		q := `
		SELECT c.id
		FROM class_students cs
		JOIN classes c ON c.id = cs.class_id
		WHERE cs.student_id = ? AND c.school_year_id = ?
		LIMIT 1`
		switch err := get(ctx, tx, &existingID, sql.ErrNoRows, q, studentID, cl.SchoolYearID); {
		case err == nil:
			existing, err := repo.getClass(ctx, tx, existingID)
			if err != nil {
				return err
			}
			return &school.EnrollmentConflictError{Existing: existing}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		q = `INSERT INTO class_students (class_id, student_id) VALUES (?, ?) RETURNING id, class_id, student_id`
		return get(ctx, tx, &enr, nil, q, classID, studentID)
	})
	if err != nil {
		if _, ok := errors.Cause(err).(*school.EnrollmentConflictError); ok {
			return school.Enrollment{}, errors.Cause(err)
		}
		return school.Enrollment{}, errors.Wrap(err, "enrolling student")
	}
	return enr, nil
}

func (repo *schoolRepository) QueryClassStudents(ctx context.Context, classID int64) ([]school.Student, error) {
	return repo.QueryStudents(ctx, school.StudentFilter{ClassID: classID})
}

func (repo *schoolRepository) Unenroll(ctx context.Context, classID, studentID int64) error {
	q := `DELETE FROM class_students WHERE class_id = ? AND student_id = ?`
	if err := execOne(ctx, repo.db, school.ErrEnrollmentNotFound, q, classID, studentID); err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	return nil
}
