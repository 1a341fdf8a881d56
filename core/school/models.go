package school

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// Genders
const (
	GenderFemale = "F"
	GenderMale   = "M"
)

type SchoolYear struct {
	ID       int64  `json:"id" db:"id"`
	Label    string `json:"label" db:"label"`
	IsActive bool   `json:"isActive" db:"is_active"`
}

type NewSchoolYear struct {
	Label    string `json:"label" validate:"required,notblank,max=20"`
	IsActive bool   `json:"isActive"`
}

func (ny *NewSchoolYear) Validate(validate *validator.Validate) error {
	ny.Label = core.CleanString(ny.Label)
	return validate.Struct(ny)
}

// PersonName holds the name parts shared by students and teachers.
type PersonName struct {
	FirstName  string `json:"firstName" db:"first_name"`
	MiddleName string `json:"middleName" db:"middle_name"`
	LastName   string `json:"lastName" db:"last_name"`
}

// FullName joins the non-empty name parts.
func (n PersonName) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.FirstName, n.MiddleName, n.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type Student struct {
	ID     int64      `json:"id" db:"id"`
	UserID null.Int64 `json:"userId" db:"user_id"`
	PersonName
	Gender string   `json:"gender" db:"gender"`
	Age    null.Int `json:"age" db:"age"`
}

type Teacher struct {
	ID     int64      `json:"id" db:"id"`
	UserID null.Int64 `json:"userId" db:"user_id"`
	PersonName
	Gender   string `json:"gender" db:"gender"`
	IsActive bool   `json:"isActive" db:"is_active"`
}

// StudentInput is used to create or replace a Student.
type StudentInput struct {
	UserID     null.Int64 `json:"userId"`
	FirstName  string     `json:"firstName" validate:"required,notblank"`
	MiddleName string     `json:"middleName"`
	LastName   string     `json:"lastName" validate:"required,notblank"`
	Gender     string     `json:"gender" validate:"required,oneof=F M"`
	Age        null.Int   `json:"age"`
}

func (in *StudentInput) Validate(validate *validator.Validate) error {
	in.FirstName = core.CleanString(in.FirstName)
	in.MiddleName = core.CleanString(in.MiddleName)
	in.LastName = core.CleanString(in.LastName)
	in.Gender = strings.ToUpper(core.CleanString(in.Gender))
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.Age.Valid && (in.Age.Int < 3 || in.Age.Int > 30) {
		return core.NewValidationError(nil, core.FieldError{Field: "age", Error: "age must be between 3 and 30"})
	}
	return nil
}

// TeacherInput is used to create or replace a Teacher.
type TeacherInput struct {
	UserID     null.Int64 `json:"userId"`
	FirstName  string     `json:"firstName" validate:"required,notblank"`
	MiddleName string     `json:"middleName"`
	LastName   string     `json:"lastName" validate:"required,notblank"`
	Gender     string     `json:"gender" validate:"required,oneof=F M"`
	IsActive   *bool      `json:"isActive"`
}

func (in *TeacherInput) Validate(validate *validator.Validate) error {
	in.FirstName = core.CleanString(in.FirstName)
	in.MiddleName = core.CleanString(in.MiddleName)
	in.LastName = core.CleanString(in.LastName)
	in.Gender = strings.ToUpper(core.CleanString(in.Gender))
	return validate.Struct(in)
}

type Subject struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type SubjectInput struct {
	Name string `json:"name" validate:"required,notblank,max=100"`
}

func (in *SubjectInput) Validate(validate *validator.Validate) error {
	in.Name = core.CleanString(in.Name)
	return validate.Struct(in)
}

type Class struct {
	ID           int64  `json:"id" db:"id"`
	GradeLevel   string `json:"gradeLevel" db:"grade_level"`
	Section      string `json:"section" db:"section"`
	SchoolYearID int64  `json:"schoolYearId" db:"school_year_id"`
	SchoolYear   string `json:"schoolYear" db:"school_year"`
	Description  string `json:"description" db:"description"`
}

// Name is the display name of the class, e.g. "Grade 7 - A".
func (c Class) Name() string {
	if c.Section == "" {
		return "Grade " + c.GradeLevel
	}
	return "Grade " + c.GradeLevel + " - " + c.Section
}

type ClassInput struct {
	GradeLevel   string `json:"gradeLevel" validate:"required,notblank,max=20"`
	Section      string `json:"section" validate:"required,notblank,max=20"`
	SchoolYearID int64  `json:"schoolYearId" validate:"required"`
	Description  string `json:"description"`
}

func (in *ClassInput) Validate(validate *validator.Validate) error {
	in.GradeLevel = core.CleanString(in.GradeLevel)
	in.Section = core.CleanString(in.Section)
	in.Description = core.CleanString(in.Description)
	return validate.Struct(in)
}

// ClassSubject assigns a teacher to teach a subject within a class.
type ClassSubject struct {
	ID          int64      `json:"id" db:"id"`
	ClassID     int64      `json:"classId" db:"class_id"`
	SubjectID   int64      `json:"subjectId" db:"subject_id"`
	SubjectName string     `json:"subjectName" db:"subject_name"`
	TeacherID   null.Int64 `json:"teacherId" db:"teacher_id"`
	TeacherName string     `json:"teacherName" db:"teacher_name"`
}

type ClassSubjectInput struct {
	SubjectID int64      `json:"subjectId" validate:"required"`
	TeacherID null.Int64 `json:"teacherId"`
}

// Enrollment is a student's membership of a class.
type Enrollment struct {
	ID        int64 `json:"id" db:"id"`
	ClassID   int64 `json:"classId" db:"class_id"`
	StudentID int64 `json:"studentId" db:"student_id"`
}

type EnrollmentInput struct {
	StudentID int64 `json:"studentId" validate:"required"`
}

// EnrollmentConflictError is returned when a student already belongs to a class of the same school year.
type EnrollmentConflictError struct {
	Existing Class
}

func (err EnrollmentConflictError) Error() string {
	return "student is already enrolled in " + err.Existing.Name() + " for this school year"
}

// Filters

type StudentFilter struct {
	Search  string `query:"search"`
	ClassID int64  `query:"classId"`
}

type TeacherFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"isActive"`
}

type ClassFilter struct {
	SchoolYearID int64  `query:"schoolYearId"`
	GradeLevel   string `query:"gradeLevel"`
	Section      string `query:"section"`
}

func (f *ClassFilter) Clean() {
	if core.IsAllSentinel(f.GradeLevel) {
		f.GradeLevel = ""
	}
	if core.IsAllSentinel(f.Section) {
		f.Section = ""
	}
	f.GradeLevel = core.CleanString(f.GradeLevel)
	f.Section = core.CleanString(f.Section)
}
