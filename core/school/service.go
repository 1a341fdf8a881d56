package school

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrSchoolYearNotFound   = core.NewNotFoundError("school year")
	ErrStudentNotFound      = core.NewNotFoundError("student")
	ErrTeacherNotFound      = core.NewNotFoundError("teacher")
	ErrSubjectNotFound      = core.NewNotFoundError("subject")
	ErrClassNotFound        = core.NewNotFoundError("class")
	ErrClassSubjectNotFound = core.NewNotFoundError("class subject")
	ErrEnrollmentNotFound   = core.NewNotFoundError("enrollment")
)

type (
	// Repository persists the roster. Lookups return the package's not-found errors.
	Repository interface {
		QuerySchoolYears(ctx context.Context) ([]SchoolYear, error)
		GetSchoolYear(ctx context.Context, id int64) (SchoolYear, error)
		GetSchoolYearByLabel(ctx context.Context, label string) (SchoolYear, error)
		CreateSchoolYear(ctx context.Context, sy SchoolYear) (SchoolYear, error)
		// ActivateSchoolYear marks the given year active and every other year inactive.
		ActivateSchoolYear(ctx context.Context, id int64) (SchoolYear, error)

		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
		GetStudent(ctx context.Context, id int64) (Student, error)
		CreateStudent(ctx context.Context, st Student) (Student, error)
		UpdateStudent(ctx context.Context, st Student) (Student, error)
		DeleteStudent(ctx context.Context, id int64) error

		QueryTeachers(ctx context.Context, filter TeacherFilter) ([]Teacher, error)
		GetTeacher(ctx context.Context, id int64) (Teacher, error)
		GetTeacherByUserID(ctx context.Context, userID int64) (Teacher, error)
		CreateTeacher(ctx context.Context, tc Teacher) (Teacher, error)
		UpdateTeacher(ctx context.Context, tc Teacher) (Teacher, error)
		DeleteTeacher(ctx context.Context, id int64) error

		QuerySubjects(ctx context.Context, search string) ([]Subject, error)
		GetSubject(ctx context.Context, id int64) (Subject, error)
		CreateSubject(ctx context.Context, sb Subject) (Subject, error)
		UpdateSubject(ctx context.Context, sb Subject) (Subject, error)
		DeleteSubject(ctx context.Context, id int64) error

		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		GetClass(ctx context.Context, id int64) (Class, error)
		CreateClass(ctx context.Context, cl Class) (Class, error)
		UpdateClass(ctx context.Context, cl Class) (Class, error)
		DeleteClass(ctx context.Context, id int64) error

		// AssignClassSubject inserts or replaces the (class, subject) assignment.
		AssignClassSubject(ctx context.Context, cs ClassSubject) (ClassSubject, error)
		QueryClassSubjects(ctx context.Context, classID int64) ([]ClassSubject, error)
		GetClassSubject(ctx context.Context, classID, subjectID int64) (ClassSubject, error)
		UnassignClassSubject(ctx context.Context, classID, subjectID int64) error

		// Enroll atomically checks that the student has no class in the school year of classID
		// and inserts the enrollment. A conflict returns *EnrollmentConflictError and inserts nothing.
		Enroll(ctx context.Context, classID, studentID int64) (Enrollment, error)
		QueryClassStudents(ctx context.Context, classID int64) ([]Student, error)
		Unenroll(ctx context.Context, classID, studentID int64) error
	}

	Service interface {
		QuerySchoolYears(ctx context.Context) ([]SchoolYear, error)
		CreateSchoolYear(ctx context.Context, ny NewSchoolYear) (SchoolYear, error)
		ActivateSchoolYear(ctx context.Context, id int64) (SchoolYear, error)

		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
		GetStudent(ctx context.Context, id int64) (Student, error)
		CreateStudent(ctx context.Context, in StudentInput) (Student, error)
		UpdateStudent(ctx context.Context, id int64, in StudentInput) (Student, error)
		DeleteStudent(ctx context.Context, id int64) error

		QueryTeachers(ctx context.Context, filter TeacherFilter) ([]Teacher, error)
		GetTeacher(ctx context.Context, id int64) (Teacher, error)
		CreateTeacher(ctx context.Context, in TeacherInput) (Teacher, error)
		UpdateTeacher(ctx context.Context, id int64, in TeacherInput) (Teacher, error)
		DeleteTeacher(ctx context.Context, id int64) error

		QuerySubjects(ctx context.Context, search string) ([]Subject, error)
		GetSubject(ctx context.Context, id int64) (Subject, error)
		CreateSubject(ctx context.Context, in SubjectInput) (Subject, error)
		UpdateSubject(ctx context.Context, id int64, in SubjectInput) (Subject, error)
		DeleteSubject(ctx context.Context, id int64) error

		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		GetClass(ctx context.Context, id int64) (Class, error)
		CreateClass(ctx context.Context, in ClassInput) (Class, error)
		UpdateClass(ctx context.Context, id int64, in ClassInput) (Class, error)
		DeleteClass(ctx context.Context, id int64) error

		AssignClassSubject(ctx context.Context, classID int64, in ClassSubjectInput) (ClassSubject, error)
		QueryClassSubjects(ctx context.Context, classID int64) ([]ClassSubject, error)
		UnassignClassSubject(ctx context.Context, classID, subjectID int64) error

		Enroll(ctx context.Context, classID int64, in EnrollmentInput) (Enrollment, error)
		QueryClassStudents(ctx context.Context, classID int64) ([]Student, error)
		Unenroll(ctx context.Context, classID, studentID int64) error
	}

	service struct {
		repo     Repository
		validate *validator.Validate
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, validate *validator.Validate) Service {
	return &service{repo: repo, validate: validate}
}

// School years

func (svc *service) QuerySchoolYears(ctx context.Context) ([]SchoolYear, error) {
	return svc.repo.QuerySchoolYears(ctx)
}

func (svc *service) CreateSchoolYear(ctx context.Context, ny NewSchoolYear) (SchoolYear, error) {
	if err := ny.Validate(svc.validate); err != nil {
		return SchoolYear{}, err
	}
	if _, err := svc.repo.GetSchoolYearByLabel(ctx, ny.Label); err == nil {
		return SchoolYear{}, core.NewValidationError(nil, core.FieldError{Field: "label", Error: "a school year with this label already exists"})
	} else if !core.IsNotFound(err) {
		return SchoolYear{}, errors.Wrap(err, "finding school year by label")
	}

	sy, err := svc.repo.CreateSchoolYear(ctx, SchoolYear{Label: ny.Label})
	if err != nil {
		return SchoolYear{}, errors.Wrap(err, "creating school year")
	}
	if ny.IsActive {
		return svc.repo.ActivateSchoolYear(ctx, sy.ID)
	}
	return sy, nil
}

func (svc *service) ActivateSchoolYear(ctx context.Context, id int64) (SchoolYear, error) {
	return svc.repo.ActivateSchoolYear(ctx, id)
}

// Students

func (svc *service) QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryStudents(ctx, filter)
}

func (svc *service) GetStudent(ctx context.Context, id int64) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *service) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	return svc.repo.CreateStudent(ctx, in.student(0))
}

func (svc *service) UpdateStudent(ctx context.Context, id int64, in StudentInput) (Student, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	return svc.repo.UpdateStudent(ctx, in.student(id))
}

func (svc *service) DeleteStudent(ctx context.Context, id int64) error {
	return svc.repo.DeleteStudent(ctx, id)
}

func (in StudentInput) student(id int64) Student {
	return Student{
		ID:         id,
		UserID:     in.UserID,
		PersonName: PersonName{FirstName: in.FirstName, MiddleName: in.MiddleName, LastName: in.LastName},
		Gender:     in.Gender,
		Age:        in.Age,
	}
}

// Teachers

func (svc *service) QueryTeachers(ctx context.Context, filter TeacherFilter) ([]Teacher, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryTeachers(ctx, filter)
}

func (svc *service) GetTeacher(ctx context.Context, id int64) (Teacher, error) {
	return svc.repo.GetTeacher(ctx, id)
}

func (svc *service) CreateTeacher(ctx context.Context, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	return svc.repo.CreateTeacher(ctx, in.teacher(0))
}

func (svc *service) UpdateTeacher(ctx context.Context, id int64, in TeacherInput) (Teacher, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Teacher{}, err
	}
	return svc.repo.UpdateTeacher(ctx, in.teacher(id))
}

func (svc *service) DeleteTeacher(ctx context.Context, id int64) error {
	return svc.repo.DeleteTeacher(ctx, id)
}

func (in TeacherInput) teacher(id int64) Teacher {
	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	return Teacher{
		ID:         id,
		UserID:     in.UserID,
		PersonName: PersonName{FirstName: in.FirstName, MiddleName: in.MiddleName, LastName: in.LastName},
		Gender:     in.Gender,
		IsActive:   isActive,
	}
}

// Subjects

func (svc *service) QuerySubjects(ctx context.Context, search string) ([]Subject, error) {
	return svc.repo.QuerySubjects(ctx, core.CleanString(search))
}

func (svc *service) GetSubject(ctx context.Context, id int64) (Subject, error) {
	return svc.repo.GetSubject(ctx, id)
}

func (svc *service) CreateSubject(ctx context.Context, in SubjectInput) (Subject, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Subject{}, err
	}
	return svc.repo.CreateSubject(ctx, Subject{Name: in.Name})
}

func (svc *service) UpdateSubject(ctx context.Context, id int64, in SubjectInput) (Subject, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Subject{}, err
	}
	return svc.repo.UpdateSubject(ctx, Subject{ID: id, Name: in.Name})
}

func (svc *service) DeleteSubject(ctx context.Context, id int64) error {
	return svc.repo.DeleteSubject(ctx, id)
}

// Classes

func (svc *service) QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error) {
	filter.Clean()
	return svc.repo.QueryClasses(ctx, filter)
}

func (svc *service) GetClass(ctx context.Context, id int64) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *service) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Class{}, err
	}
	if err := svc.checkSchoolYear(ctx, in.SchoolYearID); err != nil {
		return Class{}, err
	}
	return svc.repo.CreateClass(ctx, in.class(0))
}

func (svc *service) UpdateClass(ctx context.Context, id int64, in ClassInput) (Class, error) {
	if err := in.Validate(svc.validate); err != nil {
		return Class{}, err
	}
	if err := svc.checkSchoolYear(ctx, in.SchoolYearID); err != nil {
		return Class{}, err
	}
	return svc.repo.UpdateClass(ctx, in.class(id))
}

func (svc *service) DeleteClass(ctx context.Context, id int64) error {
	return svc.repo.DeleteClass(ctx, id)
}

// checkSchoolYear reports an unknown school year as a field error rather than a missing resource.
func (svc *service) checkSchoolYear(ctx context.Context, id int64) error {
	if _, err := svc.repo.GetSchoolYear(ctx, id); err != nil {
		if core.IsNotFound(err) {
			return core.NewValidationError(nil, core.FieldError{Field: "schoolYearId", Error: "school year not found"})
		}
		return errors.Wrap(err, "finding school year")
	}
	return nil
}

func (in ClassInput) class(id int64) Class {
	return Class{
		ID:           id,
		GradeLevel:   in.GradeLevel,
		Section:      in.Section,
		SchoolYearID: in.SchoolYearID,
		Description:  in.Description,
	}
}

// Class subjects

func (svc *service) AssignClassSubject(ctx context.Context, classID int64, in ClassSubjectInput) (ClassSubject, error) {
	if err := svc.validate.Struct(in); err != nil {
		return ClassSubject{}, err
	}
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return ClassSubject{}, err
	}
	if _, err := svc.repo.GetSubject(ctx, in.SubjectID); err != nil {
		if core.IsNotFound(err) {
			return ClassSubject{}, core.NewValidationError(nil, core.FieldError{Field: "subjectId", Error: "subject not found"})
		}
		return ClassSubject{}, errors.Wrap(err, "finding subject")
	}
	if in.TeacherID.Valid {
		if _, err := svc.repo.GetTeacher(ctx, in.TeacherID.Int64); err != nil {
			if core.IsNotFound(err) {
				return ClassSubject{}, core.NewValidationError(nil, core.FieldError{Field: "teacherId", Error: "teacher not found"})
			}
			return ClassSubject{}, errors.Wrap(err, "finding teacher")
		}
	}
	return svc.repo.AssignClassSubject(ctx, ClassSubject{ClassID: classID, SubjectID: in.SubjectID, TeacherID: in.TeacherID})
}

func (svc *service) QueryClassSubjects(ctx context.Context, classID int64) ([]ClassSubject, error) {
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return svc.repo.QueryClassSubjects(ctx, classID)
}

func (svc *service) UnassignClassSubject(ctx context.Context, classID, subjectID int64) error {
	return svc.repo.UnassignClassSubject(ctx, classID, subjectID)
}

// Enrollments

func (svc *service) Enroll(ctx context.Context, classID int64, in EnrollmentInput) (Enrollment, error) {
	if err := svc.validate.Struct(in); err != nil {
		return Enrollment{}, err
	}

	enr, err := svc.repo.Enroll(ctx, classID, in.StudentID)
	if err != nil {
		if conflict, ok := errors.Cause(err).(*EnrollmentConflictError); ok {
			return Enrollment{}, core.NewValidationError(conflict, core.FieldError{Field: "studentId", Error: conflict.Error()})
		}
		return Enrollment{}, err
	}
	return enr, nil
}

func (svc *service) QueryClassStudents(ctx context.Context, classID int64) ([]Student, error) {
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return svc.repo.QueryClassStudents(ctx, classID)
}

func (svc *service) Unenroll(ctx context.Context, classID, studentID int64) error {
	return svc.repo.Unenroll(ctx, classID, studentID)
}
