package school

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// stubRepo overrides the Repository methods used by a test; calling any other one panics.
type stubRepo struct {
	Repository

	schoolYears map[int64]SchoolYear
	classes     map[int64]Class
	subjects    map[int64]Subject
	enrollments []Enrollment
	assigned    []ClassSubject
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		schoolYears: map[int64]SchoolYear{1: {ID: 1, Label: "2024-2025", IsActive: true}},
		classes: map[int64]Class{
			10: {ID: 10, GradeLevel: "7", Section: "A", SchoolYearID: 1, SchoolYear: "2024-2025"},
			11: {ID: 11, GradeLevel: "7", Section: "B", SchoolYearID: 1, SchoolYear: "2024-2025"},
		},
		subjects: map[int64]Subject{100: {ID: 100, Name: "Math"}},
	}
}

func (r *stubRepo) GetSchoolYear(_ context.Context, id int64) (SchoolYear, error) {
	if sy, ok := r.schoolYears[id]; ok {
		return sy, nil
	}
	return SchoolYear{}, ErrSchoolYearNotFound
}

func (r *stubRepo) GetSchoolYearByLabel(_ context.Context, label string) (SchoolYear, error) {
	for _, sy := range r.schoolYears {
		if sy.Label == label {
			return sy, nil
		}
	}
	return SchoolYear{}, ErrSchoolYearNotFound
}

func (r *stubRepo) CreateSchoolYear(_ context.Context, sy SchoolYear) (SchoolYear, error) {
	sy.ID = int64(len(r.schoolYears) + 1)
	r.schoolYears[sy.ID] = sy
	return sy, nil
}

func (r *stubRepo) ActivateSchoolYear(_ context.Context, id int64) (SchoolYear, error) {
	for yid, sy := range r.schoolYears {
		sy.IsActive = yid == id
		r.schoolYears[yid] = sy
	}
	return r.schoolYears[id], nil
}

func (r *stubRepo) GetClass(_ context.Context, id int64) (Class, error) {
	if cl, ok := r.classes[id]; ok {
		return cl, nil
	}
	return Class{}, ErrClassNotFound
}

func (r *stubRepo) CreateClass(_ context.Context, cl Class) (Class, error) {
	cl.ID = 12
	return cl, nil
}

func (r *stubRepo) GetSubject(_ context.Context, id int64) (Subject, error) {
	if sb, ok := r.subjects[id]; ok {
		return sb, nil
	}
	return Subject{}, ErrSubjectNotFound
}

func (r *stubRepo) GetTeacher(_ context.Context, id int64) (Teacher, error) {
	if id == 5 {
		return Teacher{ID: 5}, nil
	}
	return Teacher{}, ErrTeacherNotFound
}

func (r *stubRepo) AssignClassSubject(_ context.Context, cs ClassSubject) (ClassSubject, error) {
	cs.ID = int64(len(r.assigned) + 1)
	r.assigned = append(r.assigned, cs)
	return cs, nil
}

// Enroll mirrors the check-then-insert of the sql repository.
func (r *stubRepo) Enroll(_ context.Context, classID, studentID int64) (Enrollment, error) {
	cl, ok := r.classes[classID]
	if !ok {
		return Enrollment{}, ErrClassNotFound
	}
	for _, enr := range r.enrollments {
		if enr.StudentID != studentID {
			continue
		}
		if existing := r.classes[enr.ClassID]; existing.SchoolYearID == cl.SchoolYearID {
			return Enrollment{}, &EnrollmentConflictError{Existing: existing}
		}
	}
	enr := Enrollment{ID: int64(len(r.enrollments) + 1), ClassID: classID, StudentID: studentID}
	r.enrollments = append(r.enrollments, enr)
	return enr, nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	return NewService(repo, validate)
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	svc := newTestService(t, repo)

	enr, err := svc.Enroll(ctx, 11, EnrollmentInput{StudentID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(11), enr.ClassID)

	// same school year, other class
	_, err = svc.Enroll(ctx, 10, EnrollmentInput{StudentID: 1})
	require.Error(t, err)
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T", err)
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, "studentId", vErr.Fields[0].Field)
	assert.Equal(t, "student is already enrolled in Grade 7 - B for this school year", vErr.Fields[0].Error)
	assert.Len(t, repo.enrollments, 1, "no enrollment row must be created on conflict")

	_, err = svc.Enroll(ctx, 99, EnrollmentInput{StudentID: 2})
	assert.True(t, core.IsNotFound(err))

	_, err = svc.Enroll(ctx, 10, EnrollmentInput{})
	_, isValidation := err.(validator.ValidationErrors)
	assert.True(t, isValidation)
}

func TestService_CreateSchoolYear(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	svc := newTestService(t, repo)

	_, err := svc.CreateSchoolYear(ctx, NewSchoolYear{Label: " 2024-2025 "})
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "label", vErr.Fields[0].Field)

	sy, err := svc.CreateSchoolYear(ctx, NewSchoolYear{Label: "2025-2026", IsActive: true})
	require.NoError(t, err)
	assert.True(t, sy.IsActive)
	assert.False(t, repo.schoolYears[1].IsActive)
}

func TestService_CreateClass(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newStubRepo())

	_, err := svc.CreateClass(ctx, ClassInput{GradeLevel: "8", Section: "A", SchoolYearID: 42})
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "schoolYearId", vErr.Fields[0].Field)

	_, err = svc.CreateClass(ctx, ClassInput{GradeLevel: "   ", Section: "A", SchoolYearID: 1})
	_, isValidation := err.(validator.ValidationErrors)
	assert.True(t, isValidation)

	cl, err := svc.CreateClass(ctx, ClassInput{GradeLevel: " 8 ", Section: "A", SchoolYearID: 1})
	require.NoError(t, err)
	assert.Equal(t, "8", cl.GradeLevel)
}

func TestService_AssignClassSubject(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	svc := newTestService(t, repo)

	tests := []struct {
		name      string
		classID   int64
		in        ClassSubjectInput
		wantField string
		notFound  bool
	}{
		{name: "unknown class", classID: 99, in: ClassSubjectInput{SubjectID: 100}, notFound: true},
		{name: "unknown subject", classID: 10, in: ClassSubjectInput{SubjectID: 7}, wantField: "subjectId"},
		{name: "unknown teacher", classID: 10, in: ClassSubjectInput{SubjectID: 100, TeacherID: null.Int64From(9)}, wantField: "teacherId"},
		{name: "assigned", classID: 10, in: ClassSubjectInput{SubjectID: 100, TeacherID: null.Int64From(5)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cs, err := svc.AssignClassSubject(ctx, tt.classID, tt.in)
			switch {
			case tt.notFound:
				assert.True(t, core.IsNotFound(err))
			case tt.wantField != "":
				vErr, ok := err.(*core.ValidationError)
				require.True(t, ok, "got %T", err)
				assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.classID, cs.ClassID)
				assert.Equal(t, int64(5), cs.TeacherID.Int64)
			}
		})
	}
}

func TestStudentInput_Validate(t *testing.T) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	in := StudentInput{FirstName: " Neema ", LastName: "Mushi", Gender: "f", Age: null.IntFrom(13)}
	require.NoError(t, in.Validate(validate))
	assert.Equal(t, "Neema", in.FirstName)
	assert.Equal(t, GenderFemale, in.Gender)

	in.Age = null.IntFrom(2)
	err := in.Validate(validate)
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "age", vErr.Fields[0].Field)

	assert.Equal(t, "Neema Mushi", PersonName{FirstName: "Neema", LastName: "Mushi"}.FullName())
}
