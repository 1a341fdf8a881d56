package grading

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

// fakeRepo answers the engine's queries from an in-memory school the same way the sql repository
// joins its tables.
type fakeRepo struct {
	schoolYears   []school.SchoolYear
	students      map[int64]school.Student
	emails        map[int64]string // {userID: email}
	teachers      map[int64]school.Teacher
	classes       map[int64]school.Class
	classSubjects []school.ClassSubject
	enrollments   []school.Enrollment
	grades        []StudentGrade

	calls int
}

func newFakeRepo() *fakeRepo {
	student := func(id, userID int64, first, last string) school.Student {
		st := school.Student{ID: id, PersonName: school.PersonName{FirstName: first, LastName: last}}
		if userID != 0 {
			st.UserID = null.Int64From(userID)
		}
		return st
	}

	repo := &fakeRepo{
		schoolYears: []school.SchoolYear{{ID: 1, Label: "2024-2025", IsActive: true}, {ID: 2, Label: "2023-2024"}},
		students: map[int64]school.Student{
			1: student(1, 21, "Amani", "Kabila"),
			2: student(2, 22, "Baraka", "Mushi"),
			3: student(3, 23, "Chausiku", "Ndege"),
			4: student(4, 0, "Dalila", "Omari"),
			5: student(5, 25, "Eshe", "Pendo"),
			6: student(6, 26, "Faraji", "Rashidi"),
		},
		emails: map[int64]string{21: "amani@shule.test", 22: "baraka@shule.test"},
		teachers: map[int64]school.Teacher{
			5: {ID: 5, UserID: null.Int64From(31)},
			6: {ID: 6, UserID: null.Int64From(32)},
		},
		classes: map[int64]school.Class{
			10: {ID: 10, GradeLevel: "7", Section: "A", SchoolYearID: 1},
			11: {ID: 11, GradeLevel: "7", Section: "B", SchoolYearID: 1},
			12: {ID: 12, GradeLevel: "8", Section: "A", SchoolYearID: 1},
			13: {ID: 13, GradeLevel: "9", Section: "A", SchoolYearID: 1},
		},
		classSubjects: []school.ClassSubject{
			{ID: 1, ClassID: 10, SubjectID: 100, SubjectName: "Math", TeacherID: null.Int64From(5)},
			{ID: 2, ClassID: 10, SubjectID: 101, SubjectName: "Science", TeacherID: null.Int64From(6)},
			{ID: 3, ClassID: 11, SubjectID: 100, SubjectName: "Math"},
			{ID: 4, ClassID: 12, SubjectID: 100, SubjectName: "Math"},
		},
		enrollments: []school.Enrollment{
			{ID: 1, ClassID: 10, StudentID: 1},
			{ID: 2, ClassID: 10, StudentID: 2},
			{ID: 3, ClassID: 10, StudentID: 5},
			{ID: 4, ClassID: 11, StudentID: 3},
			{ID: 5, ClassID: 12, StudentID: 4},
		},
	}

	grade := func(studentID, classID, subjectID int64, grades ...float64) {
		for i, g := range grades {
			repo.grades = append(repo.grades, StudentGrade{
				ID:        int64(len(repo.grades) + 1),
				StudentID: studentID,
				ClassID:   classID,
				SubjectID: subjectID,
				Quarter:   Quarter(i + 1),
				Grade:     g,
			})
		}
	}
	grade(1, 10, 100, 80, 85, 90, 95)
	grade(1, 10, 101, 70, 72)
	grade(2, 10, 100, 90, 90, 90, 90)
	grade(2, 10, 101, 80, 80, 80, 80)
	grade(3, 11, 100, 85, 85, 85, 85)
	grade(4, 12, 100, 82)
	return repo
}

func (r *fakeRepo) GetSchoolYear(_ context.Context, id int64) (school.SchoolYear, error) {
	r.calls++
	for _, sy := range r.schoolYears {
		if sy.ID == id {
			return sy, nil
		}
	}
	return school.SchoolYear{}, school.ErrSchoolYearNotFound
}

func (r *fakeRepo) GetSchoolYearByLabel(_ context.Context, label string) (school.SchoolYear, error) {
	r.calls++
	for _, sy := range r.schoolYears {
		if sy.Label == label {
			return sy, nil
		}
	}
	return school.SchoolYear{}, school.ErrSchoolYearNotFound
}

func (r *fakeRepo) GetClassByScope(_ context.Context, schoolYearID int64, gradeLevel, section string) (school.Class, error) {
	r.calls++
	for _, cl := range r.classes {
		if cl.SchoolYearID == schoolYearID && cl.GradeLevel == gradeLevel && cl.Section == section {
			return cl, nil
		}
	}
	return school.Class{}, school.ErrClassNotFound
}

func (r *fakeRepo) inScope(cl school.Class, scope Scope) bool {
	if scope.HasLevel() && cl.GradeLevel != scope.Level() {
		return false
	}
	return !scope.HasSection() || cl.Section == scope.Section()
}

func (r *fakeRepo) QueryGradeRows(_ context.Context, filter RowFilter) ([]GradeRow, error) {
	r.calls++

	enrollments := make([]school.Enrollment, len(r.enrollments))
	copy(enrollments, r.enrollments)
	sort.SliceStable(enrollments, func(i, j int) bool {
		si, sj := r.students[enrollments[i].StudentID], r.students[enrollments[j].StudentID]
		if si.LastName != sj.LastName {
			return si.LastName < sj.LastName
		}
		return si.FirstName < sj.FirstName
	})

	var rows []GradeRow
	for _, enr := range enrollments {
		cl := r.classes[enr.ClassID]
		switch {
		case filter.SchoolYearID != 0 && cl.SchoolYearID != filter.SchoolYearID,
			filter.ClassID != 0 && cl.ID != filter.ClassID,
			filter.StudentID != 0 && enr.StudentID != filter.StudentID,
			!r.inScope(cl, filter.Scope):
			continue
		}

		st := r.students[enr.StudentID]
		base := GradeRow{
			StudentID:  st.ID,
			UserID:     st.UserID,
			FirstName:  st.FirstName,
			MiddleName: st.MiddleName,
			LastName:   st.LastName,
			ClassID:    cl.ID,
			GradeLevel: cl.GradeLevel,
			Section:    cl.Section,
		}

		var subjects []school.ClassSubject
		for _, cs := range r.classSubjects {
			if cs.ClassID == cl.ID && (filter.SubjectID == 0 || cs.SubjectID == filter.SubjectID) {
				subjects = append(subjects, cs)
			}
		}
		sort.Slice(subjects, func(i, j int) bool { return subjects[i].SubjectName < subjects[j].SubjectName })
		if len(subjects) == 0 {
			rows = append(rows, base)
			continue
		}

		for _, cs := range subjects {
			subjRow := base
			subjRow.SubjectID = null.Int64From(cs.SubjectID)
			subjRow.SubjectName = null.StringFrom(cs.SubjectName)

			graded := false
			for _, g := range r.grades {
				if g.StudentID != st.ID || g.ClassID != cl.ID || g.SubjectID != cs.SubjectID {
					continue
				}
				if filter.Quarter != 0 && g.Quarter != filter.Quarter {
					continue
				}
				gradeRow := subjRow
				gradeRow.Quarter = null.IntFrom(int(g.Quarter))
				gradeRow.Grade = null.Float64From(g.Grade)
				rows = append(rows, gradeRow)
				graded = true
			}
			if !graded {
				rows = append(rows, subjRow)
			}
		}
	}
	return rows, nil
}

func (r *fakeRepo) QueryQuarters(_ context.Context, schoolYearID int64, scope Scope) ([]Quarter, error) {
	r.calls++
	var quarters []Quarter
	for _, g := range r.grades {
		cl := r.classes[g.ClassID]
		if cl.SchoolYearID != schoolYearID || !r.inScope(cl, scope) {
			continue
		}
		if _, err := r.GetClassSubject(context.Background(), g.ClassID, g.SubjectID); err != nil {
			continue
		}
		if enrolled, _ := r.IsEnrolled(context.Background(), g.ClassID, g.StudentID); enrolled {
			quarters = append(quarters, g.Quarter)
		}
	}
	return quarters, nil
}

func (r *fakeRepo) unassign(classID, subjectID int64) {
	kept := r.classSubjects[:0]
	for _, cs := range r.classSubjects {
		if cs.ClassID != classID || cs.SubjectID != subjectID {
			kept = append(kept, cs)
		}
	}
	r.classSubjects = kept
}

func (r *fakeRepo) GetEnrollment(_ context.Context, userID, schoolYearID int64) (Enrollment, error) {
	r.calls++
	for _, st := range r.students {
		if !st.UserID.Valid || st.UserID.Int64 != userID {
			continue
		}
		for _, enr := range r.enrollments {
			cl := r.classes[enr.ClassID]
			if enr.StudentID != st.ID || cl.SchoolYearID != schoolYearID {
				continue
			}
			out := Enrollment{
				StudentID:    st.ID,
				UserID:       userID,
				FirstName:    st.FirstName,
				LastName:     st.LastName,
				ClassID:      cl.ID,
				GradeLevel:   cl.GradeLevel,
				Section:      cl.Section,
				SchoolYearID: schoolYearID,
				SchoolYear:   "2024-2025",
			}
			if email, ok := r.emails[userID]; ok {
				out.Email = null.StringFrom(email)
			}
			return out, nil
		}
	}
	return Enrollment{}, school.ErrEnrollmentNotFound
}

func (r *fakeRepo) GetClassSubject(_ context.Context, classID, subjectID int64) (school.ClassSubject, error) {
	r.calls++
	for _, cs := range r.classSubjects {
		if cs.ClassID == classID && cs.SubjectID == subjectID {
			return cs, nil
		}
	}
	return school.ClassSubject{}, school.ErrClassSubjectNotFound
}

func (r *fakeRepo) IsEnrolled(_ context.Context, classID, studentID int64) (bool, error) {
	r.calls++
	for _, enr := range r.enrollments {
		if enr.ClassID == classID && enr.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) GetTeacherByUserID(_ context.Context, userID int64) (school.Teacher, error) {
	r.calls++
	for _, tc := range r.teachers {
		if tc.UserID.Valid && tc.UserID.Int64 == userID {
			return tc, nil
		}
	}
	return school.Teacher{}, school.ErrTeacherNotFound
}

func (r *fakeRepo) UpsertGrade(_ context.Context, grade StudentGrade) (StudentGrade, error) {
	r.calls++
	for i, g := range r.grades {
		if g.StudentID == grade.StudentID && g.ClassID == grade.ClassID && g.SubjectID == grade.SubjectID && g.Quarter == grade.Quarter {
			grade.ID = g.ID
			r.grades[i] = grade
			return grade, nil
		}
	}
	grade.ID = int64(len(r.grades) + 1)
	r.grades = append(r.grades, grade)
	return grade, nil
}

// mailRecorder keeps the messages it is asked to send.
type mailRecorder struct {
	sent []*core.EmailMessage
}

func (m *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	m.sent = append(m.sent, messages...)
}

func newTestService(t *testing.T, repo Repository, mailSvc core.EmailService) Service {
	t.Helper()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	return NewService(repo, mailSvc, nil, validate, &core.Config{AppName: "Shule", FrontendBaseURL: "http://shule.test"})
}

func standingNames(standings []Standing) []string {
	names := make([]string, 0, len(standings))
	for _, st := range standings {
		names = append(names, st.FirstName)
	}
	return names
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "got %T: %v", err, err)
	require.NotEmpty(t, vErr.Fields)
	assert.Equal(t, field, vErr.Fields[0].Field)
}

func TestService_QuarterRanking(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		year      string
		quarter   Quarter
		scope     Scope
		want      []string
		wantAvgs  []Score
		wantField string
	}{
		{
			name:    "all grades",
			year:    "2024-2025",
			quarter: 1,
			scope:   AllGrades(),
			want:    []string{"Baraka", "Chausiku", "Dalila", "Amani", "Eshe"},
			wantAvgs: []Score{
				NewScore(85), NewScore(85), NewScore(82), NewScore(75), {},
			},
		},
		{
			name:    "grade level",
			year:    "2024-2025",
			quarter: 1,
			scope:   Grade("7"),
			want:    []string{"Baraka", "Chausiku", "Amani", "Eshe"},
		},
		{
			name:    "section",
			year:    " 2024-2025 ",
			quarter: 2,
			scope:   GradeSection("7", "A"),
			want:    []string{"Baraka", "Amani", "Eshe"},
			wantAvgs: []Score{
				NewScore(85), NewScore(78.5), {},
			},
		},
		{
			name:    "section filter without level is ignored",
			year:    "2024-2025",
			quarter: 1,
			scope:   ParseScope("All Grades", "A"),
			want:    []string{"Baraka", "Chausiku", "Dalila", "Amani", "Eshe"},
		},
		{
			name:    "no grades yet",
			year:    "2024-2025",
			quarter: 4,
			scope:   Grade("8"),
			want:    []string{"Dalila"},
		},
		{name: "missing school year", year: "  ", quarter: 1, wantField: "schoolYear"},
		{name: "invalid quarter", year: "2024-2025", quarter: 5, wantField: "quarter"},
		{name: "section scope without level", year: "2024-2025", quarter: 1, scope: GradeSection("", "A"), wantField: "section"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(t, repo, &mailRecorder{})

			standings, err := svc.QuarterRanking(ctx, tt.year, tt.quarter, tt.scope)
			if tt.wantField != "" {
				assertFieldError(t, err, tt.wantField)
				assert.Zero(t, repo.calls, "storage must not be queried")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, standingNames(standings))
			if tt.wantAvgs != nil {
				for i, st := range standings {
					assert.Equal(t, tt.wantAvgs[i], st.Average, st.FirstName)
				}
			}
		})
	}

	t.Run("unknown school year", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo(), &mailRecorder{})
		_, err := svc.QuarterRanking(ctx, "1999-2000", 1, AllGrades())
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_ClassFinalRanking(t *testing.T) {
	ctx := context.Background()

	t.Run("ranks the class", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo(), &mailRecorder{})
		ranked, err := svc.ClassFinalRanking(ctx, 1, "7", "A")
		require.NoError(t, err)
		require.Len(t, ranked, 3)

		assert.Equal(t, "Baraka", ranked[0].FirstName)
		assert.Equal(t, NewScore(85), ranked[0].Average)
		assert.Equal(t, null.IntFrom(1), ranked[0].Rank)

		// 80+85+90+95+70+72 over six grades
		assert.Equal(t, "Amani", ranked[1].FirstName)
		assert.Equal(t, NewScore(82), ranked[1].Average)
		assert.Equal(t, null.IntFrom(2), ranked[1].Rank)

		assert.Equal(t, "Eshe", ranked[2].FirstName)
		assert.False(t, ranked[2].Average.Valid)
		assert.False(t, ranked[2].Rank.Valid)
	})

	errTests := []struct {
		name         string
		schoolYearID int64
		level        string
		section      string
		wantField    string
	}{
		{name: "missing school year", level: "7", section: "A", wantField: "schoolYearId"},
		{name: "missing grade level", schoolYearID: 1, section: "A", wantField: "gradeLevel"},
		{name: "all grades sentinel", schoolYearID: 1, level: "All Grades", section: "A", wantField: "gradeLevel"},
		{name: "missing section", schoolYearID: 1, level: "7", wantField: "section"},
		{name: "all sections sentinel", schoolYearID: 1, level: "7", section: "all sections", wantField: "section"},
	}
	for _, tt := range errTests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(t, repo, &mailRecorder{})
			_, err := svc.ClassFinalRanking(ctx, tt.schoolYearID, tt.level, tt.section)
			assertFieldError(t, err, tt.wantField)
			assert.Zero(t, repo.calls, "storage must not be queried")
		})
	}

	t.Run("unknown class", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo(), &mailRecorder{})
		_, err := svc.ClassFinalRanking(ctx, 1, "9", "Z")
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("class without students", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo(), &mailRecorder{})
		ranked, err := svc.ClassFinalRanking(ctx, 1, "9", "A")
		require.NoError(t, err)
		assert.NotNil(t, ranked)
		assert.Empty(t, ranked)
	})

	t.Run("unknown school year", func(t *testing.T) {
		svc := newTestService(t, newFakeRepo(), &mailRecorder{})
		_, err := svc.ClassFinalRanking(ctx, 42, "7", "A")
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_CampusRanking(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo(), &mailRecorder{})

	ranked, err := svc.CampusRanking(ctx, 1, "final")
	require.NoError(t, err)

	names := make([]string, 0, len(ranked))
	ranks := make([]null.Int, 0, len(ranked))
	for _, rs := range ranked {
		names = append(names, rs.FirstName)
		ranks = append(ranks, rs.Rank)
	}
	assert.Equal(t, []string{"Baraka", "Chausiku", "Amani", "Dalila", "Eshe"}, names)
	assert.Equal(t, []null.Int{null.IntFrom(1), null.IntFrom(1), null.IntFrom(2), null.IntFrom(2), {}}, ranks)

	ranked, err = svc.CampusRanking(ctx, 1, "Q2")
	require.NoError(t, err)
	require.Len(t, ranked, 5)
	assert.Equal(t, "Baraka", ranked[0].FirstName)
	assert.Equal(t, NewScore(85), ranked[0].Average)
	// Dalila has no second quarter grade
	assert.Equal(t, "Amani", ranked[2].FirstName)
	assert.Equal(t, null.IntFrom(2), ranked[2].Rank)
	assert.False(t, ranked[3].Rank.Valid)

	_, err = svc.CampusRanking(ctx, 1, "5")
	assertFieldError(t, err, "quarter")

	_, err = svc.CampusRanking(ctx, 0, "final")
	assertFieldError(t, err, "schoolYearId")

	_, err = svc.CampusRanking(ctx, 42, "final")
	assert.True(t, core.IsNotFound(err))
}

func TestService_CheckQuarters(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo, &mailRecorder{})

	check, err := svc.CheckQuarters(ctx, 1, AllGrades())
	require.NoError(t, err)
	assert.True(t, check.AllQuartersComplete)
	assert.Equal(t, []int{1, 2, 3, 4}, check.CompletedQuarters)

	check, err = svc.CheckQuarters(ctx, 1, Grade("8"))
	require.NoError(t, err)
	assert.False(t, check.AllQuartersComplete)
	assert.Equal(t, []int{1}, check.CompletedQuarters)

	check, err = svc.CheckQuarters(ctx, 2, AllGrades())
	require.NoError(t, err)
	assert.False(t, check.AllQuartersComplete)
	assert.Equal(t, []int{}, check.CompletedQuarters)

	_, err = svc.CheckQuarters(ctx, 1, GradeSection("", "B"))
	assertFieldError(t, err, "section")

	t.Run("grades of an unassigned subject do not count", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(t, repo, &mailRecorder{})
		repo.unassign(12, 100)

		check, err := svc.CheckQuarters(ctx, 1, Grade("8"))
		require.NoError(t, err)
		assert.Equal(t, []int{}, check.CompletedQuarters)

		standings, err := svc.QuarterRanking(ctx, "2024-2025", 1, Grade("8"))
		require.NoError(t, err)
		require.Len(t, standings, 1)
		assert.False(t, standings[0].Average.Valid)
	})
}

func TestService_ReportCard(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo(), &mailRecorder{})

	card, err := svc.ReportCard(ctx, 21, 1)
	require.NoError(t, err)
	assert.Equal(t, "Amani Kabila", card.StudentName)
	assert.Equal(t, "7", card.GradeLevel)
	assert.Equal(t, "A", card.Section)
	require.Len(t, card.Subjects, 2)

	math, science := card.Subjects[0], card.Subjects[1]
	assert.Equal(t, "Math", math.Subject)
	assert.Equal(t, NewScore(87.5), math.Final)
	assert.Equal(t, RemarkPassed, math.Remark)

	assert.Equal(t, "Science", science.Subject)
	assert.Equal(t, NewScore(70), science.Quarter1)
	assert.Equal(t, NewScore(72), science.Quarter2)
	assert.False(t, science.Quarter3.Valid)
	assert.False(t, science.Final.Valid)
	assert.Equal(t, RemarkPending, science.Remark)

	assert.Equal(t, NewScore(87.5), card.OverallAverage)

	card, err = svc.ReportCard(ctx, 25, 1)
	require.NoError(t, err)
	assert.Len(t, card.Subjects, 2)
	assert.False(t, card.OverallAverage.Valid)

	_, err = svc.ReportCard(ctx, 26, 1)
	assert.True(t, core.IsNotFound(err), "student without enrollment")

	_, err = svc.ReportCard(ctx, 99, 1)
	assert.True(t, core.IsNotFound(err))

	_, err = svc.ReportCard(ctx, 21, 42)
	assert.True(t, core.IsNotFound(err))

	_, err = svc.ReportCard(ctx, 0, 1)
	assertFieldError(t, err, "userId")
}

func TestService_GradeSheet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo(), &mailRecorder{})

	sheet, err := svc.GradeSheet(ctx, "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, "2024-2025", sheet.SchoolYear)
	require.Len(t, sheet.Students, 5)

	baraka := sheet.Students[1]
	assert.Equal(t, "Baraka Mushi", baraka.StudentName)
	require.Len(t, baraka.Subjects, 2)
	assert.Equal(t, NewScore(80), baraka.Subjects[1].Final)
	assert.Equal(t, RemarkPassed, baraka.Subjects[1].Remark)

	dalila := sheet.Students[3]
	assert.Equal(t, "8", dalila.GradeLevel)
	require.Len(t, dalila.Subjects, 1)
	assert.Equal(t, NewScore(82), dalila.Subjects[0].Quarter1)
	assert.Equal(t, RemarkPending, dalila.Subjects[0].Remark)

	sheet, err = svc.GradeSheet(ctx, "2023-2024")
	require.NoError(t, err)
	assert.Empty(t, sheet.Students)

	_, err = svc.GradeSheet(ctx, "1999-2000")
	assert.True(t, core.IsNotFound(err))

	_, err = svc.GradeSheet(ctx, "")
	assertFieldError(t, err, "schoolYear")
}

func TestService_RecordGrade(t *testing.T) {
	ctx := context.Background()
	admin := user.User{ID: 1, Roles: []string{user.RoleAdmin}}
	mathTeacher := user.User{ID: 31, Roles: []string{user.RoleTeacher}}
	student := user.User{ID: 21, Roles: []string{user.RoleStudent}}
	grade := func(g float64) *float64 { return &g }

	tests := []struct {
		name       string
		actor      user.User
		ng         NewGrade
		wantGrade  float64
		wantErr    bool
		permission bool
		notFound   bool
		wantField  string
	}{
		{
			name:      "subject teacher",
			actor:     mathTeacher,
			ng:        NewGrade{StudentID: 5, ClassID: 10, SubjectID: 100, Quarter: 1, Grade: grade(88.456)},
			wantGrade: 88.46,
		},
		{
			name:      "admin replaces grade",
			actor:     admin,
			ng:        NewGrade{StudentID: 1, ClassID: 10, SubjectID: 101, Quarter: 2, Grade: grade(0)},
			wantGrade: 0,
		},
		{
			name:       "other subject",
			actor:      mathTeacher,
			ng:         NewGrade{StudentID: 1, ClassID: 10, SubjectID: 101, Quarter: 3, Grade: grade(80)},
			wantErr:    true,
			permission: true,
		},
		{
			name:       "student",
			actor:      student,
			ng:         NewGrade{StudentID: 1, ClassID: 10, SubjectID: 100, Quarter: 1, Grade: grade(100)},
			wantErr:    true,
			permission: true,
		},
		{
			name:      "not enrolled",
			actor:     admin,
			ng:        NewGrade{StudentID: 3, ClassID: 10, SubjectID: 100, Quarter: 1, Grade: grade(80)},
			wantErr:   true,
			wantField: "studentId",
		},
		{
			name:     "subject not taught in class",
			actor:    admin,
			ng:       NewGrade{StudentID: 3, ClassID: 11, SubjectID: 101, Quarter: 1, Grade: grade(80)},
			wantErr:  true,
			notFound: true,
		},
		{
			name:    "invalid quarter",
			actor:   admin,
			ng:      NewGrade{StudentID: 1, ClassID: 10, SubjectID: 100, Quarter: 5, Grade: grade(80)},
			wantErr: true,
		},
		{
			name:    "out of range",
			actor:   admin,
			ng:      NewGrade{StudentID: 1, ClassID: 10, SubjectID: 100, Quarter: 1, Grade: grade(100.5)},
			wantErr: true,
		},
		{
			name:    "missing grade",
			actor:   admin,
			ng:      NewGrade{StudentID: 1, ClassID: 10, SubjectID: 100, Quarter: 1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(t, repo, &mailRecorder{})
			nGrades := len(repo.grades)

			got, err := svc.RecordGrade(ctx, tt.actor, tt.ng)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.wantGrade, got.Grade)
				assert.NotZero(t, got.ID)
				return
			}

			require.Error(t, err)
			switch {
			case tt.permission:
				assert.True(t, core.IsPermissionDenied(err))
			case tt.notFound:
				assert.True(t, core.IsNotFound(err))
			case tt.wantField != "":
				assertFieldError(t, err, tt.wantField)
			default:
				_, ok := err.(validator.ValidationErrors)
				assert.True(t, ok, "got %T", err)
			}
			assert.Len(t, repo.grades, nGrades)
		})
	}

	t.Run("upsert keeps one grade per quarter", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(t, repo, &mailRecorder{})
		nGrades := len(repo.grades)

		got, err := svc.RecordGrade(ctx, admin, NewGrade{StudentID: 1, ClassID: 10, SubjectID: 101, Quarter: 3, Grade: grade(74)})
		require.NoError(t, err)
		_, err = svc.RecordGrade(ctx, admin, NewGrade{StudentID: 1, ClassID: 10, SubjectID: 101, Quarter: 3, Grade: grade(76)})
		require.NoError(t, err)
		assert.Len(t, repo.grades, nGrades+1)
		assert.Equal(t, 76.0, repo.grades[got.ID-1].Grade)
	})
}

func TestService_ClassSubjectGrades(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo(), &mailRecorder{})

	sheet, err := svc.ClassSubjectGrades(ctx, 10, 101)
	require.NoError(t, err)
	assert.Equal(t, "Science", sheet.Subject)
	require.Len(t, sheet.Students, 3)
	for _, st := range sheet.Students {
		require.Len(t, st.Subjects, 1, st.StudentName)
		assert.Equal(t, int64(101), st.Subjects[0].SubjectID)
	}
	assert.Equal(t, NewScore(80), sheet.Students[1].Subjects[0].Final)
	assert.False(t, sheet.Students[2].Subjects[0].Quarter1.Valid)

	_, err = svc.ClassSubjectGrades(ctx, 11, 101)
	assert.True(t, core.IsNotFound(err))
}

func TestService_EmailReportCard(t *testing.T) {
	ctx := context.Background()
	mailer := &mailRecorder{}
	svc := newTestService(t, newFakeRepo(), mailer)

	card, err := svc.EmailReportCard(ctx, 21, 1)
	require.NoError(t, err)
	assert.Equal(t, NewScore(87.5), card.OverallAverage)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "report_card", msg.TemplateName)
	assert.Equal(t, "Report card 2024-2025", msg.Subject)
	require.Len(t, msg.To, 1)
	assert.Equal(t, "amani@shule.test", msg.To[0].Address)
	assert.Equal(t, card, msg.TemplateData)

	// Eshe has an account without an email address
	_, err = svc.EmailReportCard(ctx, 25, 1)
	require.Error(t, err)
	_, ok := err.(*core.ValidationError)
	assert.True(t, ok, "got %T", err)
	assert.Len(t, mailer.sent, 1)

	t.Run("with attachment", func(t *testing.T) {
		mailer := &mailRecorder{}
		svc := NewService(newFakeRepo(), mailer, exporterStub{}, validator.New(), &core.Config{})

		_, err := svc.EmailReportCard(ctx, 21, 1)
		require.NoError(t, err)
		require.Len(t, mailer.sent, 1)
		require.Len(t, mailer.sent[0].Attachments, 1)
		at := mailer.sent[0].Attachments[0]
		assert.Equal(t, "card-1.txt", at.Filename)
		assert.Equal(t, "text/plain", at.ContentType)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("Amani Kabila 87.50")), at.Content.String())
	})

	t.Run("export failure", func(t *testing.T) {
		mailer := &mailRecorder{}
		svc := NewService(newFakeRepo(), mailer, exporterStub{err: errors.New("disk full")}, validator.New(), &core.Config{})

		_, err := svc.EmailReportCard(ctx, 21, 1)
		require.Error(t, err)
		assert.Empty(t, mailer.sent)
	})
}

type exporterStub struct {
	err error
}

func (e exporterStub) ExportReportCard(w io.Writer, card ReportCard) (string, string, error) {
	if e.err != nil {
		return "", "", e.err
	}
	_, err := fmt.Fprintf(w, "%s %s", card.StudentName, card.OverallAverage)
	return fmt.Sprintf("card-%d.txt", card.StudentID), "text/plain", err
}
