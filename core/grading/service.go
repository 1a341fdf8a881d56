package grading

import (
	"bytes"
	"context"
	"io"
	"net/mail"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	errMissingSchoolYear   = requiredField("schoolYear")
	errMissingSchoolYearID = requiredField("schoolYearId")
	errMissingUserID       = requiredField("userId")
	errMissingGradeLevel   = requiredField("gradeLevel")
	errMissingSection      = requiredField("section")
	errSectionWithoutLevel = core.NewValidationError(nil, core.FieldError{Field: "section", Error: "a section filter requires a grade level"})
	errInvalidQuarter      = core.NewValidationError(nil, core.FieldError{Field: "quarter", Error: "quarter must be 1, 2, 3 or 4"})
	errInvalidPeriod       = core.NewValidationError(nil, core.FieldError{Field: "quarter", Error: "quarter must be 1, 2, 3, 4 or final"})
	errNotEnrolled         = core.NewValidationError(nil, core.FieldError{Field: "studentId", Error: "student is not enrolled in this class"})
	errNoEmail             = core.NewValidationError(errors.New("student has no email address"))
	errNotSubjectTeacher   = core.NewPermissionError("only the teacher of this subject may grade it")

	reportCardTmpl = "report_card"
)

func requiredField(field string) error {
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: "this field is required"})
}

type (
	// Repository provides the rows the engine aggregates. Lookups return the school package's
	// not-found errors.
	Repository interface {
		GetSchoolYear(ctx context.Context, id int64) (school.SchoolYear, error)
		GetSchoolYearByLabel(ctx context.Context, label string) (school.SchoolYear, error)
		// GetClassByScope finds the class of a grade level section in a school year.
		GetClassByScope(ctx context.Context, schoolYearID int64, gradeLevel, section string) (school.Class, error)
		// QueryGradeRows joins enrollments, class subjects and grades. Every enrolled student of the
		// filter has at least one row; the quarter filter only restricts which grades are joined.
		// Rows are ordered by student name, then subject name, then quarter.
		QueryGradeRows(ctx context.Context, filter RowFilter) ([]GradeRow, error)
		// QueryQuarters returns the distinct quarters having at least one grade in scope. Only grades
		// QueryGradeRows would return count: enrolled students in subjects still assigned to their class.
		QueryQuarters(ctx context.Context, schoolYearID int64, scope Scope) ([]Quarter, error)
		// GetEnrollment resolves the student of a user and their class for a school year.
		GetEnrollment(ctx context.Context, userID, schoolYearID int64) (Enrollment, error)
		GetClassSubject(ctx context.Context, classID, subjectID int64) (school.ClassSubject, error)
		IsEnrolled(ctx context.Context, classID, studentID int64) (bool, error)
		GetTeacherByUserID(ctx context.Context, userID int64) (school.Teacher, error)
		UpsertGrade(ctx context.Context, grade StudentGrade) (StudentGrade, error)
	}

	Service interface {
		// QuarterRanking averages every grade of the quarter per student and orders them by
		// descending average.
		QuarterRanking(ctx context.Context, schoolYear string, quarter Quarter, scope Scope) ([]Standing, error)
		// ClassFinalRanking averages every quarter grade per student of one class and dense ranks them.
		ClassFinalRanking(ctx context.Context, schoolYearID int64, gradeLevel, section string) ([]RankedStanding, error)
		// CampusRanking ranks every student of the year on one quarter or, for "final", on all of them.
		CampusRanking(ctx context.Context, schoolYearID int64, period string) ([]RankedStanding, error)
		CheckQuarters(ctx context.Context, schoolYearID int64, scope Scope) (QuarterCheck, error)
		ReportCard(ctx context.Context, userID, schoolYearID int64) (ReportCard, error)
		GradeSheet(ctx context.Context, schoolYear string) (GradeSheet, error)
		RecordGrade(ctx context.Context, actor user.User, ng NewGrade) (StudentGrade, error)
		ClassSubjectGrades(ctx context.Context, classID, subjectID int64) (ClassSubjectSheet, error)
		EmailReportCard(ctx context.Context, userID, schoolYearID int64) (ReportCard, error)
	}

	// ReportCardExporter renders the file attached to a report card email.
	ReportCardExporter interface {
		ExportReportCard(w io.Writer, card ReportCard) (filename, contentType string, err error)
	}

	service struct {
		repo     Repository
		mailSvc  core.EmailService
		exporter ReportCardExporter
		validate *validator.Validate
		conf     *core.Config
	}
)

var _ Service = (*service)(nil)

// NewService builds the grading service. exporter may be nil, report cards are then emailed without attachment.
func NewService(repo Repository, mailSvc core.EmailService, exporter ReportCardExporter, validate *validator.Validate, conf *core.Config) Service {
	return &service{
		repo:     repo,
		mailSvc:  mailSvc,
		exporter: exporter,
		validate: validate,
		conf:     conf,
	}
}

func (svc *service) QuarterRanking(ctx context.Context, schoolYear string, quarter Quarter, scope Scope) ([]Standing, error) {
	schoolYear = core.CleanString(schoolYear)
	if schoolYear == "" {
		return nil, errMissingSchoolYear
	}
	if !quarter.Valid() {
		return nil, errInvalidQuarter
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sy, err := svc.repo.GetSchoolYearByLabel(ctx, schoolYear)
	if err != nil {
		return nil, errors.Wrap(err, "finding school year by label")
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{SchoolYearID: sy.ID, Quarter: quarter, Scope: scope})
	if err != nil {
		return nil, errors.Wrap(err, "querying grade rows")
	}
	standings := Standings(rows)
	SortStandings(standings)
	return standings, nil
}

func (svc *service) ClassFinalRanking(ctx context.Context, schoolYearID int64, gradeLevel, section string) ([]RankedStanding, error) {
	if schoolYearID <= 0 {
		return nil, errMissingSchoolYearID
	}
	gradeLevel, section = cleanFilter(gradeLevel), cleanFilter(section)
	if gradeLevel == "" {
		return nil, errMissingGradeLevel
	}
	if section == "" {
		return nil, errMissingSection
	}
	scope := GradeSection(gradeLevel, section)

	if _, err := svc.repo.GetSchoolYear(ctx, schoolYearID); err != nil {
		return nil, errors.Wrap(err, "finding school year")
	}
	cl, err := svc.repo.GetClassByScope(ctx, schoolYearID, gradeLevel, section)
	if err != nil {
		return nil, errors.Wrap(err, scope.String())
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{SchoolYearID: schoolYearID, ClassID: cl.ID})
	if err != nil {
		return nil, errors.Wrap(err, "querying grade rows")
	}
	return DenseRank(Standings(rows)), nil
}

func (svc *service) CampusRanking(ctx context.Context, schoolYearID int64, period string) ([]RankedStanding, error) {
	if schoolYearID <= 0 {
		return nil, errMissingSchoolYearID
	}
	quarter, err := parsePeriod(period)
	if err != nil {
		return nil, err
	}

	if _, err := svc.repo.GetSchoolYear(ctx, schoolYearID); err != nil {
		return nil, errors.Wrap(err, "finding school year")
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{SchoolYearID: schoolYearID, Quarter: quarter, Scope: AllGrades()})
	if err != nil {
		return nil, errors.Wrap(err, "querying grade rows")
	}
	return DenseRank(Standings(rows)), nil
}

// parsePeriod maps "final" (or nothing) to every quarter, else to the requested quarter.
func parsePeriod(period string) (Quarter, error) {
	period = strings.ToLower(core.CleanString(period))
	if period == "" || period == PeriodFinal {
		return 0, nil
	}
	q, err := ParseQuarter(period)
	if err != nil {
		return 0, errInvalidPeriod
	}
	return q, nil
}

func (svc *service) CheckQuarters(ctx context.Context, schoolYearID int64, scope Scope) (QuarterCheck, error) {
	if schoolYearID <= 0 {
		return QuarterCheck{}, errMissingSchoolYearID
	}
	if err := scope.Validate(); err != nil {
		return QuarterCheck{}, err
	}

	if _, err := svc.repo.GetSchoolYear(ctx, schoolYearID); err != nil {
		return QuarterCheck{}, errors.Wrap(err, "finding school year")
	}

	quarters, err := svc.repo.QueryQuarters(ctx, schoolYearID, scope)
	if err != nil {
		return QuarterCheck{}, errors.Wrap(err, "querying quarters")
	}

	seen := make(map[Quarter]bool, NumQuarters)
	completed := make([]int, 0, NumQuarters)
	for _, q := range quarters {
		if q.Valid() && !seen[q] {
			seen[q] = true
			completed = append(completed, int(q))
		}
	}
	sort.Ints(completed)
	return QuarterCheck{
		AllQuartersComplete: len(completed) == NumQuarters,
		CompletedQuarters:   completed,
	}, nil
}

func (svc *service) ReportCard(ctx context.Context, userID, schoolYearID int64) (ReportCard, error) {
	card, _, err := svc.reportCard(ctx, userID, schoolYearID)
	return card, err
}

func (svc *service) reportCard(ctx context.Context, userID, schoolYearID int64) (ReportCard, Enrollment, error) {
	if userID <= 0 {
		return ReportCard{}, Enrollment{}, errMissingUserID
	}
	if schoolYearID <= 0 {
		return ReportCard{}, Enrollment{}, errMissingSchoolYearID
	}

	if _, err := svc.repo.GetSchoolYear(ctx, schoolYearID); err != nil {
		return ReportCard{}, Enrollment{}, errors.Wrap(err, "finding school year")
	}
	enr, err := svc.repo.GetEnrollment(ctx, userID, schoolYearID)
	if err != nil {
		return ReportCard{}, Enrollment{}, errors.Wrap(err, "finding enrollment")
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{
		SchoolYearID: schoolYearID,
		StudentID:    enr.StudentID,
		ClassID:      enr.ClassID,
	})
	if err != nil {
		return ReportCard{}, Enrollment{}, errors.Wrap(err, "querying grade rows")
	}

	card := ReportCard{
		StudentID:    enr.StudentID,
		StudentName:  school.PersonName{FirstName: enr.FirstName, MiddleName: enr.MiddleName, LastName: enr.LastName}.FullName(),
		SchoolYearID: enr.SchoolYearID,
		SchoolYear:   enr.SchoolYear,
		ClassID:      enr.ClassID,
		GradeLevel:   enr.GradeLevel,
		Section:      enr.Section,
		Subjects:     []SubjectGrades{},
	}
	if grouped := GroupByStudent(rows); len(grouped) > 0 {
		card.Subjects = grouped[0].Subjects
	}
	card.OverallAverage = OverallAverage(card.Subjects)
	return card, enr, nil
}

func (svc *service) GradeSheet(ctx context.Context, schoolYear string) (GradeSheet, error) {
	schoolYear = core.CleanString(schoolYear)
	if schoolYear == "" {
		return GradeSheet{}, errMissingSchoolYear
	}

	sy, err := svc.repo.GetSchoolYearByLabel(ctx, schoolYear)
	if err != nil {
		return GradeSheet{}, errors.Wrap(err, "finding school year by label")
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{SchoolYearID: sy.ID})
	if err != nil {
		return GradeSheet{}, errors.Wrap(err, "querying grade rows")
	}
	return GradeSheet{SchoolYear: sy.Label, Students: GroupByStudent(rows)}, nil
}

func (svc *service) RecordGrade(ctx context.Context, actor user.User, ng NewGrade) (StudentGrade, error) {
	if err := svc.validate.Struct(ng); err != nil {
		return StudentGrade{}, err
	}

	cs, err := svc.repo.GetClassSubject(ctx, ng.ClassID, ng.SubjectID)
	if err != nil {
		return StudentGrade{}, errors.Wrap(err, "finding class subject")
	}

	if !actor.IsAdmin() {
		if !actor.IsTeacher() {
			return StudentGrade{}, errNotSubjectTeacher
		}
		tc, err := svc.repo.GetTeacherByUserID(ctx, actor.ID)
		if err != nil {
			if core.IsNotFound(err) {
				return StudentGrade{}, errNotSubjectTeacher
			}
			return StudentGrade{}, errors.Wrap(err, "finding teacher by user ID")
		}
		if !cs.TeacherID.Valid || cs.TeacherID.Int64 != tc.ID {
			return StudentGrade{}, errNotSubjectTeacher
		}
	}

	enrolled, err := svc.repo.IsEnrolled(ctx, ng.ClassID, ng.StudentID)
	if err != nil {
		return StudentGrade{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return StudentGrade{}, errNotEnrolled
	}

	grade, err := svc.repo.UpsertGrade(ctx, StudentGrade{
		StudentID: ng.StudentID,
		ClassID:   ng.ClassID,
		SubjectID: ng.SubjectID,
		Quarter:   ng.Quarter,
		Grade:     Round2(*ng.Grade),
	})
	if err != nil {
		return StudentGrade{}, errors.Wrap(err, "upserting grade")
	}
	return grade, nil
}

func (svc *service) ClassSubjectGrades(ctx context.Context, classID, subjectID int64) (ClassSubjectSheet, error) {
	cs, err := svc.repo.GetClassSubject(ctx, classID, subjectID)
	if err != nil {
		return ClassSubjectSheet{}, errors.Wrap(err, "finding class subject")
	}

	rows, err := svc.repo.QueryGradeRows(ctx, RowFilter{ClassID: classID, SubjectID: subjectID})
	if err != nil {
		return ClassSubjectSheet{}, errors.Wrap(err, "querying grade rows")
	}
	return ClassSubjectSheet{
		ClassID:   cs.ClassID,
		SubjectID: cs.SubjectID,
		Subject:   cs.SubjectName,
		Students:  GroupByStudent(rows),
	}, nil
}

func (svc *service) EmailReportCard(ctx context.Context, userID, schoolYearID int64) (ReportCard, error) {
	card, enr, err := svc.reportCard(ctx, userID, schoolYearID)
	if err != nil {
		return ReportCard{}, err
	}
	if !enr.Email.Valid || enr.Email.String == "" {
		return ReportCard{}, errNoEmail
	}

	msg := core.NewEmailMessage(
		svc.conf,
		reportCardTmpl,
		"Report card "+card.SchoolYear,
		card,
		mail.Address{Name: card.StudentName, Address: enr.Email.String},
	)
	if svc.exporter != nil {
		var buf bytes.Buffer
		filename, contentType, err := svc.exporter.ExportReportCard(&buf, card)
		if err != nil {
			return ReportCard{}, errors.Wrap(err, "exporting report card")
		}
		if err := msg.Attach(&buf, filename, contentType); err != nil {
			return ReportCard{}, errors.Wrap(err, "attaching report card")
		}
	}
	svc.mailSvc.SendMessages(msg)
	return card, nil
}
