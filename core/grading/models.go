package grading

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// Quarter is one of the four grading periods of a school year. The zero value means "every quarter".
type Quarter int

const (
	NumQuarters = 4

	// PeriodFinal selects every quarter of the year in the campus ranking.
	PeriodFinal = "final"
)

func (q Quarter) Valid() bool { return q >= 1 && q <= NumQuarters }

// ParseQuarter parses "1".."4". "Q2" and "quarter 2" forms are accepted as well.
func ParseQuarter(s string) (Quarter, error) {
	s = strings.ToLower(core.CleanString(s))
	s = strings.TrimPrefix(s, "quarter")
	s = strings.TrimPrefix(s, "q")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Quarter(n).Valid() {
		return 0, errors.Errorf("invalid quarter %q", s)
	}
	return Quarter(n), nil
}

// ScopeKind tags the variant held by a Scope.
type ScopeKind int

const (
	ScopeAllGrades    ScopeKind = iota // every class of the school year
	ScopeGrade                         // every section of one grade level
	ScopeGradeSection                  // a single class
)

// Scope narrows a query to the whole school, one grade level or one section of a grade level.
// A section is only meaningful under its grade level.
type Scope struct {
	kind    ScopeKind
	level   string
	section string
}

// AllGrades returns the scope covering the whole school year.
func AllGrades() Scope { return Scope{kind: ScopeAllGrades} }

// Grade returns the scope covering every section of a grade level.
func Grade(level string) Scope { return Scope{kind: ScopeGrade, level: level} }

// GradeSection returns the scope of the class identified by its grade level and section.
func GradeSection(level, section string) Scope {
	return Scope{kind: ScopeGradeSection, level: level, section: section}
}

// Kind returns the variant of the scope.
func (s Scope) Kind() ScopeKind { return s.kind }

// Level returns the grade level, empty for AllGrades.
func (s Scope) Level() string { return s.level }

// Section returns the section, empty unless the scope is a GradeSection.
func (s Scope) Section() string { return s.section }

// HasLevel reports whether queries must filter on the grade level.
func (s Scope) HasLevel() bool { return s.kind != ScopeAllGrades }

// HasSection reports whether queries must also filter on the section.
func (s Scope) HasSection() bool { return s.kind == ScopeGradeSection }

// Validate rejects a section scope without its grade level.
func (s Scope) Validate() error {
	switch s.kind {
	case ScopeAllGrades:
		return nil
	case ScopeGrade:
		if s.level == "" {
			return errMissingGradeLevel
		}
		return nil
	case ScopeGradeSection:
		if s.level == "" {
			return errSectionWithoutLevel
		}
		if s.section == "" {
			return errMissingSection
		}
		return nil
	}
	return errors.Errorf("unknown scope kind %d", s.kind)
}

func (s Scope) String() string {
	switch s.kind {
	case ScopeGrade:
		return "grade " + s.level
	case ScopeGradeSection:
		return "grade " + s.level + " section " + s.section
	}
	return "all grades"
}

// ParseScope builds a Scope from optional grade level and section filters.
// Empty values and "all" sentinels ("All Grades", "All Sections") mean absent; a section
// without a grade level is ignored.
func ParseScope(level, section string) Scope {
	level, section = cleanFilter(level), cleanFilter(section)
	switch {
	case level == "":
		return AllGrades()
	case section == "":
		return Grade(level)
	}
	return GradeSection(level, section)
}

func cleanFilter(s string) string {
	if core.IsAllSentinel(s) {
		return ""
	}
	return core.CleanString(s)
}

// Score is a nullable grade or average. It is encoded in JSON with two decimals, or null.
type Score struct {
	null.Float64
}

func NewScore(f float64) Score { return Score{null.Float64From(f)} }

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(s.Float64.Float64, 'f', 2, 64)), nil
}

func (s Score) String() string {
	if !s.Valid {
		return ""
	}
	return strconv.FormatFloat(s.Float64.Float64, 'f', 2, 64)
}

// Remarks
const (
	RemarkPassed  = "Passed"
	RemarkFailed  = "Failed"
	RemarkPending = "Pending"

	PassingGrade = 75.0
)

// GradeRow is one row of the enrollment x class subject x grade join. Subject and grade columns
// are null when the class has no subject or the student has no grade for it.
type GradeRow struct {
	StudentID   int64        `db:"student_id"`
	UserID      null.Int64   `db:"user_id"`
	FirstName   string       `db:"first_name"`
	MiddleName  string       `db:"middle_name"`
	LastName    string       `db:"last_name"`
	ClassID     int64        `db:"class_id"`
	GradeLevel  string       `db:"grade_level"`
	Section     string       `db:"section"`
	SubjectID   null.Int64   `db:"subject_id"`
	SubjectName null.String  `db:"subject_name"`
	Quarter     null.Int     `db:"quarter"`
	Grade       null.Float64 `db:"grade"`
}

// RowFilter selects the GradeRows of a query. Zero values mean "any".
type RowFilter struct {
	SchoolYearID int64
	Quarter      Quarter
	Scope        Scope
	StudentID    int64
	ClassID      int64
	SubjectID    int64
}

// Standing is a student's average over a set of grade rows.
type Standing struct {
	StudentID  int64  `json:"studentId"`
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName"`
	ClassID    int64  `json:"classId"`
	GradeLevel string `json:"gradeLevel"`
	Section    string `json:"section"`
	Average    Score  `json:"average"`
}

// RankedStanding is a Standing with its dense rank; students without an average have no rank.
type RankedStanding struct {
	Standing
	Rank null.Int `json:"rank"`
}

type QuarterCheck struct {
	AllQuartersComplete bool  `json:"allQuartersComplete"`
	CompletedQuarters   []int `json:"completedQuarters"`
}

// SubjectGrades holds the quarter grades of one subject and what derives from them.
type SubjectGrades struct {
	SubjectID int64  `json:"subjectId"`
	Subject   string `json:"subject"`
	Quarter1  Score  `json:"quarter1"`
	Quarter2  Score  `json:"quarter2"`
	Quarter3  Score  `json:"quarter3"`
	Quarter4  Score  `json:"quarter4"`
	Final     Score  `json:"final"`
	Remark    string `json:"remark"`
}

// Quarters returns the quarter grades in order.
func (sg SubjectGrades) Quarters() QuarterGrades {
	return QuarterGrades{sg.Quarter1, sg.Quarter2, sg.Quarter3, sg.Quarter4}
}

func (sg *SubjectGrades) set(q Quarter, grade Score) {
	switch q {
	case 1:
		sg.Quarter1 = grade
	case 2:
		sg.Quarter2 = grade
	case 3:
		sg.Quarter3 = grade
	case 4:
		sg.Quarter4 = grade
	}
}

// complete fills Final and Remark from the quarter grades.
func (sg *SubjectGrades) complete() {
	sg.Final = FinalGrade(sg.Quarters())
	sg.Remark = Remark(sg.Final)
}

type ReportCard struct {
	StudentID      int64           `json:"studentId"`
	StudentName    string          `json:"studentName"`
	SchoolYearID   int64           `json:"schoolYearId"`
	SchoolYear     string          `json:"schoolYear"`
	ClassID        int64           `json:"classId"`
	GradeLevel     string          `json:"gradeLevel"`
	Section        string          `json:"section"`
	Subjects       []SubjectGrades `json:"subjects"`
	OverallAverage Score           `json:"overallAverage"`
}

// StudentGrades groups the subject grades of one student.
type StudentGrades struct {
	StudentID   int64           `json:"studentId"`
	StudentName string          `json:"studentName"`
	ClassID     int64           `json:"classId"`
	GradeLevel  string          `json:"gradeLevel"`
	Section     string          `json:"section"`
	Subjects    []SubjectGrades `json:"subjects"`
}

type GradeSheet struct {
	SchoolYear string          `json:"schoolYear"`
	Students   []StudentGrades `json:"students"`
}

// ClassSubjectSheet lists the grades of every enrolled student in one class subject.
type ClassSubjectSheet struct {
	ClassID   int64           `json:"classId"`
	SubjectID int64           `json:"subjectId"`
	Subject   string          `json:"subject"`
	Students  []StudentGrades `json:"students"`
}

// StudentGrade is a recorded quarter grade.
type StudentGrade struct {
	ID        int64   `json:"id" db:"id"`
	StudentID int64   `json:"studentId" db:"student_id"`
	ClassID   int64   `json:"classId" db:"class_id"`
	SubjectID int64   `json:"subjectId" db:"subject_id"`
	Quarter   Quarter `json:"quarter" db:"quarter"`
	Grade     float64 `json:"grade" db:"grade"`
}

// NewGrade records or replaces the grade of a student for one quarter of a class subject.
type NewGrade struct {
	StudentID int64    `json:"studentId" validate:"required"`
	ClassID   int64    `json:"classId" validate:"required"`
	SubjectID int64    `json:"subjectId" validate:"required"`
	Quarter   Quarter  `json:"quarter" validate:"required,quarter"`
	Grade     *float64 `json:"grade" validate:"required,min=0,max=100"`
}

// Enrollment resolves a student account to its class for a school year.
type Enrollment struct {
	StudentID    int64       `db:"student_id"`
	UserID       int64       `db:"user_id"`
	FirstName    string      `db:"first_name"`
	MiddleName   string      `db:"middle_name"`
	LastName     string      `db:"last_name"`
	Email        null.String `db:"email"`
	ClassID      int64       `db:"class_id"`
	GradeLevel   string      `db:"grade_level"`
	Section      string      `db:"section"`
	SchoolYearID int64       `db:"school_year_id"`
	SchoolYear   string      `db:"school_year"`
}
