package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	testutil "github.com/trezcool/shule/testutil"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// testApp is a Server backed by an in-memory user repository.
type testApp struct {
	*Server
	conf    *core.Config
	usrRepo user.Repository
	mailSvc *emailsvc.ConsoleServiceMock

	admin   user.User
	teacher user.User
	student user.User
}

func newTestApp(t *testing.T, schoolSvc school.Service, gradingSvc grading.Service) *testApp {
	t.Helper()

	conf := core.NewTestConfig()
	conf.StaticDir = ""

	validate := validator.New()
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, nopLogger{})
	mailSvc := emailsvc.NewConsoleServiceMock(conf, nopLogger{})

	usrRepo := inmemdb.NewUserRepository(inmemdb.Open())
	if schoolSvc == nil {
		schoolSvc = &schoolSvcStub{}
	}
	if gradingSvc == nil {
		gradingSvc = &gradingSvcStub{}
	}

	app := &testApp{
		Server: NewServer(ServerDeps{
			Conf:       conf,
			Logger:     nopLogger{},
			UserSvc:    user.NewService(usrRepo, mailSvc, conf),
			SchoolSvc:  schoolSvc,
			GradingSvc: gradingSvc,
			Validate:   validate,
			Translator: translator,
		}),
		conf:    conf,
		usrRepo: usrRepo,
		mailSvc: mailSvc,
	}
	app.admin = testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@shule.test", "Pwd.123!", []string{user.RoleAdmin}, true)
	app.teacher = testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@shule.test", "Pwd.123!", []string{user.RoleTeacher}, true)
	app.student = testutil.CreateUser(t, usrRepo, "Student", "student", "student@shule.test", "Pwd.123!", []string{user.RoleStudent}, true)
	return app
}

// run serves every test of the table and checks the response code and body.
func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := GetUserClaims(conf, usr)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// Stubs. Methods without a func panic, like the embedded nil interface would.

type schoolSvcStub struct {
	school.Service

	querySchoolYears func(ctx context.Context) ([]school.SchoolYear, error)
	createStudent    func(ctx context.Context, in school.StudentInput) (school.Student, error)
	getClass         func(ctx context.Context, id int64) (school.Class, error)
	enroll           func(ctx context.Context, classID int64, in school.EnrollmentInput) (school.Enrollment, error)
	unassign         func(ctx context.Context, classID, subjectID int64) error
}

func (s *schoolSvcStub) QuerySchoolYears(ctx context.Context) ([]school.SchoolYear, error) {
	return s.querySchoolYears(ctx)
}

func (s *schoolSvcStub) CreateStudent(ctx context.Context, in school.StudentInput) (school.Student, error) {
	return s.createStudent(ctx, in)
}

func (s *schoolSvcStub) GetClass(ctx context.Context, id int64) (school.Class, error) {
	return s.getClass(ctx, id)
}

func (s *schoolSvcStub) Enroll(ctx context.Context, classID int64, in school.EnrollmentInput) (school.Enrollment, error) {
	return s.enroll(ctx, classID, in)
}

func (s *schoolSvcStub) UnassignClassSubject(ctx context.Context, classID, subjectID int64) error {
	return s.unassign(ctx, classID, subjectID)
}

type gradingSvcStub struct {
	grading.Service

	quarterRanking     func(ctx context.Context, schoolYear string, quarter grading.Quarter, scope grading.Scope) ([]grading.Standing, error)
	campusRanking      func(ctx context.Context, schoolYearID int64, period string) ([]grading.RankedStanding, error)
	reportCard         func(ctx context.Context, userID, schoolYearID int64) (grading.ReportCard, error)
	emailReportCard    func(ctx context.Context, userID, schoolYearID int64) (grading.ReportCard, error)
	gradeSheet         func(ctx context.Context, schoolYear string) (grading.GradeSheet, error)
	recordGrade        func(ctx context.Context, actor user.User, ng grading.NewGrade) (grading.StudentGrade, error)
	classSubjectGrades func(ctx context.Context, classID, subjectID int64) (grading.ClassSubjectSheet, error)
}

func (s *gradingSvcStub) QuarterRanking(ctx context.Context, schoolYear string, quarter grading.Quarter, scope grading.Scope) ([]grading.Standing, error) {
	return s.quarterRanking(ctx, schoolYear, quarter, scope)
}

func (s *gradingSvcStub) CampusRanking(ctx context.Context, schoolYearID int64, period string) ([]grading.RankedStanding, error) {
	return s.campusRanking(ctx, schoolYearID, period)
}

func (s *gradingSvcStub) ReportCard(ctx context.Context, userID, schoolYearID int64) (grading.ReportCard, error) {
	return s.reportCard(ctx, userID, schoolYearID)
}

func (s *gradingSvcStub) EmailReportCard(ctx context.Context, userID, schoolYearID int64) (grading.ReportCard, error) {
	return s.emailReportCard(ctx, userID, schoolYearID)
}

func (s *gradingSvcStub) GradeSheet(ctx context.Context, schoolYear string) (grading.GradeSheet, error) {
	return s.gradeSheet(ctx, schoolYear)
}

func (s *gradingSvcStub) RecordGrade(ctx context.Context, actor user.User, ng grading.NewGrade) (grading.StudentGrade, error) {
	return s.recordGrade(ctx, actor, ng)
}

func (s *gradingSvcStub) ClassSubjectGrades(ctx context.Context, classID, subjectID int64) (grading.ClassSubjectSheet, error) {
	return s.classSubjectGrades(ctx, classID, subjectID)
}
