package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/school"
)

type schoolApi struct {
	svc school.Service
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc school.Service) {
	api := schoolApi{svc: svc}
	admin := adminMiddleware()
	staff := staffMiddleware()

	yg := g.Group("/school-years", jwt)
	yg.GET("", api.querySchoolYears)
	yg.POST("", api.createSchoolYear, admin)
	yg.PUT("/:id/activate", api.activateSchoolYear, admin)

	sg := g.Group("/students", jwt, staff)
	sg.GET("", api.queryStudents)
	sg.GET("/:id", api.retrieveStudent)
	sg.POST("", api.createStudent, admin)
	sg.PUT("/:id", api.updateStudent, admin)
	sg.DELETE("/:id", api.destroyStudent, admin)

	tg := g.Group("/teachers", jwt, staff)
	tg.GET("", api.queryTeachers)
	tg.GET("/:id", api.retrieveTeacher)
	tg.POST("", api.createTeacher, admin)
	tg.PUT("/:id", api.updateTeacher, admin)
	tg.DELETE("/:id", api.destroyTeacher, admin)

	bg := g.Group("/subjects", jwt)
	bg.GET("", api.querySubjects)
	bg.GET("/:id", api.retrieveSubject)
	bg.POST("", api.createSubject, admin)
	bg.PUT("/:id", api.updateSubject, admin)
	bg.DELETE("/:id", api.destroySubject, admin)

	cg := g.Group("/classes", jwt)
	cg.GET("", api.queryClasses)
	cg.GET("/:id", api.retrieveClass)
	cg.POST("", api.createClass, admin)
	cg.PUT("/:id", api.updateClass, admin)
	cg.DELETE("/:id", api.destroyClass, admin)

	cg.GET("/:id/subjects", api.queryClassSubjects)
	cg.POST("/:id/subjects", api.assignClassSubject, admin)
	cg.DELETE("/:id/subjects/:subjectId", api.unassignClassSubject, admin)

	cg.GET("/:id/students", api.queryClassStudents, staff)
	cg.POST("/:id/students", api.enroll, admin)
	cg.DELETE("/:id/students/:studentId", api.unenroll, admin)
}

// School years

func (api *schoolApi) querySchoolYears(ctx echo.Context) error {
	years, err := api.svc.QuerySchoolYears(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying school years")
	}
	return ctx.JSON(http.StatusOK, years)
}

func (api *schoolApi) createSchoolYear(ctx echo.Context) error {
	var data school.NewSchoolYear
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchoolYear")
	}
	sy, err := api.svc.CreateSchoolYear(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating school year")
	}
	return ctx.JSON(http.StatusCreated, sy)
}

func (api *schoolApi) activateSchoolYear(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	sy, err := api.svc.ActivateSchoolYear(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "activating school year")
	}
	return ctx.JSON(http.StatusOK, sy)
}

// Students

func (api *schoolApi) queryStudents(ctx echo.Context) error {
	filter := school.StudentFilter{
		Search:  ctx.QueryParam("search"),
		ClassID: queryID(ctx, "classId"),
	}
	students, err := api.svc.QueryStudents(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *schoolApi) retrieveStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	st, err := api.svc.GetStudent(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *schoolApi) createStudent(ctx echo.Context) error {
	var data school.StudentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentInput")
	}
	st, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *schoolApi) updateStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.StudentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentInput")
	}
	st, err := api.svc.UpdateStudent(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *schoolApi) destroyStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err := api.svc.DeleteStudent(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Teachers

func (api *schoolApi) queryTeachers(ctx echo.Context) error {
	filter := school.TeacherFilter{Search: ctx.QueryParam("search")}
	if v, err := strconv.ParseBool(ctx.QueryParam("isActive")); err == nil {
		filter.IsActive = &v
	}
	teachers, err := api.svc.QueryTeachers(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (api *schoolApi) retrieveTeacher(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	tc, err := api.svc.GetTeacher(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding teacher")
	}
	return ctx.JSON(http.StatusOK, tc)
}

func (api *schoolApi) createTeacher(ctx echo.Context) error {
	var data school.TeacherInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	tc, err := api.svc.CreateTeacher(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, tc)
}

func (api *schoolApi) updateTeacher(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.TeacherInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TeacherInput")
	}
	tc, err := api.svc.UpdateTeacher(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating teacher")
	}
	return ctx.JSON(http.StatusOK, tc)
}

func (api *schoolApi) destroyTeacher(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err := api.svc.DeleteTeacher(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Subjects

func (api *schoolApi) querySubjects(ctx echo.Context) error {
	subjects, err := api.svc.QuerySubjects(ctx.Request().Context(), ctx.QueryParam("search"))
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *schoolApi) retrieveSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	sb, err := api.svc.GetSubject(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding subject")
	}
	return ctx.JSON(http.StatusOK, sb)
}

func (api *schoolApi) createSubject(ctx echo.Context) error {
	var data school.SubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	sb, err := api.svc.CreateSubject(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, sb)
}

func (api *schoolApi) updateSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.SubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	sb, err := api.svc.UpdateSubject(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, sb)
}

func (api *schoolApi) destroySubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err := api.svc.DeleteSubject(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Classes

func (api *schoolApi) queryClasses(ctx echo.Context) error {
	filter := school.ClassFilter{
		SchoolYearID: queryID(ctx, "schoolYearId"),
		GradeLevel:   ctx.QueryParam("gradeLevel"),
		Section:      ctx.QueryParam("section"),
	}
	classes, err := api.svc.QueryClasses(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *schoolApi) retrieveClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	cl, err := api.svc.GetClass(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding class")
	}
	return ctx.JSON(http.StatusOK, cl)
}

func (api *schoolApi) createClass(ctx echo.Context) error {
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	cl, err := api.svc.CreateClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cl)
}

func (api *schoolApi) updateClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	cl, err := api.svc.UpdateClass(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, cl)
}

func (api *schoolApi) destroyClass(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err := api.svc.DeleteClass(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Class subjects

func (api *schoolApi) queryClassSubjects(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	subjects, err := api.svc.QueryClassSubjects(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "querying class subjects")
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *schoolApi) assignClassSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.ClassSubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassSubjectInput")
	}
	cs, err := api.svc.AssignClassSubject(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "assigning class subject")
	}
	return ctx.JSON(http.StatusOK, cs)
}

func (api *schoolApi) unassignClassSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	subjectID, err := paramID(ctx, "subjectId")
	if err != nil {
		return err
	}
	if err := api.svc.UnassignClassSubject(ctx.Request().Context(), id, subjectID); err != nil {
		return errors.Wrap(err, "unassigning class subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Enrollments

func (api *schoolApi) queryClassStudents(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	students, err := api.svc.QueryClassStudents(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "querying class students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *schoolApi) enroll(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data school.EnrollmentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollmentInput")
	}
	enr, err := api.svc.Enroll(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *schoolApi) unenroll(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	studentID, err := paramID(ctx, "studentId")
	if err != nil {
		return err
	}
	if err := api.svc.Unenroll(ctx.Request().Context(), id, studentID); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}
