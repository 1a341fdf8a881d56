package echoapi

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/grading"
	"github.com/trezcool/shule/core/user"
	exportsvc "github.com/trezcool/shule/services/export"
)

type gradingApi struct {
	usrSvc user.Service
	svc    grading.Service
}

func registerGradingAPI(g *echo.Group, jwt echo.MiddlewareFunc, usrSvc user.Service, svc grading.Service) {
	api := gradingApi{usrSvc: usrSvc, svc: svc}
	staff := staffMiddleware()

	rg := g.Group("/academic-rankings", jwt, staff)
	rg.GET("", api.quarterRanking)
	rg.GET("/final", api.classFinalRanking)
	rg.GET("/campus", api.campusRanking)
	rg.GET("/check-quarters", api.checkQuarters)

	sg := g.Group("/student-grades/:userId/:schoolYearId", jwt)
	sg.GET("", api.reportCard, selfOrStaffMiddleware("userId"))
	sg.POST("/email", api.emailReportCard, staff)

	ag := g.Group("/admin/all-grades/:schoolYear", jwt, adminMiddleware())
	ag.GET("", api.gradeSheet)
	ag.GET("/export", api.exportGradeSheet)

	gg := g.Group("/grades", jwt, staff)
	gg.PUT("", api.recordGrade)
	gg.GET("", api.classSubjectGrades)
}

// selfOrStaffMiddleware lets through the user whose id is the `param` path param, teachers and admins.
func selfOrStaffMiddleware(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsTeacher || claims.Subject == ctx.Param(param) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// quarterParam returns the quarter query param, or 0 (rejected by the service) when invalid.
func quarterParam(ctx echo.Context) grading.Quarter {
	q, err := grading.ParseQuarter(ctx.QueryParam("quarter"))
	if err != nil {
		return 0
	}
	return q
}

func scopeParam(ctx echo.Context) grading.Scope {
	return grading.ParseScope(ctx.QueryParam("gradeLevel"), ctx.QueryParam("section"))
}

// Rankings

func (api *gradingApi) quarterRanking(ctx echo.Context) error {
	standings, err := api.svc.QuarterRanking(
		ctx.Request().Context(),
		ctx.QueryParam("schoolYear"),
		quarterParam(ctx),
		scopeParam(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "computing quarter ranking")
	}
	return ctx.JSON(http.StatusOK, standings)
}

func (api *gradingApi) classFinalRanking(ctx echo.Context) error {
	standings, err := api.svc.ClassFinalRanking(
		ctx.Request().Context(),
		queryID(ctx, "schoolYearId"),
		ctx.QueryParam("gradeLevel"),
		ctx.QueryParam("section"),
	)
	if err != nil {
		return errors.Wrap(err, "computing class final ranking")
	}
	return ctx.JSON(http.StatusOK, standings)
}

func (api *gradingApi) campusRanking(ctx echo.Context) error {
	standings, err := api.svc.CampusRanking(
		ctx.Request().Context(),
		queryID(ctx, "schoolYearId"),
		ctx.QueryParam("quarter"),
	)
	if err != nil {
		return errors.Wrap(err, "computing campus ranking")
	}
	return ctx.JSON(http.StatusOK, standings)
}

func (api *gradingApi) checkQuarters(ctx echo.Context) error {
	check, err := api.svc.CheckQuarters(ctx.Request().Context(), queryID(ctx, "schoolYearId"), scopeParam(ctx))
	if err != nil {
		return errors.Wrap(err, "checking quarters")
	}
	return ctx.JSON(http.StatusOK, check)
}

// Report cards

func (api *gradingApi) reportCard(ctx echo.Context) error {
	userID, err := paramID(ctx, "userId")
	if err != nil {
		return err
	}
	schoolYearID, err := paramID(ctx, "schoolYearId")
	if err != nil {
		return err
	}
	card, err := api.svc.ReportCard(ctx.Request().Context(), userID, schoolYearID)
	if err != nil {
		return errors.Wrap(err, "building report card")
	}
	return ctx.JSON(http.StatusOK, card)
}

func (api *gradingApi) emailReportCard(ctx echo.Context) error {
	userID, err := paramID(ctx, "userId")
	if err != nil {
		return err
	}
	schoolYearID, err := paramID(ctx, "schoolYearId")
	if err != nil {
		return err
	}
	card, err := api.svc.EmailReportCard(ctx.Request().Context(), userID, schoolYearID)
	if err != nil {
		return errors.Wrap(err, "emailing report card")
	}
	return ctx.JSON(http.StatusAccepted, card)
}

// Grade sheets

func schoolYearParam(ctx echo.Context) string {
	label, err := url.PathUnescape(ctx.Param("schoolYear"))
	if err != nil {
		return ctx.Param("schoolYear")
	}
	return label
}

func (api *gradingApi) gradeSheet(ctx echo.Context) error {
	sheet, err := api.svc.GradeSheet(ctx.Request().Context(), schoolYearParam(ctx))
	if err != nil {
		return errors.Wrap(err, "building grade sheet")
	}
	return ctx.JSON(http.StatusOK, sheet)
}

func (api *gradingApi) exportGradeSheet(ctx echo.Context) error {
	sheet, err := api.svc.GradeSheet(ctx.Request().Context(), schoolYearParam(ctx))
	if err != nil {
		return errors.Wrap(err, "building grade sheet")
	}

	var buf bytes.Buffer
	if err := exportsvc.WriteGradeSheet(&buf, sheet); err != nil {
		return errors.Wrap(err, "exporting grade sheet")
	}
	filename := "grades-" + strings.ReplaceAll(sheet.SchoolYear, " ", "_") + ".xlsx"
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Blob(http.StatusOK, exportsvc.XLSXContentType, buf.Bytes())
}

// Grades

func (api *gradingApi) recordGrade(ctx echo.Context) error {
	var data grading.NewGrade
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	grade, err := api.svc.RecordGrade(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "recording grade")
	}
	return ctx.JSON(http.StatusOK, grade)
}

func (api *gradingApi) classSubjectGrades(ctx echo.Context) error {
	classID, subjectID := queryID(ctx, "classId"), queryID(ctx, "subjectId")
	if classID == 0 || subjectID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "classId and subjectId are required")
	}
	sheet, err := api.svc.ClassSubjectGrades(ctx.Request().Context(), classID, subjectID)
	if err != nil {
		return errors.Wrap(err, "querying class subject grades")
	}
	return ctx.JSON(http.StatusOK, sheet)
}
