package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets teachers and admins through.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsTeacher {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// ctxUserOrAdminMiddleware loads the user of the `:id` param as the context object,
// if it is the context user or the context user is an admin.
func ctxUserOrAdminMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
			if err != nil {
				return errHttpNotFound
			}
			if id == ctxUsr.ID || ctxUsr.IsAdmin() {
				if usr, err := svc.GetByID(ctx.Request().Context(), id); err == nil {
					ctx.Set(contextObjKey, usr)
					return next(ctx)
				} else if !core.IsNotFound(err) {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHttpNotFound
		}
	}
}
