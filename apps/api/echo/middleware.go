package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/account"
)

// adminMiddleware only lets active admins through. The account is reloaded on every request
// so a deactivation or a demotion applies before the token expires.
func adminMiddleware(svc *account.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !claims.IsAdmin {
				return errHTTPForbidden
			}
			acc, err := getContextAccount(ctx, svc, claims)
			if err != nil {
				return errors.Wrap(err, "getting context account")
			}
			switch {
			case !acc.IsActive:
				return errAccountDeactivated
			case !acc.IsAdmin():
				return errHTTPForbidden
			}
			return next(ctx)
		}
	}
}
