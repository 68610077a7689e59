package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
)

type accountAPI struct {
	svc    *account.Service
	tokens tokenIssuer
	logger core.Logger
}

func registerAccountAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *account.Service, tokens tokenIssuer, logger core.Logger) {
	api := accountAPI{svc: svc, tokens: tokens, logger: logger}

	// un-authed endpoints
	ag := g.Group("/auth")
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, jwt)
	ag.GET("/me", api.me, jwt)

	// account management
	mg := g.Group("/accounts", jwt, adminMiddleware(api.svc))
	mg.POST("", api.create)
	mg.GET("", api.query)
	mg.GET("/roles", api.queryRoles)
	mg.DELETE("", api.destroyMultiple)

	dg := mg.Group("/:id", api.objectMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

type (
	LoginRequest struct {
		Login    string `json:"login" validate:"required"` // email or phone
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token   string          `json:"token"`
		Account account.Account `json:"account"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

// register signs up a guardian; roles can only be granted by an admin through /accounts.
func (api *accountAPI) register(ctx echo.Context) error {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	data.Roles = []string{account.RoleGuardian}

	acc, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}
	token, err := api.tokens.TokenFor(acc)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusCreated, LoginResponse{Token: token, Account: acc})
}

func (api *accountAPI) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if data.Login == "" || data.Password == "" {
		return errAuthenticationFailed
	}

	acc, err := api.svc.Authenticate(ctx.Request().Context(), data.Login, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case account.ErrInvalidCredentials:
			return errAuthenticationFailed
		case account.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.tokens.TokenFor(acc)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Account: acc})
}

func (api *accountAPI) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if data.Email == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "email is a required field"})
	}

	err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email)
	if err != nil && errors.Cause(err) != account.ErrNotFound {
		// do not return errors to attackers
		api.logger.Error("requesting password reset", err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *accountAPI) confirmPasswordReset(ctx echo.Context) error {
	var data account.ResetPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetPassword")
	}
	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *accountAPI) refreshToken(ctx echo.Context) error {
	token, err := api.tokens.refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *accountAPI) me(ctx echo.Context) error {
	acc, err := getContextAccount(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context account")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *accountAPI) create(ctx echo.Context) error {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	acc, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating account")
	}
	return ctx.JSON(http.StatusCreated, acc)
}

func (api *accountAPI) query(ctx echo.Context) error {
	filter := new(account.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []account.Account{})
	}

	accounts, err := api.svc.Query(ctx.Request().Context(), filter, parseOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying accounts")
	}
	if accounts == nil {
		accounts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accounts)
}

func (api *accountAPI) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, account.Roles)
}

func (api *accountAPI) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		acc, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == account.ErrNotFound {
				return errHTTPNotFound
			}
			return errors.Wrap(err, "finding account by ID")
		}
		ctx.Set("object", acc)
		return next(ctx)
	}
}

func contextObject(ctx echo.Context) account.Account {
	acc, _ := ctx.Get("object").(account.Account)
	return acc
}

func (api *accountAPI) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, contextObject(ctx))
}

func (api *accountAPI) update(ctx echo.Context) error {
	var data account.UpdateAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAccount")
	}
	acc, err := api.svc.Update(ctx.Request().Context(), contextObject(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "updating account")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *accountAPI) destroy(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// admins cannot delete themselves
	acc := contextObject(ctx)
	if acc.ID == claims.Subject {
		return errHTTPForbidden
	}
	if _, err := api.svc.Delete(ctx.Request().Context(), acc.ID); err != nil {
		return errors.Wrap(err, "deleting account")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *accountAPI) destroyMultiple(ctx echo.Context) error {
	query := DestroyMultipleRequest{IDs: ctx.QueryParams()["id"]}
	if len(query.IDs) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	for _, id := range query.IDs {
		if id == claims.Subject {
			return errHTTPForbidden
		}
	}
	if _, err := api.svc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting accounts")
	}
	return ctx.NoContent(http.StatusNoContent)
}
