// Package api wraps the auth service with the uniform response
// envelope, operation metrics and audit events. Transport layers embed
// the envelope bodies as-is.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"acesso.org/internal/audit"
	"acesso.org/internal/auth"
	"acesso.org/internal/obs"
)

// Response is the envelope every operation answers with. Code mirrors
// HTTP semantics: 200 for success, 400 for any failure the caller can
// act on.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// API exposes the identity operations behind the envelope contract.
type API struct {
	svc *auth.Service
}

func New(svc *auth.Service) *API {
	return &API{svc: svc}
}

func ok(message string, data any) Response {
	return Response{Code: http.StatusOK, Message: message, Data: data}
}

func fail(err error) Response {
	return Response{Code: http.StatusBadRequest, Message: publicMessage(err)}
}

// publicMessage translates an operation error into a caller-facing
// message. Anything outside the known taxonomy collapses to a generic
// message so internals never leak through the envelope.
func publicMessage(err error) string {
	for _, known := range []error{
		auth.ErrValidation, auth.ErrInvalidTaxID, auth.ErrNotFound,
		auth.ErrUserNotFound, auth.ErrProjectNotFound, auth.ErrDuplicateEmail,
		auth.ErrDuplicateTaxID, auth.ErrIncorrectPassword, auth.ErrInvalidToken,
		auth.ErrBirthDateMismatch, auth.ErrNotAuthorized, auth.ErrNotVerified,
		auth.ErrEndpointDenied, auth.ErrUpstream, auth.ErrRateLimited,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	obs.LogEvent(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   "operation failed",
		"error": err.Error(),
	})
	return "internal error"
}

func observe(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.ObserveOperation(op, result, started)
}

// Register creates a user account and answers with its id.
func (a *API) Register(ctx context.Context, in auth.RegisterInput) Response {
	started := time.Now()
	id, err := a.svc.Register(ctx, in)
	observe("register", started, err)
	if err != nil {
		return fail(err)
	}
	_ = audit.LogEvent(ctx, "auth.register", map[string]any{"user_id": id})
	return ok("user registered", map[string]string{"id": id})
}

// Login authenticates and answers with the token pair and project site.
func (a *API) Login(ctx context.Context, in auth.LoginInput) Response {
	started := time.Now()
	pair, err := a.svc.Login(ctx, in)
	observe("login", started, err)
	if err != nil {
		return fail(err)
	}
	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"project_id": in.ProjectID})
	return ok("login successful", pair)
}

// AuthorizeProject records a project grant and answers with the site URL.
func (a *API) AuthorizeProject(ctx context.Context, in auth.AuthorizeProjectInput) Response {
	started := time.Now()
	site, err := a.svc.AuthorizeProject(ctx, in)
	observe("authorize_project", started, err)
	if err != nil {
		return fail(err)
	}
	_ = audit.LogEvent(ctx, "auth.authorize_project", map[string]any{
		"user_id":    in.UserID,
		"project_id": in.ProjectID,
		"verified":   in.Verified,
	})
	return ok("project authorized", map[string]string{"site": site})
}

// CheckEndpoint evaluates an endpoint permission check.
func (a *API) CheckEndpoint(ctx context.Context, in auth.CheckInput) Response {
	started := time.Now()
	err := a.svc.CheckEndpoint(ctx, in)
	observe("check_endpoint", started, err)
	if err != nil {
		return fail(err)
	}
	return ok("allowed", nil)
}

// Refresh exchanges a refresh token for a new pair.
func (a *API) Refresh(ctx context.Context, refreshToken, projectID string) Response {
	started := time.Now()
	pair, err := a.svc.Refresh(ctx, refreshToken, projectID)
	observe("refresh", started, err)
	if err != nil {
		return fail(err)
	}
	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	return ok("token refreshed", pair)
}

// RecoverPassword issues a recovery token for the account behind the
// email. Delivery of the token is the caller's concern.
func (a *API) RecoverPassword(ctx context.Context, email string) Response {
	started := time.Now()
	recovery, err := a.svc.GenerateRecoveryToken(ctx, email)
	observe("recover_password", started, err)
	if err != nil {
		return fail(err)
	}
	obs.TokenIssued("recovery")
	return ok("recovery token issued", map[string]string{"recoveryToken": recovery})
}

// ChangePassword consumes a recovery token and stores the new password.
func (a *API) ChangePassword(ctx context.Context, recoveryToken, newPassword string) Response {
	started := time.Now()
	err := a.svc.ChangePassword(ctx, recoveryToken, newPassword)
	observe("change_password", started, err)
	if err != nil {
		return fail(err)
	}
	_ = audit.LogEvent(ctx, "auth.change_password", nil)
	return ok("password changed", nil)
}

// UserInfo answers with the token subject's sanitized record.
func (a *API) UserInfo(ctx context.Context, accessToken, projectID string) Response {
	started := time.Now()
	user, err := a.svc.GetUserInfo(ctx, accessToken, projectID)
	observe("user_info", started, err)
	if err != nil {
		return fail(err)
	}
	return ok("user info", user)
}
