package identity

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// APIError is the machine-readable error half of the response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Details carries a field-error map on validation failures.
	Details map[string]string `json:"details,omitempty"`
}

// APIResponse is the JSON envelope every endpoint returns.
type APIResponse struct {
	Data  any       `json:"data"`
	Error *APIError `json:"error"`
}

// Error codes surfaced in the envelope.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeProfileNotFound    = "PROFILE_NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeResetError         = "RESET_ERROR"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeUpdateFailed       = "UPDATE_FAILED"
)

// IdentityControllerRoutes holds the route paths the controller registers.
type IdentityControllerRoutes struct {
	Profile         string
	Recovery        string
	RecoveryVerify  string
	RecoveryConfirm string
}

// IdentityController exposes the audited profile store and the recovery
// flow as a JSON API. Handlers stay thin: they translate method + body into
// store/flow calls and shape the envelope.
type IdentityController struct {
	Debug      bool
	Logger     Logger
	Repo       RepositoryManager
	Flow       RecoveryFlow
	Routes     *IdentityControllerRoutes
	SessionKey string
}

// IdentityControllerOption customizes controller construction.
type IdentityControllerOption func(*IdentityController) *IdentityController

// WithControllerRepo sets the repository manager.
func WithControllerRepo(repo RepositoryManager) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Repo = repo
		return c
	}
}

// WithControllerFlow sets the recovery flow.
func WithControllerFlow(flow RecoveryFlow) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Flow = flow
		return c
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerDebug enables request payload dumps.
func WithControllerDebug(debug bool) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Debug = debug
		return c
	}
}

// WithControllerSessionKey sets the locals key the auth middleware uses.
func WithControllerSessionKey(key string) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		if key != "" {
			c.SessionKey = key
		}
		return c
	}
}

// NewIdentityController builds a controller with default routes.
func NewIdentityController(opts ...IdentityControllerOption) *IdentityController {
	c := &IdentityController{
		Logger:     defLogger{},
		SessionKey: "user",
		Routes: &IdentityControllerRoutes{
			Profile:         "/api/profiles/me",
			Recovery:        "/api/auth/recovery",
			RecoveryVerify:  "/api/auth/recovery/verify",
			RecoveryConfirm: "/api/auth/recovery/confirm",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in identity controller...")
	}

	if c.Flow == nil {
		panic("Missing RecoveryFlow in identity controller...")
	}

	return c
}

// RegisterIdentityRoutes wires the controller into a router.
func RegisterIdentityRoutes[T any](app router.Router[T], opts ...IdentityControllerOption) {
	controller := NewIdentityController(opts...)

	app.Get(controller.Routes.Profile, controller.ProfileShow).
		SetName("profiles.me.get")
	app.Patch(controller.Routes.Profile, controller.ProfileUpdate).
		SetName("profiles.me.patch")

	app.Post(controller.Routes.Recovery, controller.RecoveryRequest).
		SetName("recovery.request.post")
	app.Post(controller.Routes.RecoveryVerify, controller.RecoveryVerify).
		SetName("recovery.verify.post")
	app.Post(controller.Routes.RecoveryConfirm, controller.RecoveryConfirm).
		SetName("recovery.confirm.post")
}

// ProfileShow handles GET profile: 200 with the profile, 401 without a
// session, 404 when absent or soft-deleted, 500 on storage failure.
func (a *IdentityController) ProfileShow(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.SessionKey)
	if err != nil {
		return ctx.JSON(fiber.StatusUnauthorized, APIResponse{
			Error: &APIError{Code: CodeUnauthorized, Message: "Unauthorized"},
		})
	}

	record, err := a.Repo.Profiles().Get(ctx.Context(), session.UserID)
	if err != nil {
		return a.profileError(ctx, err)
	}

	if record == nil {
		return ctx.JSON(fiber.StatusNotFound, APIResponse{
			Error: &APIError{Code: CodeProfileNotFound, Message: "Profile not found"},
		})
	}

	return ctx.JSON(fiber.StatusOK, APIResponse{Data: record})
}

// ProfileUpdatePayload is the PATCH profile body.
type ProfileUpdatePayload struct {
	DisplayName *string `json:"display_name"`
	Locale      *string `json:"locale"`
	Timezone    *string `json:"timezone"`
}

// Validate will run validation rules
func (r ProfileUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.DisplayName,
			validation.Length(1, 200),
		),
		validation.Field(
			&r.Locale,
			validation.In("en", "pl"),
		),
		validation.Field(
			&r.Timezone,
			validation.By(ValidateTimezone),
		),
	)
}

// ValidateTimezone checks the value names a loadable IANA timezone.
func ValidateTimezone(value any) error {
	var tz string
	switch v := value.(type) {
	case string:
		tz = v
	case *string:
		if v != nil {
			tz = *v
		}
	}

	if tz == "" {
		return nil
	}

	if _, err := time.LoadLocation(tz); err != nil {
		return errors.New("must be a valid IANA timezone")
	}

	return nil
}

func (r ProfileUpdatePayload) command() ProfileUpdate {
	return ProfileUpdate{
		DisplayName: r.DisplayName,
		Locale:      r.Locale,
		Timezone:    r.Timezone,
	}
}

// ProfileUpdate handles PATCH profile with a partial field set.
func (a *IdentityController) ProfileUpdate(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.SessionKey)
	if err != nil {
		return ctx.JSON(fiber.StatusUnauthorized, APIResponse{
			Error: &APIError{Code: CodeUnauthorized, Message: "Unauthorized"},
		})
	}

	payload := new(ProfileUpdatePayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("profile update parse payload: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeValidationError, Message: "Error parsing body"},
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{
				Code:    CodeValidationError,
				Message: "Validation failed",
				Details: FormatValidationErrorToMap(err),
			},
		})
	}

	command := payload.command()
	if !command.HasChanges() {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{
				Code:    CodeValidationError,
				Message: "At least one updatable field is required",
			},
		})
	}

	if a.Debug {
		fmt.Println("======= PROFILE UPDATE ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=============================")
	}

	record, err := a.Repo.Profiles().Update(ctx.Context(), session.UserID, command)
	if err != nil {
		return a.profileError(ctx, err)
	}

	if record == nil {
		return ctx.JSON(fiber.StatusNotFound, APIResponse{
			Error: &APIError{Code: CodeProfileNotFound, Message: "Profile not found"},
		})
	}

	return ctx.JSON(fiber.StatusOK, APIResponse{Data: record})
}

// RecoveryRequestPayload is the body requesting a reset link.
type RecoveryRequestPayload struct {
	Email string `json:"email" form:"email"`
}

// RecoveryRequest handles the "send me a reset link" step.
func (a *IdentityController) RecoveryRequest(ctx router.Context) error {
	payload := new(RecoveryRequestPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("recovery request parse payload: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeValidationError, Message: "Error parsing body"},
		})
	}

	state := a.Flow.RequestReset(ctx.Context(), NewRecoveryState(), payload.Email)
	if state.Alert != "" {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeResetError, Message: state.Alert},
		})
	}

	return ctx.JSON(fiber.StatusOK, APIResponse{
		Data: map[string]string{"message": state.Notice},
	})
}

// RecoveryVerifyPayload carries the token pair from a recovery link.
type RecoveryVerifyPayload struct {
	AccessToken  string `json:"access_token" form:"access_token"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// RecoveryVerify exchanges the link's token pair for a session and reports
// the resulting flow state.
func (a *IdentityController) RecoveryVerify(ctx router.Context) error {
	payload := new(RecoveryVerifyPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("recovery verify parse payload: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeValidationError, Message: "Error parsing body"},
		})
	}

	state := a.Flow.Exchange(ctx.Context(), NewRecoveryState(), payload.AccessToken, payload.RefreshToken)
	if state.Mode != RecoveryModeUpdate {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeVerificationFailed, Message: state.Alert},
		})
	}

	return ctx.JSON(fiber.StatusOK, APIResponse{Data: state})
}

// RecoveryConfirmPayload carries the new password, its confirmation, and
// the session token the verify step returned.
type RecoveryConfirmPayload struct {
	SessionToken    string `json:"session_token" form:"session_token"`
	NewPassword     string `json:"new_password" form:"new_password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// RecoveryConfirm finalizes the flow by setting the new password for the
// session the caller presents. A request without the verify step's session
// token never enters Update mode.
func (a *IdentityController) RecoveryConfirm(ctx router.Context) error {
	payload := new(RecoveryConfirmPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("recovery confirm parse payload: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeValidationError, Message: "Error parsing body"},
		})
	}

	state := NewRecoveryState()
	if payload.SessionToken != "" {
		state.Mode = RecoveryModeUpdate
		state.SessionToken = payload.SessionToken
	}

	state = a.Flow.SubmitPassword(
		ctx.Context(),
		state,
		payload.NewPassword,
		payload.ConfirmPassword,
	)

	if !state.Completed {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeUpdateFailed, Message: state.Alert},
		})
	}

	return ctx.JSON(fiber.StatusOK, APIResponse{Data: state})
}

func (a *IdentityController) profileError(ctx router.Context, err error) error {
	if IsInvalidInput(err) {
		return ctx.JSON(fiber.StatusBadRequest, APIResponse{
			Error: &APIError{Code: CodeValidationError, Message: err.Error()},
		})
	}

	a.Logger.Error("profile storage error: %v", err)
	return ctx.JSON(fiber.StatusInternalServerError, APIResponse{
		Error: &APIError{Code: CodeInternalError, Message: "Internal server error"},
	})
}

// FormatValidationErrorToMap flattens an ozzo validation error into a
// field-error map for the response envelope.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, ferr := range fieldErrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["validation"] = err.Error()
	return out
}
