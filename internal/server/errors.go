package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

// ErrorHandlingMiddleware converts errors attached to the gin context into
// the JSON error envelope. Handlers report errors via AbortWithError and
// never write error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidCredentials),
		errors.Is(err, identitydomain.ErrSessionNotFound),
		errors.Is(err, identitydomain.ErrSessionExpired),
		errors.Is(err, identitydomain.ErrSessionRevoked):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, membershipdomain.ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, identitydomain.ErrSignUpDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests),
		errors.Is(err, membershipdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, identitydomain.ErrEmailAlreadyExists),
		errors.Is(err, tenantdomain.ErrSlugTaken),
		errors.Is(err, membershipdomain.ErrDuplicateInvite),
		errors.Is(err, membershipdomain.ErrDuplicateMembership),
		errors.Is(err, membershipdomain.ErrAlreadyMember):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, identitydomain.ErrAccountNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, membershipdomain.ErrMembershipNotFound),
		errors.Is(err, membershipdomain.ErrInviteNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request", true
	case errors.Is(err, identitydomain.ErrWeakPassword):
		return "weak_password", true
	case errors.Is(err, tenantdomain.ErrInvalidName):
		return "invalid_name", true
	case errors.Is(err, tenantdomain.ErrInvalidTenant),
		errors.Is(err, auditdomain.ErrInvalidTenant),
		errors.Is(err, authorization.ErrInvalidTenant):
		return "invalid_tenant", true
	case errors.Is(err, membershipdomain.ErrInvalidEmail),
		errors.Is(err, identitydomain.ErrInvalidEmail):
		return "invalid_email", true
	case errors.Is(err, membershipdomain.ErrInvalidRole):
		return "invalid_role", true
	case errors.Is(err, membershipdomain.ErrInvalidPermission):
		return "invalid_permission", true
	case errors.Is(err, role.ErrPermissionLocked):
		return "permission_locked", true
	case errors.Is(err, membershipdomain.ErrInvalidToken):
		return "invalid_token", true
	case errors.Is(err, membershipdomain.ErrInviteExpired):
		return "invite_expired", true
	case errors.Is(err, membershipdomain.ErrSelfRemoval):
		return "self_removal", true
	case errors.Is(err, membershipdomain.ErrSelfDemotion):
		return "self_demotion", true
	case errors.Is(err, membershipdomain.ErrLastManager):
		return "last_manager", true
	case errors.Is(err, auditdomain.ErrInvalidPageToken):
		return "invalid_page_token", true
	case errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return "invalid_time_range", true
	default:
		return "", false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "weak_password":
		return "password"
	case "invalid_name":
		return "name"
	case "invalid_tenant":
		return "tenant_id"
	case "invalid_email":
		return "email"
	case "invalid_role":
		return "role"
	case "invalid_permission", "permission_locked":
		return "permissions"
	case "invalid_token", "invite_expired":
		return "token"
	case "self_removal", "self_demotion", "last_manager":
		return "account_id"
	case "invalid_page_token":
		return "page_token"
	case "invalid_time_range":
		return "start_at"
	default:
		return "request"
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "weak_password":
		return "password is too weak"
	case "invalid_name":
		return "name is invalid"
	case "invalid_tenant":
		return "tenant is invalid"
	case "invalid_email":
		return "email is invalid"
	case "invalid_role":
		return "role is unknown"
	case "invalid_permission":
		return "permission is unknown"
	case "permission_locked":
		return "permission is locked for the member's role"
	case "invalid_token":
		return "token is invalid"
	case "invite_expired":
		return "invite has expired"
	case "self_removal":
		return "members cannot remove themselves"
	case "self_demotion":
		return "members cannot demote themselves"
	case "last_manager":
		return "tenant would be left without a managing member"
	case "invalid_page_token":
		return "page token is invalid"
	case "invalid_time_range":
		return "time range is invalid"
	default:
		return "invalid request"
	}
}

// classifyErrorForLog labels request-log entries with the error taxonomy
// used by the JSON error envelope.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		return "validation_error", vErr.Errors[0].Code
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
