package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/clubhouse/internal/billing/domain"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	"github.com/smallbiznis/clubhouse/internal/subdomain"
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
	Type    string
	Message string
	Errors  []ValidationError
}

type errorResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	ErrorType string            `json:"error_type"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationMessages maps caller-input sentinels to the message returned to
// the operator console.
var validationMessages = []struct {
	err     error
	field   string
	message string
}{
	{ErrInvalidRequest, "request", "invalid request"},
	{orgdomain.ErrInvalidName, "name", "organization name is required and must be at most 200 characters"},
	{subdomain.ErrInvalidName, "name", "organization name must contain letters or digits"},
	{orgdomain.ErrInvalidContactName, "contactName", "contact name is required"},
	{orgdomain.ErrInvalidContactEmail, "contactEmail", "a valid contact email is required"},
	{orgdomain.ErrInvalidMonthlyFee, "monthlyFee", "monthly fee must be a positive amount"},
	{billingdomain.ErrInvalidAmount, "monthlyFee", "monthly fee must be a positive amount"},
	{orgdomain.ErrInvalidStorageLimit, "storageLimitGB", "storage limit must be positive"},
	{orgdomain.ErrInvalidSubdomain, "subdomain", "invalid subdomain"},
	{orgdomain.ErrInvalidPrice, "price", "invalid price"},
	{orgdomain.ErrInvalidOrganization, "id", "invalid organization id"},
	{orgdomain.ErrInvalidExternalIDs, "external_ids", "invalid billing identifiers"},
	{billingdomain.ErrInvalidCheckout, "checkout", "invalid checkout request"},
}

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
		c.AbortWithStatusJSON(status, errorResponse{
			Success:   false,
			Error:     payload.Message,
			ErrorType: payload.Type,
			Errors:    payload.Errors,
		})
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
		message := "validation error"
		if len(vErr.Errors) == 1 {
			message = vErr.Errors[0].Message
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: message,
			Errors:  vErr.Errors,
		}
	}

	for _, v := range validationMessages {
		if errors.Is(err, v.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: v.message,
				Errors: []ValidationError{
					{Field: v.field, Code: v.err.Error(), Message: v.message},
				},
			}
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "organization not found",
		}
	case errors.Is(err, subdomain.ErrAllocationExhausted):
		return http.StatusConflict, errorPayload{
			Type:    "allocation_exhausted",
			Message: "no subdomain is available for this organization name",
		}
	case errors.Is(err, orgdomain.ErrNotPending):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "organization is not awaiting payment",
		}
	case errors.Is(err, billingdomain.ErrExternalService):
		return http.StatusBadGateway, errorPayload{
			Type:    "external_service_error",
			Message: "payment provider request failed",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, billingdomain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
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

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog labels request errors in the access log. Persistence
// failures keep their own label so they stand out from provider failures.
func classifyErrorForLog(err error) string {
	if errors.Is(err, orgdomain.ErrPersistence) {
		return "persistence_error"
	}
	_, payload := mapError(err)
	return strings.TrimSpace(payload.Type)
}
