package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	messageRequestSuccessful = "request successful"
	messageValidationFailed  = "validation failed"
	messageUnauthorized      = "authentication required"
	messageForbidden         = "only the author may modify this annotation"
	messageNotFound          = "annotation not found"
	messageConflict          = "annotation was modified concurrently; reload and retry"
	messageInternal          = "internal server error"

	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
)

// envelope wraps every response body.
type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`
	Errors  []apiError `json:"errors,omitempty"`
	Data    any        `json:"data,omitempty"`
}

type apiError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func respondSuccess(c *gin.Context, data any) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: messageRequestSuccessful,
		Data:    data,
	})
}

func respondFailure(c *gin.Context, status int, message, code string, errs []apiError) {
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Message: message,
		Code:    code,
		Errors:  errs,
	})
}

// respondBindingError reports a request that failed decoding or tag validation.
func respondBindingError(c *gin.Context, err error) {
	respondFailure(c, http.StatusBadRequest, messageValidationFailed, codeInvalidRequest, bindingErrors(err))
}

// respondServiceError maps annotation error kinds onto HTTP statuses. Rejected requests
// (invalid, unknown annotation, not the author) are all 400 and told apart by code. Only
// unexpected failures are logged here; the service already logged them with full context.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	h.respondServiceErrorWithStatus(c, err, http.StatusInternalServerError)
}

// respondServiceErrorWithStatus is respondServiceError with the status used for unexpected
// failures supplied by the route.
func (h *httpHandler) respondServiceErrorWithStatus(c *gin.Context, err error, unexpectedStatus int) {
	code := serviceErrorCode(err)
	var validationErr *annotations.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondFailure(c, http.StatusBadRequest, validationErr.Error(), code, []apiError{{
			Field:   validationErr.Field,
			Message: validationErr.Message,
		}})
	case errors.Is(err, annotations.ErrValidation):
		respondFailure(c, http.StatusBadRequest, messageValidationFailed, code, nil)
	case errors.Is(err, annotations.ErrNotFound):
		respondFailure(c, http.StatusBadRequest, messageNotFound, code, nil)
	case errors.Is(err, annotations.ErrForbidden):
		respondFailure(c, http.StatusBadRequest, messageForbidden, code, nil)
	case errors.Is(err, annotations.ErrConflict):
		respondFailure(c, http.StatusConflict, messageConflict, code, nil)
	default:
		h.logger.Error("annotation request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		respondFailure(c, unexpectedStatus, messageInternal, code, nil)
	}
}

func serviceErrorCode(err error) string {
	var serviceErr *annotations.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func bindingErrors(err error) []apiError {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		out := make([]apiError, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			out = append(out, apiError{
				Field:   fieldPath(fieldErr),
				Message: messageForTag(fieldErr),
			})
		}
		return out
	}
	return []apiError{{Field: "body", Message: err.Error()}}
}

// fieldPath drops the request struct name from the namespace, so nested fields read as
// "anchor.coordinates".
func fieldPath(fieldErr validator.FieldError) string {
	namespace := fieldErr.Namespace()
	if index := strings.IndexByte(namespace, '.'); index >= 0 {
		return namespace[index+1:]
	}
	return fieldErr.Field()
}

func messageForTag(fieldErr validator.FieldError) string {
	field := fieldPath(fieldErr)
	switch fieldErr.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case tagNotBlank:
		return fmt.Sprintf("%s must not be empty or contain only whitespace characters", field)
	case tagAnnotationType:
		return fmt.Sprintf("%s must be one of highlight, underline, strikethrough, area, comment, note, ink", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fieldErr.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fieldErr.Param())
	default:
		return fieldErr.Error()
	}
}
