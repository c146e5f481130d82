package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// StatusError is an error that already knows its HTTP status, for the
// handler paths where the right code is decided at construction time rather
// than by the taxonomy mapping below.
type StatusError struct {
	Status int
	Code   string
	Err    error
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("http %d", e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

func NewStatusError(status int, code string, err error) *StatusError {
	return &StatusError{Status: status, Code: code, Err: err}
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

// RespondDomainError maps pipeline errors onto HTTP statuses. Raw provider
// errors never reach clients; they arrive here already wrapped with context.
func RespondDomainError(c *gin.Context, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		RespondError(c, se.Status, se.Code, se.Err)
		return
	}
	var dup *types.DuplicateDocumentError
	if errors.As(err, &dup) {
		RespondError(c, http.StatusConflict, "duplicate_document", err)
		return
	}
	var sve *types.SchemaValidationError
	if errors.As(err, &sve) {
		RespondError(c, http.StatusUnprocessableEntity, "invalid_schema", err)
		return
	}
	switch {
	case errors.Is(err, types.ErrSourceNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, types.ErrSourceAccessDenied):
		RespondError(c, http.StatusForbidden, "access_denied", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
