package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

func respondOn(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorEnvelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	RespondDomainError(c, err)

	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response body is not an error envelope: %v", err)
	}
	return rec, env
}

func TestRespondDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "status error keeps its own status",
			err:    NewStatusError(http.StatusTeapot, "teapot", errors.New("short and stout")),
			status: http.StatusTeapot,
			code:   "teapot",
		},
		{
			name:   "wrapped status error unwraps",
			err:    fmt.Errorf("outer: %w", NewStatusError(http.StatusConflict, "busy", nil)),
			status: http.StatusConflict,
			code:   "busy",
		},
		{
			name:   "duplicate document conflicts",
			err:    &types.DuplicateDocumentError{FileName: "a.pdf", Status: types.StatusCompleted},
			status: http.StatusConflict,
			code:   "duplicate_document",
		},
		{
			name:   "schema validation is unprocessable",
			err:    &types.SchemaValidationError{Reason: "dangling reference", Ref: "#/nodes/0"},
			status: http.StatusUnprocessableEntity,
			code:   "invalid_schema",
		},
		{
			name:   "missing source is 404",
			err:    fmt.Errorf("load: %w", types.ErrSourceNotFound),
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "denied source is 403",
			err:    types.ErrSourceAccessDenied,
			status: http.StatusForbidden,
			code:   "access_denied",
		},
		{
			name:   "anything else is 500",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "internal",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := respondOn(t, tc.err)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if env.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.code)
			}
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	if got := NewStatusError(http.StatusConflict, "busy", nil).Error(); got != "busy" {
		t.Fatalf("code-only message = %q", got)
	}
	if got := NewStatusError(http.StatusConflict, "", nil).Error(); got != "http 409" {
		t.Fatalf("status-only message = %q", got)
	}
	inner := errors.New("inner")
	se := NewStatusError(http.StatusBadRequest, "bad", inner)
	if se.Error() != "inner" || !errors.Is(se, inner) {
		t.Fatalf("wrapped error not surfaced: %q", se.Error())
	}
}
