// Tests of the error responses in Shipper.

package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMessages(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, BadRequest("").Status)
	assert.Equal(t, "Your request is in a bad format.", BadRequest("").Message)
	assert.Equal(t, "invalid projectId", BadRequest("invalid projectId").Message)
	assert.Equal(t, http.StatusNotFound, NotFound("").Status)
	assert.Equal(t, http.StatusUnauthorized, Unauthorized("").Status)
	assert.Equal(t, http.StatusInternalServerError, InternalServerError("").Status)

	var resp ErrorResponse
	assert.True(t, stderrors.As(New("boom"), &resp))
	assert.Equal(t, "boom", resp.Error())
}

func TestGenerateValidationErrorResponse(t *testing.T) {
	resp := GenerateValidationErrorResponse([]error{
		stderrors.New("Type: sandbox:explode does not validate as eventtype"),
		stderrors.New("no param here"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	details := resp.Details.(ValidationErrorResponse).Response
	assert.Equal(t, []validationError{
		{Param: "Type", Message: "sandbox:explode does not validate as eventtype"},
		{Param: "", Message: "no param here"},
	}, details)
}
