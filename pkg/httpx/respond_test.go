package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/guildchat/pkg/model"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("channel c1: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrValidation, http.StatusBadRequest},
		{model.ErrForbidden, http.StatusForbidden},
		{model.ErrConflict, http.StatusConflict},
		{fmt.Errorf("insert: %w", model.ErrTransient), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestFail_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, fmt.Errorf("dial tcp 10.0.0.1: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestErrorForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrUnauthorized},
		{http.StatusForbidden, model.ErrForbidden},
		{http.StatusBadRequest, model.ErrValidation},
		{http.StatusNotFound, model.ErrNotFound},
		{http.StatusServiceUnavailable, model.ErrTransient},
	}
	for _, tt := range tests {
		err := ErrorForStatus(tt.status, "fetch")
		assert.ErrorIs(t, err, tt.want, http.StatusText(tt.status))
		assert.Equal(t, tt.status, StatusFor(err))
	}
	assert.ErrorIs(t, ErrorForStatus(http.StatusTooManyRequests, "fetch"), model.ErrTransient)

	err := ErrorForStatus(http.StatusTeapot, "fetch")
	assert.False(t, model.IsPermanent(err))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(err))
}
