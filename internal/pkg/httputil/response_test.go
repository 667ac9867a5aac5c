package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeOptional(t *testing.T) {
	var dst struct {
		Mode string `json:"mode"`
	}
	dst.Mode = "full"

	rec := httptest.NewRecorder()
	ok := DecodeOptional(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &dst)
	assert.True(t, ok)
	assert.Equal(t, "full", dst.Mode)

	ok = DecodeOptional(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"single"}`)), &dst)
	assert.True(t, ok)
	assert.Equal(t, "single", dst.Mode)

	rec = httptest.NewRecorder()
	ok = DecodeOptional(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":`)), &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestAttachment(t *testing.T) {
	rec := httptest.NewRecorder()
	Attachment(rec, "1_spring.csv", "text/csv; charset=utf-8", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="1_spring.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", rec.Body.String())
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
