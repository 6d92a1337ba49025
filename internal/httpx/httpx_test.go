package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, http.StatusCreated, map[string]string{"id": "1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env struct {
		Status Status            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, Status{Code: 201, Text: "Created"}, env.Status)
	assert.Equal(t, "1", env.Data["id"])
}

func TestErrorHasNullData(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusConflict, "email already registered")
	assert.JSONEq(t, `{"status":{"code":409,"text":"email already registered"},"data":null}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@x.com"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	require.NoError(t, DecodeJSON(r, &dst))
	assert.Equal(t, "a@x.com", dst.Email)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
	assert.ErrorIs(t, DecodeJSON(r, &dst), ErrMalformedBody)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	assert.ErrorIs(t, DecodeJSON(r, &dst), ErrMalformedBody)
}

func TestLimitBody(t *testing.T) {
	var decodeErr error
	h := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]string
		decodeErr = DecodeJSON(r, &v)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"far-too-long@x.com"}`))
	h.ServeHTTP(httptest.NewRecorder(), r)

	var tooBig *http.MaxBytesError
	assert.True(t, errors.As(decodeErr, &tooBig))
}

func TestNoStore(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStore(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
