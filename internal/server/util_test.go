package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/":           "",
		"  ":          "",
		"api":         "/api",
		"/api":        "/api",
		"/api/":       "/api",
		" api ":       "/api",
		"//api//v1/":  "/api/v1",
		"/api/../ops": "/ops",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), "sanitizeBase(%q)", in)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, http.StatusCreated, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}
