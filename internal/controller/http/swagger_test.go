package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestSwaggerHandler_SpecJSON(t *testing.T) {
	spec := []byte(`
openapi: 3.0.3
info:
  title: test
paths:
  /healthz:
    get:
      responses:
        200:
          description: ok
`)
	r := chi.NewRouter()
	NewSwaggerHandler("test", spec).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	responses := doc["paths"].(map[string]interface{})["/healthz"].(map[string]interface{})["get"].(map[string]interface{})["responses"].(map[string]interface{})
	if _, ok := responses["200"]; !ok {
		t.Errorf("responses = %v, want key 200", responses)
	}
}

func TestSwaggerHandler_InvalidSpec(t *testing.T) {
	r := chi.NewRouter()
	NewSwaggerHandler("test", []byte("a: [")).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
