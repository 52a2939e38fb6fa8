package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetRoutes(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodPut, "/dataset/ubc/sections", coursesZip(t))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"ubc"}, body["result"])

	status, body = do(t, app, http.MethodGet, "/datasets", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{
		map[string]any{"id": "ubc", "kind": "sections", "numRows": 3.0},
	}, body["result"])

	status, body = do(t, app, http.MethodDelete, "/dataset/ubc", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ubc", body["result"])

	status, body = do(t, app, http.MethodGet, "/datasets", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["result"])
}

func TestDatasetRoutes_Errors(t *testing.T) {
	app, _ := setupTestApp(t)
	status, _ := do(t, app, http.MethodPut, "/dataset/taken/sections", coursesZip(t))
	assert.Equal(t, http.StatusOK, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
	}{
		{"unknown kind", http.MethodPut, "/dataset/x/courses", coursesZip(t), http.StatusBadRequest},
		{"underscore id", http.MethodPut, "/dataset/a_b/sections", coursesZip(t), http.StatusBadRequest},
		{"duplicate id", http.MethodPut, "/dataset/taken/sections", coursesZip(t), http.StatusBadRequest},
		{"not a zip", http.MethodPut, "/dataset/x/sections", []byte("plain text"), http.StatusBadRequest},
		{"empty body", http.MethodPut, "/dataset/x/sections", nil, http.StatusBadRequest},
		{"remove invalid id", http.MethodDelete, "/dataset/a_b", nil, http.StatusBadRequest},
		{"remove missing", http.MethodDelete, "/dataset/missing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDatasetMetrics(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/api/v1/metrics/datasets", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, body["datasets"])
	assert.Equal(t, 0.0, body["records"])

	for _, id := range []string{"a", "b"} {
		status, _ = do(t, app, http.MethodPut, "/dataset/"+id+"/sections", coursesZip(t))
		require.Equal(t, http.StatusOK, status)
	}

	status, body = do(t, app, http.MethodGet, "/api/v1/metrics/datasets", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, body["datasets"])
	assert.Equal(t, 6.0, body["records"])
	assert.Equal(t, map[string]any{"sections": map[string]any{"datasets": 2.0, "records": 6.0}}, body["by_kind"])
}
