package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRoute(t *testing.T) {
	app, _ := setupTestApp(t)
	status, _ := do(t, app, http.MethodPut, "/dataset/ubc/sections", coursesZip(t))
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, app, http.MethodPost, "/query", []byte(`{
		"WHERE": {"IS": {"ubc_dept": "cpsc"}},
		"OPTIONS": {"COLUMNS": ["ubc_id", "ubc_avg"], "ORDER": "ubc_avg"}
	}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{
		map[string]any{"ubc_id": "110", "ubc_avg": 72.0},
		map[string]any{"ubc_id": "310", "ubc_avg": 78.5},
	}, body["result"])

	status, body = do(t, app, http.MethodPost, "/query", []byte(`{
		"WHERE": {},
		"OPTIONS": {"COLUMNS": ["ubc_year", "count"], "ORDER": {"dir": "DOWN", "keys": ["count"]}},
		"TRANSFORMATIONS": {"GROUP": ["ubc_year"], "APPLY": [{"count": {"COUNT": "ubc_uuid"}}]}
	}`))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{
		map[string]any{"ubc_year": 2016.0, "count": 2.0},
		map[string]any{"ubc_year": 2015.0, "count": 1.0},
	}, body["result"])
}

func TestQueryRoute_Errors(t *testing.T) {
	app, _ := setupTestApp(t)
	status, _ := do(t, app, http.MethodPut, "/dataset/ubc/sections", coursesZip(t))
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"WHERE": `},
		{"array body", `[1, 2]`},
		{"null body", `null`},
		{"trailing data", `{"WHERE": {}, "OPTIONS": {"COLUMNS": ["ubc_avg"]}} {}`},
		{"missing options", `{"WHERE": {}}`},
		{"unknown dataset", `{"WHERE": {}, "OPTIONS": {"COLUMNS": ["other_avg"]}}`},
		{"interior wildcard", `{"WHERE": {"IS": {"ubc_dept": "c*c"}}, "OPTIONS": {"COLUMNS": ["ubc_avg"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, "/query", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestQueryManagementRoutes(t *testing.T) {
	app, _ := setupTestApp(t)
	status, _ := do(t, app, http.MethodPut, "/dataset/ubc/sections", coursesZip(t))
	require.Equal(t, http.StatusOK, status)

	do(t, app, http.MethodPost, "/query", []byte(`{"WHERE": {}, "OPTIONS": {"COLUMNS": ["ubc_avg"]}}`))
	do(t, app, http.MethodPost, "/query", []byte(`{"WHERE": {}, "OPTIONS": {"COLUMNS": ["nope_avg"]}}`))

	status, body := do(t, app, http.MethodGet, "/api/v1/queries/active", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.0, body["count"])

	status, body = do(t, app, http.MethodGet, "/api/v1/queries/history?limit=1", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["count"])
	queries := body["queries"].([]any)
	latest := queries[0].(map[string]any)
	assert.Equal(t, "failed", latest["status"])

	status, body = do(t, app, http.MethodGet, "/api/v1/queries/"+latest["id"].(string), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = do(t, app, http.MethodGet, "/api/v1/queries/doesnotexist", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
