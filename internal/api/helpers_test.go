package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/ingest"
	"github.com/basekick-labs/insight/internal/queryregistry"
	"github.com/basekick-labs/insight/internal/service"
)

const testCourse = `{"result":[
 {"id":1,"Course":"310","Title":"sftwr eng","Professor":"holmes","Subject":"cpsc","Year":"2015","Avg":78.5,"Pass":100,"Fail":4,"Audit":1},
 {"id":2,"Course":"110","Title":"comp prog","Professor":"kiczales","Subject":"cpsc","Year":"2016","Avg":72,"Pass":300,"Fail":20,"Audit":2},
 {"id":3,"Course":"100","Title":"calculus","Professor":"ng","Subject":"math","Year":"2016","Avg":68.25,"Pass":250,"Fail":30,"Audit":0}
]}`

func coursesZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("courses/CPSC")
	require.NoError(t, err)
	_, err = w.Write([]byte(testCourse))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func setupTestApp(t *testing.T) (*fiber.App, *service.Service) {
	t.Helper()
	svc := service.New(service.Config{
		Store:   dataset.NewStore(dataset.StoreConfig{}, zerolog.Nop()),
		Parser:  ingest.NewParser(ingest.ParserConfig{}, zerolog.Nop()),
		Queries: queryregistry.NewRegistry(&queryregistry.RegistryConfig{HistorySize: 20}, zerolog.Nop()),
	}, zerolog.Nop())

	server := NewServer(nil, zerolog.Nop())
	server.RegisterRoutes()
	app := server.GetApp()
	NewDatasetsHandler(svc, zerolog.Nop()).RegisterRoutes(app)
	NewQueryHandler(svc, zerolog.Nop()).RegisterRoutes(app)
	NewQueryManagementHandler(svc.Queries(), zerolog.Nop()).RegisterRoutes(app)
	return app, svc
}

// do sends a request and decodes the JSON response body.
func do(t *testing.T, app *fiber.App, method, path string, body []byte) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp.StatusCode, out
}
