package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/framewell/dbsvc/internal/demo"
	"github.com/framewell/dbsvc/internal/testutil/pgtest"
	"github.com/framewell/dbsvc/pkg/crud"
	"github.com/framewell/dbsvc/pkg/schema"
)

func newTestServer(t *testing.T, schemaName string) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	pool := pgtest.SchemaPool(ctx, t, schemaName)
	require.NoError(t, demo.Apply(ctx, pool))

	catalog := schema.NewCatalog(pool, schemaName, zaptest.NewLogger(t))
	require.NoError(t, catalog.Reload(ctx))

	executor := crud.New(pool, catalog, zaptest.NewLogger(t))
	srv := httptest.NewServer(NewServer(executor, catalog, "", zaptest.NewLogger(t)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func doList(t *testing.T, url string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var rows []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	return resp, rows
}

func TestServerShotScenario(t *testing.T) {
	srv := newTestServer(t, "dbsvc_rest_scenario_test")

	resp, body := do(t, http.MethodPost, srv.URL+"/Shot",
		`{"values": [{"id": 1, "name": "s100"}, {"id": 2, "name": "s200"}, {"id": 3, "name": "s300"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])

	resp, rows := doList(t, srv.URL+"/Shot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, rows, 3)

	resp, rows = doList(t, srv.URL+"/Shot?filters="+url.QueryEscape(`{"eq": {"name": "s200"}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(2), rows[0]["id"])

	resp, body = do(t, http.MethodPut, srv.URL+"/Shot",
		`{"values": {"name": "s350"}, "filters": {"eq": {"id": 3}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/Shot",
		`{"filters": {"eq": {"id": 2}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, rows = doList(t, srv.URL+"/Shot?order=id")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 2)
	assert.Equal(t, "s100", rows[0]["name"])
	assert.Equal(t, "s350", rows[1]["name"])
}

func TestServerAssociationScenario(t *testing.T) {
	srv := newTestServer(t, "dbsvc_rest_assoc_test")

	resp, _ := do(t, http.MethodPost, srv.URL+"/Shot",
		`{"values": [{"id": 1, "name": "s100"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/Asset",
		`{"values": [{"id": 10, "name": "tree"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/AssetXShot",
		`{"values": {"asset_id": 10, "shot_id": 1}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, rows := doList(t, srv.URL+"/AssetXShot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	assert.Equal(t, "s100", rows[0]["Shot.name"])
	assert.Equal(t, "tree", rows[0]["Asset.name"])

	resp, body = do(t, http.MethodPut, srv.URL+"/AssetXShot",
		`{"values": {"shot_id": 2}, "filters": {"eq": {"asset_id": 10}}}`)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "unsupported_operation", body["error"])

	resp, body = do(t, http.MethodDelete, srv.URL+"/AssetXShot",
		`{"filters": {"eq": {"asset_id": 10}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func TestServerErrorStatuses(t *testing.T) {
	srv := newTestServer(t, "dbsvc_rest_errors_test")

	resp, body := do(t, http.MethodGet, srv.URL+"/Banana", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_table", body["error"])

	resp, body = do(t, http.MethodGet,
		srv.URL+"/Shot?filters="+url.QueryEscape(`{"eq": {"banana": 1}}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_filter_column", body["error"])

	resp, body = do(t, http.MethodGet,
		srv.URL+"/Shot?filters="+url.QueryEscape(`{"eq": {"id": "one"}}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "filter_type_mismatch", body["error"])

	resp, body = do(t, http.MethodGet,
		srv.URL+"/Shot?filters="+url.QueryEscape(`{"is": {"id": 1}}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_filter", body["error"])

	resp, body = do(t, http.MethodPost, srv.URL+"/Shot",
		`{"values": {"name": "no key"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_primary_key", body["error"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/Shot",
		`{"values": {"id": 1, "name": "s100"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = do(t, http.MethodPost, srv.URL+"/Shot",
		`{"values": {"id": 1, "name": "again"}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate_key", body["error"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/Shot/extra", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerRootListsTables(t *testing.T) {
	srv := newTestServer(t, "dbsvc_rest_root_test")

	resp, body := do(t, http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dbsvc", body["service"])

	tables, ok := body["tables"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"Shot", "Asset", "AssetXShot"}, tables)
}

func TestServerBatch(t *testing.T) {
	srv := newTestServer(t, "dbsvc_rest_batch_test")

	resp, body := do(t, http.MethodPost, srv.URL+"/$batch", `{"commands": [
		{"cmd": "create", "table": "Shot", "values": [{"id": 1, "name": "s100"}, {"id": 2, "name": "s200"}]},
		{"cmd": "update", "table": "Shot", "values": {"name": "s250"}, "filters": {"eq": {"id": 2}}},
		{"cmd": "delete", "table": "Shot", "filters": {"eq": {"id": 1}}}
	]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{float64(2), float64(1), float64(1)}, body["results"])

	resp, rows := doList(t, srv.URL+"/Shot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	assert.Equal(t, "s250", rows[0]["name"])

	// a failing command undoes the whole batch
	resp, body = do(t, http.MethodPost, srv.URL+"/$batch", `{"commands": [
		{"cmd": "create", "table": "Shot", "values": {"id": 5, "name": "s500"}},
		{"cmd": "create", "table": "Banana", "values": {"id": 1}}
	]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_table", body["error"])

	_, rows = doList(t, srv.URL+"/Shot?filters="+url.QueryEscape(`{"eq": {"id": 5}}`))
	assert.Empty(t, rows)

	resp, _ = do(t, http.MethodGet, srv.URL+"/$batch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
