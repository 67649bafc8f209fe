package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/cluster"
	"github.com/serengeti-db/serengeti/internal/executor"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/metrics"
	"github.com/serengeti-db/serengeti/internal/replication"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dataDir := t.TempDir()

	cat, err := catalog.New(dataDir, nil, nil)
	require.NoError(t, err, "catalog.New")
	reg := metrics.New()
	membership := cluster.NewMembership("self", "127.0.0.1", reg)
	transport := replication.New(replication.DefaultConfig("self"), membership, cat, reg, nil)
	cat.SetSink(transport)

	memMgr := memory.New(64<<20, 0.7, reg)
	exec := executor.New(cat, executor.NewCatalogStatistics(cat), reg, nil, memMgr)

	admin, err := NewAdminAuth(filepath.Join(dataDir, "admin.token"), "test-secret")
	require.NoError(t, err, "NewAdminAuth")

	return New(cat, exec, membership, transport, nil, reg, nil, admin, 0)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRoot(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "self", resp.This.ID)
	assert.Equal(t, 1, resp.Cluster.Size)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "UP", resp.Status)
}

func TestHandleMeta(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.catalog.CreateDatabase("d"))
	require.NoError(t, s.catalog.CreateTable("d", "t", nil))

	rec := doRequest(t, s.Handler(), http.MethodGet, "/meta", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out["d"], 1)
	assert.Equal(t, "t", out["d"][0])
}

func TestHandleQueryBatchIsolatesStatementErrors(t *testing.T) {
	s := newTestServer(t)
	body := "CREATE DATABASE d; CREATE TABLE d.t (id INT); NOT A VALID STATEMENT; INSERT INTO d.t (id) VALUES (1)"

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 4)

	assert.True(t, results[0].Executed, "CREATE DATABASE should succeed")
	assert.True(t, results[1].Executed, "CREATE TABLE should succeed")
	assert.False(t, results[2].Executed, "invalid statement should fail")
	assert.NotEmpty(t, results[2].Error)
	assert.True(t, results[3].Executed, "statement after a failed one should still execute")
}

func TestHandleQueryJoin(t *testing.T) {
	s := newTestServer(t)
	body := `
CREATE DATABASE d;
CREATE TABLE d.users (id INT, name STRING);
CREATE TABLE d.orders (id INT, user_id INT, total INT);
INSERT INTO d.users (id, name) VALUES (1, 'alice'), (2, 'bob');
INSERT INTO d.orders (id, user_id, total) VALUES (10, 1, 100), (11, 2, 50), (12, 1, 25);
SELECT name, total FROM d.orders JOIN d.users ON user_id = id ORDER BY total DESC`

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 6)

	last := results[len(results)-1]
	require.True(t, last.Executed, last.Error)
	require.Len(t, last.List, 3)
	assert.Equal(t, "alice", last.List[0]["name"])
	assert.EqualValues(t, 100, last.List[0]["total"])
}

func TestHandlePostReplicateInsert(t *testing.T) {
	s := newTestServer(t)

	msg := PostMessage{
		Type:  "ReplicateInsertObject",
		DB:    "d",
		Table: "t",
		RowID: "row1",
		JSON:  map[string]any{"name": "alice"},
	}
	rec := doRequest(t, s.Handler(), http.MethodPost, "/post", msg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	row, ok, err := s.catalog.Get("d", "t", "row1")
	require.NoError(t, err)
	require.True(t, ok, "expected replicated row to exist")
	assert.Equal(t, "alice", row.Columns["name"].Str)
}

func TestHandlePostUnknownType(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/post", PostMessage{Type: "Bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expected 401 without bearer token")
}

func TestAdminTokenExchangeAndUse(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/admin/token", AdminTokenRequest{Secret: "test-secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokenResp AdminTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))
	require.NotEmpty(t, tokenResp.Token)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	adminRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(adminRec, req)
	assert.Equal(t, http.StatusOK, adminRec.Code, "expected 200 with minted token")
}

func TestAdminAcceptsRawConfiguredSecret(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer test-secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "expected 200 with raw configured secret")
}

func TestAdminTokenWrongSecretRejected(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/admin/token", AdminTokenRequest{Secret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "expected 401 for wrong secret")
}
