package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/api/handlers"
	"github.com/procflow/procflow/internal/callable"
	"github.com/procflow/procflow/internal/definition"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/platform/metrics"
	"github.com/procflow/procflow/internal/runtime"
	"github.com/procflow/procflow/internal/store"
	"github.com/procflow/procflow/internal/tracker"
)

type apiFixture struct {
	ts      *httptest.Server
	manager *runtime.Manager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.Config{
		Service: config.ServiceConfig{Name: "procflow"},
		Engine:  config.EngineConfig{HistoryLimit: 100, SyncTimeout: 2 * time.Second},
		Retention: config.RetentionConfig{
			Schedule:       "@every 1h",
			EngineMaxAge:   time.Hour,
			DanglingMaxAge: 10 * time.Minute,
		},
		Version: "test",
	}
	log := logger.NewNop()
	nodes := store.NewMemoryNodeExecutionStore()
	sink := tracker.NewSink(tracker.NewMemoryQueue(), nodes, nil, log)
	t.Cleanup(func() { sink.Close() })

	manager := runtime.New(runtime.Options{
		Config:         cfg,
		Logger:         log,
		Definitions:    store.NewMemoryDefinitionStore(),
		Executions:     store.NewMemoryExecutionStore(),
		NodeExecutions: nodes,
		Builder:        definition.NewBuilder(callable.NewRegistry()),
		Sink:           sink,
	})
	t.Cleanup(manager.Stop)

	hub := handlers.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := New(cfg, log, manager, metrics.New("procflow_test"), hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, manager: manager}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

var approvalDefinition = map[string]interface{}{
	"name":          "approval",
	"start_node_id": "start",
	"nodes": []map[string]interface{}{
		{"id": "start", "type": "start", "next_nodes": []string{"approve"}},
		{"id": "approve", "type": "user_task", "next_nodes": []string{"end"}},
		{"id": "end", "type": "end"},
	},
}

func (f *apiFixture) createDefinition(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/definitions", approvalDefinition)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *apiFixture) startExecution(t *testing.T, definitionID string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/definitions/%s/executions", definitionID),
		map[string]interface{}{"data": map[string]interface{}{"amount": 42}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *apiFixture) waitExecutionStatus(t *testing.T, executionID, want string) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.Eventually(t, func() bool {
		var resp *http.Response
		resp, body = f.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
		return resp.StatusCode == http.StatusOK && body["status"] == want
	}, 2*time.Second, 10*time.Millisecond)
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestDefinitionCRUD(t *testing.T) {
	f := newAPIFixture(t)

	id := f.createDefinition(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/definitions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approval", body["name"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/definitions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["definitions"], 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/definitions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/definitions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateDefinitionRejectsInvalidDocument(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/definitions",
		map[string]interface{}{"nodes": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	defID := f.createDefinition(t)
	execID := f.startExecution(t, defID)

	f.waitExecutionStatus(t, execID, "waiting")

	// The waiting token is visible through the activity listing.
	resp, body := f.do(t, http.MethodGet, "/api/v1/executions/"+execID+"/activities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	waiting, ok := body["waiting"].([]interface{})
	require.True(t, ok)
	require.Len(t, waiting, 1)
	tokenID := waiting[0].(map[string]interface{})["id"].(string)

	resp, body = f.do(t, http.MethodPost,
		"/api/v1/executions/"+execID+"/activities/approve/complete",
		map[string]interface{}{"token_id": tokenID, "data": map[string]interface{}{"approved": true}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(map[string]interface{})
	assert.Equal(t, true, token["data"].(map[string]interface{})["approved"])

	f.waitExecutionStatus(t, execID, "completed")

	// The audit trail recorded every visit.
	require.Eventually(t, func() bool {
		resp, body = f.do(t, http.MethodGet, "/api/v1/executions/"+execID+"/nodes", nil)
		trail, _ := body["nodeExecutions"].([]interface{})
		return resp.StatusCode == http.StatusOK && len(trail) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCompleteActivityWithoutTokenIDResumesOldest(t *testing.T) {
	f := newAPIFixture(t)

	defID := f.createDefinition(t)
	execID := f.startExecution(t, defID)
	f.waitExecutionStatus(t, execID, "waiting")

	resp, _ := f.do(t, http.MethodPost,
		"/api/v1/executions/"+execID+"/activities/approve/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.waitExecutionStatus(t, execID, "completed")
}

func TestCompleteActivityErrors(t *testing.T) {
	f := newAPIFixture(t)

	defID := f.createDefinition(t)
	execID := f.startExecution(t, defID)
	f.waitExecutionStatus(t, execID, "waiting")

	resp, _ := f.do(t, http.MethodPost,
		"/api/v1/executions/"+execID+"/activities/approve/complete",
		map[string]interface{}{"token_id": "no-such-token"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost,
		"/api/v1/executions/ghost/activities/approve/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelExecutionOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	defID := f.createDefinition(t)
	execID := f.startExecution(t, defID)
	f.waitExecutionStatus(t, execID, "waiting")

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/executions/"+execID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	body := f.waitExecutionStatus(t, execID, "failed")
	assert.Equal(t, "canceled", body["error"])

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/executions/"+execID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartExecutionUnknownDefinitionOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/definitions/ghost/executions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
