package definition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/callable"
	"github.com/procflow/procflow/internal/engine"
)

func buildAndRun(t *testing.T, doc string, initialData map[string]interface{}) engine.State {
	t.Helper()

	def, err := Parse([]byte(doc))
	require.NoError(t, err)

	registry := callable.NewRegistry()
	require.NoError(t, registry.RegisterWork("stamp", func(tok engine.Token) (map[string]interface{}, error) {
		return map[string]interface{}{"stamped": true}, nil
	}))
	require.NoError(t, registry.RegisterCondition("route-by-key", func(tok engine.Token, candidate string) bool {
		return tok.Data["route"] == candidate
	}))

	eng, err := NewBuilder(registry).Build("wf-build-test", def, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(eng.Stop)

	_, err = eng.StartWorkflow(initialData)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := eng.GetStatus()
		return err == nil && s.Status == engine.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	state, err := eng.GetState()
	require.NoError(t, err)
	return state
}

func TestBuildResolvesRegisteredWork(t *testing.T) {
	state := buildAndRun(t, `{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["task"]},
			{"id": "task", "type": "activity", "work_fn": "stamp", "next_nodes": ["end"]},
			{"id": "end", "type": "end"}
		]
	}`, nil)

	require.Len(t, state.CompletedTokens, 1)
	assert.Equal(t, true, state.CompletedTokens[0].Data["stamped"])
}

func TestBuildCompilesScriptActivity(t *testing.T) {
	state := buildAndRun(t, `{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["calc"]},
			{"id": "calc", "type": "activity", "activity_type": "script",
			 "script": "{\"total\": amount * 2}", "next_nodes": ["end"]},
			{"id": "end", "type": "end"}
		]
	}`, map[string]interface{}{"amount": 10})

	require.Len(t, state.CompletedTokens, 1)
	assert.Equal(t, 20, state.CompletedTokens[0].Data["total"])
}

func TestBuildCompilesGatewayConditions(t *testing.T) {
	doc := `{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["gw"]},
			{"id": "gw", "type": "gateway",
			 "conditions": {"high": "amount > 100", "low": "amount <= 100"},
			 "next_nodes": ["high", "low"]},
			{"id": "high", "type": "activity", "work_fn": "stamp", "next_nodes": ["end"]},
			{"id": "low", "type": "end"},
			{"id": "end", "type": "end"}
		]
	}`

	state := buildAndRun(t, doc, map[string]interface{}{"amount": 500})
	require.Len(t, state.CompletedTokens, 1)
	assert.Equal(t, true, state.CompletedTokens[0].Data["stamped"], "high branch runs the stamp work")

	state = buildAndRun(t, doc, map[string]interface{}{"amount": 50})
	require.Len(t, state.CompletedTokens, 1)
	assert.Nil(t, state.CompletedTokens[0].Data["stamped"], "low branch ends directly")
}

func TestBuildResolvesNamedCondition(t *testing.T) {
	state := buildAndRun(t, `{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["gw"]},
			{"id": "gw", "type": "gateway", "condition_fn": "route-by-key", "next_nodes": ["a", "b"]},
			{"id": "a", "type": "end"},
			{"id": "b", "type": "activity", "work_fn": "stamp", "next_nodes": ["end"]},
			{"id": "end", "type": "end"}
		]
	}`, map[string]interface{}{"route": "b"})

	require.Len(t, state.CompletedTokens, 1)
	assert.Equal(t, true, state.CompletedTokens[0].Data["stamped"])
}

func TestBuildUnknownWorkName(t *testing.T) {
	def, err := Parse([]byte(`{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["task"]},
			{"id": "task", "type": "activity", "work_fn": "ghost", "next_nodes": ["end"]},
			{"id": "end", "type": "end"}
		]
	}`))
	require.NoError(t, err)

	_, err = NewBuilder(callable.NewRegistry()).Build("wf-x", def, engine.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildBadScript(t *testing.T) {
	def, err := Parse([]byte(`{
		"start_node_id": "start",
		"nodes": [
			{"id": "start", "type": "start", "next_nodes": ["task"]},
			{"id": "task", "type": "activity", "activity_type": "script",
			 "script": "amount >", "next_nodes": ["end"]},
			{"id": "end", "type": "end"}
		]
	}`))
	require.NoError(t, err)

	_, err = NewBuilder(callable.NewRegistry()).Build("wf-x", def, engine.Options{})
	assert.Error(t, err)
}
