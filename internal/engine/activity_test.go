package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTaskEngine(t *testing.T) *Engine {
	return newTestEngine(t, Options{},
		NodeSpec{ID: "start", Kind: NodeKindStart, Next: []string{"approve"}},
		NodeSpec{ID: "approve", Kind: NodeKindActivity, ActivityType: ActivityTypeUser,
			FormFields: []FormField{{Name: "approved", Type: "boolean", Required: true}},
			Next:       []string{"end"}},
		NodeSpec{ID: "end", Kind: NodeKindEnd},
	)
}

func TestUserTaskPausesUntilCompleted(t *testing.T) {
	e := userTaskEngine(t)

	tokenID, err := e.StartWorkflow(map[string]interface{}{"amount": 250})
	require.NoError(t, err)

	waitStatus(t, e, StatusWaiting)

	waiting := e.ListWaiting("")
	require.Len(t, waiting, 1)
	assert.Equal(t, tokenID, waiting[0].ID)
	assert.Equal(t, "approve", waiting[0].NodeID)
	assert.Equal(t, ActivityTypeUser, waiting[0].ActivityType)
	require.Len(t, waiting[0].FormFields, 1)
	assert.Equal(t, "approved", waiting[0].FormFields[0].Name)

	tok, err := e.CompleteActivity("approve", tokenID, map[string]interface{}{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, true, tok.Data["approved"])
	assert.Equal(t, 250, tok.Data["amount"])

	waitStatus(t, e, StatusCompleted)

	state, err := e.GetState()
	require.NoError(t, err)
	require.Len(t, state.CompletedTokens, 1)
	assert.Equal(t, true, state.CompletedTokens[0].Data["approved"])
}

func TestManualTaskPausesUntilCompleted(t *testing.T) {
	e := newTestEngine(t, Options{},
		NodeSpec{ID: "start", Kind: NodeKindStart, Next: []string{"ship"}},
		NodeSpec{ID: "ship", Kind: NodeKindActivity, ActivityType: ActivityTypeManual, Next: []string{"end"}},
		NodeSpec{ID: "end", Kind: NodeKindEnd},
	)

	tokenID, err := e.StartWorkflow(nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusWaiting)

	_, err = e.CompleteActivity("ship", tokenID, nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusCompleted)
}

func TestCompleteActivityUnknownToken(t *testing.T) {
	e := userTaskEngine(t)

	_, err := e.StartWorkflow(nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusWaiting)

	_, err = e.CompleteActivity("approve", "no-such-token", nil)
	assert.ErrorIs(t, err, ErrTokenNotWaiting)
}

func TestCompleteActivityWrongNode(t *testing.T) {
	e := userTaskEngine(t)

	tokenID, err := e.StartWorkflow(nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusWaiting)

	_, err = e.CompleteActivity("other", tokenID, nil)
	assert.ErrorIs(t, err, ErrTokenAtDifferentNode)
}

func TestCompleteActivityTwice(t *testing.T) {
	e := userTaskEngine(t)

	tokenID, err := e.StartWorkflow(nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusWaiting)

	_, err = e.CompleteActivity("approve", tokenID, nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusCompleted)

	_, err = e.CompleteActivity("approve", tokenID, nil)
	assert.ErrorIs(t, err, ErrTokenNotWaiting)
}

func TestTriggerUserTaskResumesOldestToken(t *testing.T) {
	e := userTaskEngine(t)

	first, err := e.StartWorkflow(map[string]interface{}{"n": 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(e.ListWaiting("approve")) == 1
	}, waitFor, tick)

	second, err := e.StartWorkflow(map[string]interface{}{"n": 2})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(e.ListWaiting("approve")) == 2
	}, waitFor, tick)

	tok, err := e.TriggerUserTask("approve", nil)
	require.NoError(t, err)
	assert.Equal(t, first, tok.ID)

	remaining := e.ListWaiting("approve")
	require.Len(t, remaining, 1)
	assert.Equal(t, second, remaining[0].ID)
}

func TestTriggerUserTaskWithoutWaitingTokens(t *testing.T) {
	e := userTaskEngine(t)

	_, err := e.TriggerUserTask("approve", nil)
	assert.ErrorIs(t, err, ErrTokenNotWaiting)
}

func TestListWaitingFiltersByNode(t *testing.T) {
	e := newTestEngine(t, Options{},
		NodeSpec{ID: "start", Kind: NodeKindStart, Next: []string{"gw"}},
		NodeSpec{ID: "gw", Kind: NodeKindGateway, GatewayType: GatewayTypeParallel, Next: []string{"a", "b"}},
		NodeSpec{ID: "a", Kind: NodeKindActivity, ActivityType: ActivityTypeUser, Next: []string{"end"}},
		NodeSpec{ID: "b", Kind: NodeKindActivity, ActivityType: ActivityTypeManual, Next: []string{"end"}},
		NodeSpec{ID: "end", Kind: NodeKindEnd},
	)

	_, err := e.StartWorkflow(nil)
	require.NoError(t, err)
	waitStatus(t, e, StatusWaiting)

	assert.Len(t, e.ListWaiting(""), 2)
	assert.Len(t, e.ListWaiting("a"), 1)
	assert.Len(t, e.ListWaiting("b"), 1)
	assert.Empty(t, e.ListWaiting("end"))
}
