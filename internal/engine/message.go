package engine

// message is the tagged union delivered to the engine mailbox. Workers emit
// event messages; callers emit request messages answered over reply
// channels so that all state mutations happen on the engine goroutine.
type message interface {
	isMessage()
}

// forwardToken routes a token to the named node for execution.
type forwardToken struct {
	nodeID string
	token  Token
}

// nodeExecuted reports that a worker finished its local processing. For
// failed work functions the token carries the poisoned payload and failed
// is set so the tracker records the visit as failed.
type nodeExecuted struct {
	nodeID string
	token  Token
	failed bool
	errMsg string
}

// activityWaiting reports that a token paused at an externally-completed
// activity.
type activityWaiting struct {
	nodeID string
	token  Token
}

// activityCompleted reports that an external completion resumed a token.
type activityCompleted struct {
	nodeID string
	token  Token
}

// workflowCompleted reports that a token passed through an end event.
type workflowCompleted struct {
	nodeID string
	token  Token
}

// tokenSplit reports that a gateway cloned a token into per-branch copies;
// the parent id leaves the active census. Emitted after the branch
// forwards so the census never drains to empty mid-split.
type tokenSplit struct {
	nodeID string
	parent Token
}

// tokenDropped reports that a branch was abandoned (forward to an unknown
// node after the token had already left its worker).
type tokenDropped struct {
	token Token
}

func (forwardToken) isMessage()      {}
func (nodeExecuted) isMessage()      {}
func (activityWaiting) isMessage()   {}
func (activityCompleted) isMessage() {}
func (workflowCompleted) isMessage() {}
func (tokenSplit) isMessage()        {}
func (tokenDropped) isMessage()      {}

// Synchronous requests.

type addNodeRequest struct {
	spec  NodeSpec
	reply chan error
}

type startWorkflowRequest struct {
	data  map[string]interface{}
	reply chan startWorkflowReply
}

type startWorkflowReply struct {
	tokenID string
	err     error
}

type stateRequest struct {
	reply chan State
}

type statusRequest struct {
	reply chan StatusSummary
}

type stopRequest struct {
	reply chan struct{}
}

func (addNodeRequest) isMessage()       {}
func (startWorkflowRequest) isMessage() {}
func (stateRequest) isMessage()         {}
func (statusRequest) isMessage()        {}
func (stopRequest) isMessage()          {}
