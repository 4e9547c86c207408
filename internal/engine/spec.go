package engine

// NodeKind identifies the worker implementation for a node.
type NodeKind string

const (
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
	NodeKindActivity NodeKind = "activity"
	NodeKindGateway  NodeKind = "gateway"
)

// ActivityType selects the activity variant.
type ActivityType string

const (
	ActivityTypeService ActivityType = "service"
	ActivityTypeScript  ActivityType = "script"
	ActivityTypeUser    ActivityType = "user"
	ActivityTypeManual  ActivityType = "manual"
)

// GatewayType selects the routing behavior of a gateway.
type GatewayType string

const (
	GatewayTypeExclusive GatewayType = "exclusive"
	GatewayTypeParallel  GatewayType = "parallel"
	GatewayTypeInclusive GatewayType = "inclusive"
)

// WorkFunc performs the synchronous work of a service or script activity.
// The returned map is merged right-biased into the token payload.
type WorkFunc func(t Token) (map[string]interface{}, error)

// ConditionFunc decides whether a token may be routed to a successor.
type ConditionFunc func(t Token, candidate string) bool

// FormField describes one input field of a user task form.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// NodeSpec describes one node to AddNode. Callables are first-class here;
// the definition loader resolves serializable names and expressions into
// funcs before wiring an engine.
type NodeSpec struct {
	ID           string
	Name         string
	Kind         NodeKind
	ActivityType ActivityType
	GatewayType  GatewayType
	Next         []string
	Work         WorkFunc
	Condition    ConditionFunc
	FormFields   []FormField
}

// externallyCompleted reports whether the node pauses tokens for an
// external Complete call.
func (s NodeSpec) externallyCompleted() bool {
	return s.Kind == NodeKindActivity &&
		(s.ActivityType == ActivityTypeUser || s.ActivityType == ActivityTypeManual)
}

// nodeType is the label recorded in the tracker and audit trail.
func (s NodeSpec) nodeType() string {
	switch s.Kind {
	case NodeKindActivity:
		return string(s.Kind) + ":" + string(s.ActivityType)
	case NodeKindGateway:
		return string(s.Kind) + ":" + string(s.GatewayType)
	default:
		return string(s.Kind)
	}
}
