package definition

import (
	"fmt"

	"github.com/procflow/procflow/internal/callable"
	"github.com/procflow/procflow/internal/engine"
)

// Builder wires validated definitions into running engines, resolving
// callable names through the registry and compiling expression sources.
type Builder struct {
	registry *callable.Registry
}

// NewBuilder creates a builder backed by the given callable registry.
func NewBuilder(registry *callable.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build spawns an engine for one instance of the definition and registers
// a worker per node. The returned engine is ready for StartWorkflow.
func (b *Builder) Build(workflowID string, def *Definition, opts engine.Options) (*engine.Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	eng := engine.New(workflowID, opts)

	for _, n := range def.Nodes {
		spec, err := b.resolve(n)
		if err != nil {
			eng.Stop()
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		if err := eng.AddNode(spec); err != nil {
			eng.Stop()
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
	}

	return eng, nil
}

// resolve translates a serializable node spec into an engine spec with
// first-class callables.
func (b *Builder) resolve(n NodeSpec) (engine.NodeSpec, error) {
	kind, err := kindOf(n.Type)
	if err != nil {
		return engine.NodeSpec{}, err
	}

	spec := engine.NodeSpec{
		ID:           n.ID,
		Name:         n.Name,
		Kind:         kind,
		ActivityType: engine.ActivityType(n.ActivityType),
		GatewayType:  engine.GatewayType(n.GatewayType),
		Next:         append([]string(nil), n.NextNodes...),
		FormFields:   append([]engine.FormField(nil), n.FormFields...),
	}

	switch {
	case n.WorkFn != "":
		spec.Work, err = b.registry.Work(n.WorkFn)
		if err != nil {
			return engine.NodeSpec{}, err
		}
	case n.Script != "":
		spec.Work, err = callable.CompileScript(n.Script)
		if err != nil {
			return engine.NodeSpec{}, err
		}
	}

	switch {
	case n.ConditionFn != "":
		spec.Condition, err = b.registry.Condition(n.ConditionFn)
		if err != nil {
			return engine.NodeSpec{}, err
		}
	case len(n.Conditions) > 0:
		spec.Condition, err = callable.CompileConditions(n.Conditions)
		if err != nil {
			return engine.NodeSpec{}, err
		}
	}

	return spec, nil
}
