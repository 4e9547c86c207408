package definition

import (
	"encoding/json"
	"fmt"
)

// Parse decodes a definition document and validates it. The document
// format is the JSON surface accepted by the loader:
//
//	{
//	  "start_node_id": "start",
//	  "nodes": [
//	    {"id": "start", "type": "start", "next_nodes": ["approve"]},
//	    {"id": "approve", "type": "user_task", "form_fields": [...], "next_nodes": ["end"]},
//	    {"id": "end", "type": "end"}
//	  ]
//	}
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition document: %w", err)
	}

	for i := range def.Nodes {
		normalize(&def.Nodes[i])
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// normalize applies the document aliases and defaults: user_task becomes
// activity/user, activities default to service, gateways to exclusive.
func normalize(n *NodeSpec) {
	if n.Type == "user_task" {
		n.Type = "activity"
		if n.ActivityType == "" {
			n.ActivityType = "user"
		}
	}
	if n.Type == "activity" && n.ActivityType == "" {
		n.ActivityType = "service"
	}
	if n.Type == "gateway" && n.GatewayType == "" {
		n.GatewayType = "exclusive"
	}
}
