package nevermined

// Schema returns the JSON Schema every Info must satisfy. A fresh map is
// returned on each call so callers may embed it without aliasing.
func Schema() map[string]interface{} {
	networks := make([]interface{}, 0, 8)
	for _, n := range networkEnum() {
		networks = append(networks, n)
	}
	schemes := make([]interface{}, 0, 3)
	for _, s := range schemeEnum() {
		schemes = append(schemes, s)
	}

	return map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"plan_id": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"agent_id": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
			},
			"max_amount": map[string]interface{}{
				"type":    "string",
				"pattern": "^[0-9]+$",
			},
			"network": map[string]interface{}{
				"type": "string",
				"enum": networks,
			},
			"scheme": map[string]interface{}{
				"type": "string",
				"enum": schemes,
			},
			"subscriber_address": map[string]interface{}{
				"type":    "string",
				"pattern": "^0x[a-fA-F0-9]{40}$",
			},
			"environment": map[string]interface{}{
				"type": "string",
			},
		},
		"required":             []interface{}{"plan_id", "agent_id", "max_amount", "network", "scheme"},
		"additionalProperties": false,
	}
}
