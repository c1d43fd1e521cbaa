package tools

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// IntegerProperty creates an integer property with a default value.
func IntegerProperty(description string, def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
		"default":     def,
	}
}

// WithThought adds a thought parameter to an existing schema.
// If requireThought is true, "thought" is added to the required array.
func WithThought(schema map[string]any, requireThought bool) map[string]any {
	result := make(map[string]any, len(schema))
	for k, v := range schema {
		result[k] = v
	}

	props := map[string]any{}
	if existing, ok := result["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty(
		"Your reasoning about why you're reading or writing memory and what you expect to find or keep.",
	)
	result["properties"] = props

	if requireThought {
		required, _ := result["required"].([]string)
		result["required"] = append(append([]string{}, required...), "thought")
	}

	return result
}

// BuildSchemaWithThought creates an ObjectSchema and adds thought support in one call.
func BuildSchemaWithThought(properties map[string]any, requireThought bool, required ...string) map[string]any {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
