package entity

import "context"

// ToolHandler runs a tool with decoded JSON arguments. The result is
// marshalled to JSON before it reaches the model.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolDefinition describes an in-process tool.
type ToolDefinition struct {
	// Name is the tool's unique name, e.g. "read_file".
	Name        string
	Description string
	Parameters  []ParameterDef
	Handler     ToolHandler
}

// ParameterDef defines a single tool parameter.
type ParameterDef struct {
	Name string
	// Type is one of string, number, integer, boolean, object, array.
	Type        string
	Description string
	Required    bool
}

// ToolError is what a failing tool returns to the model instead of a result.
type ToolError struct {
	Error string `json:"error"`
}
