package service

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

// DefinedTool adapts a ToolDefinition to eino's tool.InvokableTool.
type DefinedTool struct {
	def entity.ToolDefinition
}

var _ tool.InvokableTool = (*DefinedTool)(nil)

func NewDefinedTool(def entity.ToolDefinition) *DefinedTool {
	return &DefinedTool{def: def}
}

func (d *DefinedTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	params := make(map[string]*schema.ParameterInfo, len(d.def.Parameters))
	for _, p := range d.def.Parameters {
		params[p.Name] = &schema.ParameterInfo{
			Desc:     p.Description,
			Type:     toSchemaDataType(p.Type),
			Required: p.Required,
		}
	}
	return &schema.ToolInfo{
		Name:        d.def.Name,
		Desc:        d.def.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun decodes argumentsInJSON into a map and marshals the handler result.
func (d *DefinedTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]interface{}{}
	if argumentsInJSON != "" && argumentsInJSON != "{}" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", d.def.Name, err)
		}
	}
	for _, p := range d.def.Parameters {
		if _, ok := args[p.Name]; p.Required && !ok {
			return "", fmt.Errorf("missing required argument %q", p.Name)
		}
	}

	result, err := d.def.Handler(ctx, args)
	if err != nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s result: %w", d.def.Name, err)
	}
	return string(out), nil
}

func toSchemaDataType(t string) schema.DataType {
	switch t {
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "object":
		return schema.Object
	case "array":
		return schema.Array
	default:
		return schema.String
	}
}
