package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Invoker runs named tools on behalf of personas under a per-task budget.
type Invoker interface {
	// Invoke checks the allow-list, then the budget, then runs the tool.
	// A tool that fails returns its error as the result text with a nil error.
	Invoke(ctx context.Context, budget *entity.Budget, persona *personaentity.Persona, name, argsJSON string) (string, error)
	// InfosFor returns the schemas of the registered tools persona may call.
	InfosFor(ctx context.Context, persona *personaentity.Persona) ([]*schema.ToolInfo, error)
	// Register adds tools; a name already registered is replaced.
	Register(ctx context.Context, tools ...tool.BaseTool) error
	Names() []string
}

type invoker struct {
	mu     sync.RWMutex
	tools  map[string]tool.InvokableTool
	infos  map[string]*schema.ToolInfo
	tracer trace.Tracer
}

var _ Invoker = (*invoker)(nil)

func NewInvoker() Invoker {
	return &invoker{
		tools:  make(map[string]tool.InvokableTool),
		infos:  make(map[string]*schema.ToolInfo),
		tracer: otel.Tracer("cohort/tools"),
	}
}

func (v *invoker) Register(ctx context.Context, tools ...tool.BaseTool) error {
	for _, t := range tools {
		it, ok := t.(tool.InvokableTool)
		if !ok {
			return fmt.Errorf("tool %T is not invokable", t)
		}
		info, err := it.Info(ctx)
		if err != nil {
			return fmt.Errorf("failed to read tool info: %w", err)
		}
		v.mu.Lock()
		if _, dup := v.tools[info.Name]; dup {
			logger.Warn("[Tools] tool %s re-registered, replacing previous definition", info.Name)
		}
		v.tools[info.Name] = it
		v.infos[info.Name] = info
		v.mu.Unlock()
	}
	return nil
}

func (v *invoker) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.tools))
	for n := range v.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (v *invoker) lookup(name string) (tool.InvokableTool, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.tools[name]
	return t, ok
}

func (v *invoker) Invoke(ctx context.Context, budget *entity.Budget, persona *personaentity.Persona, name, argsJSON string) (string, error) {
	if !persona.Allows(name) {
		return "", &errno.PermissionDeniedError{PersonaID: persona.ID, Tool: name}
	}
	t, ok := v.lookup(name)
	if !ok {
		return "", errno.NewConfigurationError("tool "+name, "allowed for persona %s but not registered", persona.ID)
	}
	if err := budget.Take(); err != nil {
		return "", err
	}

	ctx, span := v.tracer.Start(ctx, "tools.invoke", trace.WithAttributes(
		attribute.String("tool", name),
		attribute.String("persona", persona.ID),
	))
	defer span.End()

	out, err := t.InvokableRun(ctx, argsJSON)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.RecordError(err)
		logger.Warn("[Tools] %s called by %s failed: %v", name, persona.ID, err)
		data, _ := json.Marshal(entity.ToolError{Error: err.Error()})
		return string(data), nil
	}
	logger.Debug("[Tools] %s called by %s (%d/%d)", name, persona.ID, budget.Used(), budget.Limit())
	return out, nil
}

func (v *invoker) InfosFor(_ context.Context, persona *personaentity.Persona) ([]*schema.ToolInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var infos []*schema.ToolInfo
	for _, name := range persona.Tools {
		info, ok := v.infos[name]
		if !ok {
			return nil, errno.NewConfigurationError("persona "+persona.ID, "tool %q is not registered", name)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
