package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/service"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoker(t *testing.T) (service.Invoker, *int) {
	t.Helper()
	calls := 0
	inv := service.NewInvoker()
	err := inv.Register(context.Background(),
		service.NewDefinedTool(entity.ToolDefinition{
			Name:       "echo",
			Parameters: []entity.ParameterDef{{Name: "text", Type: "string", Required: true}},
			Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
				calls++
				return args["text"], nil
			},
		}),
		service.NewDefinedTool(entity.ToolDefinition{
			Name: "broken",
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				return nil, errors.New("disk on fire")
			},
		}),
		service.NewDefinedTool(entity.ToolDefinition{Name: "secret", Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return "classified", nil
		}}),
	)
	require.NoError(t, err)
	return inv, &calls
}

var analyst = &personaentity.Persona{ID: "analyst", Tools: []string{"echo", "broken", "ghost"}}

func TestInvokeBudget(t *testing.T) {
	inv, calls := newInvoker(t)
	ctx := context.Background()
	budget := entity.NewBudget("t1", 5, 0)

	for i := 0; i < 5; i++ {
		out, err := inv.Invoke(ctx, budget, analyst, "echo", `{"text":"hi"}`)
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	}
	_, err := inv.Invoke(ctx, budget, analyst, "echo", `{"text":"hi"}`)
	var exceeded *errno.ToolCallBudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 6, exceeded.Attempt)
	assert.Equal(t, 5, *calls)
	assert.Equal(t, 5, budget.Used())
	assert.Zero(t, budget.Remaining())
}

func TestInvokeChecksPermissionBeforeBudget(t *testing.T) {
	inv, _ := newInvoker(t)
	budget := entity.NewBudget("t1", 1, 0)

	_, err := inv.Invoke(context.Background(), budget, analyst, "secret", "{}")
	assert.ErrorIs(t, err, errno.ErrPermissionDenied)
	assert.Zero(t, budget.Used())

	_, err = inv.Invoke(context.Background(), budget, analyst, "ghost", "{}")
	assert.ErrorIs(t, err, errno.ErrConfiguration)
	assert.Zero(t, budget.Used())
}

func TestInvokeToolFailureBecomesResult(t *testing.T) {
	inv, _ := newInvoker(t)
	budget := entity.NewBudget("t1", 5, 0)

	out, err := inv.Invoke(context.Background(), budget, analyst, "broken", "{}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"disk on fire"}`, out)

	out, err = inv.Invoke(context.Background(), budget, analyst, "echo", "{}")
	require.NoError(t, err)
	assert.Contains(t, out, "missing required argument")
	assert.Equal(t, 2, budget.Used())
}

func TestBudgetIsSharedAcrossGoroutines(t *testing.T) {
	budget := entity.NewBudget("t1", 5, 2)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if budget.Take() == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
	assert.Equal(t, 5, budget.Used())
}

func TestInfosFor(t *testing.T) {
	inv, _ := newInvoker(t)
	ctx := context.Background()

	infos, err := inv.InfosFor(ctx, &personaentity.Persona{ID: "p", Tools: []string{"echo"}})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "echo", infos[0].Name)

	_, err = inv.InfosFor(ctx, analyst)
	assert.ErrorIs(t, err, errno.ErrConfiguration)

	none, err := inv.InfosFor(ctx, &personaentity.Persona{ID: "p"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, []string{"broken", "echo", "secret"}, inv.Names())
}
