package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/errorx"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

// TaskService is the delegation engine as seen by the API.
type TaskService interface {
	Submit(ctx context.Context, req *entity.SubmitRequest) (string, error)
	Get(ctx context.Context, id string) (*entity.Task, error)
	List(ctx context.Context, filter *entity.TaskFilter) ([]*entity.Task, error)
	Delegation(ctx context.Context, taskID string) (*entity.Delegation, error)
	Cancel(ctx context.Context, id string) error
	Events(ctx context.Context, taskID string) ([]*evententity.Event, error)
	Subscribe(taskID string) (<-chan evententity.Event, func())
}

// TaskCost reports the spend of one task.
type TaskCost interface {
	TotalForTask(ctx context.Context, taskID string) (float64, error)
}

// TaskHandler serves the task endpoints.
type TaskHandler struct {
	svc   TaskService
	costs TaskCost
}

// NewTaskHandler creates a TaskHandler. costs may be nil.
func NewTaskHandler(svc TaskService, costs TaskCost) *TaskHandler {
	return &TaskHandler{svc: svc, costs: costs}
}

// Submit handles POST /v1/tasks.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrBind, "bind task request"), nil)
		return
	}

	ctx := c.Request.Context()
	id, err := h.svc.Submit(ctx, &entity.SubmitRequest{
		Command:       req.Command,
		TargetPersona: req.Target,
		Mode:          entity.Mode(req.Mode),
	})
	switch {
	case err != nil && id != "":
		core.WriteResponse(c, errorx.WrapC(err, ErrTaskRejected, "task %s", id), nil)
		return
	case errors.Is(err, errno.ErrConfiguration):
		core.WriteResponse(c, errorx.WrapC(err, ErrValidation, "submit task"), nil)
		return
	case err != nil:
		core.WriteResponse(c, errorx.WrapC(err, ErrTaskSubmit, "submit task"), nil)
		return
	}

	status := entity.TaskStatusReceived
	if task, err := h.svc.Get(ctx, id); err == nil {
		status = task.Status
	}
	c.JSON(http.StatusAccepted, SubmitTaskResponse{ID: id, Status: status})
}

// List handles GET /v1/tasks.
func (h *TaskHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrValidation, "limit"), nil)
		return
	}
	filter := &entity.TaskFilter{
		CorrelationID: c.Query("correlation"),
		RootsOnly:     c.DefaultQuery("children", "false") != "true",
		Limit:         limit,
	}
	for _, s := range multi(c, "status") {
		filter.Statuses = append(filter.Statuses, entity.TaskStatus(s))
	}
	if filter.CorrelationID != "" {
		filter.RootsOnly = false
	}

	tasks, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrTaskList, "list tasks"), nil)
		return
	}
	core.WriteResponse(c, nil, listOf(tasks))
}

// Get handles GET /v1/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	task, err := h.svc.Get(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrTaskList), "get task %s", id), nil)
		return
	}
	core.WriteResponse(c, nil, h.describe(ctx, task))
}

func (h *TaskHandler) describe(ctx context.Context, task *entity.Task) *TaskResponse {
	resp := &TaskResponse{Task: task}
	if d, err := h.svc.Delegation(ctx, task.ID); err == nil {
		resp.Delegation = d
	}
	if task.Artifact != nil {
		resp.Markdown = task.Artifact.Markdown()
	}
	if h.costs != nil {
		cost, err := h.costs.TotalForTask(ctx, task.ID)
		if err != nil {
			logger.Warn("[API] task %s: cost lookup failed: %v", task.ID, err)
		}
		resp.Cost = cost
	}
	return resp
}

// Cancel handles POST /v1/tasks/:id/cancel.
func (h *TaskHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := h.svc.Cancel(ctx, id); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrTaskCancel), "cancel task %s", id), nil)
		return
	}
	task, err := h.svc.Get(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrTaskCancel), "get task %s", id), nil)
		return
	}
	core.WriteResponse(c, nil, h.describe(ctx, task))
}

// Events handles GET /v1/tasks/:id/events. It replays the stored events and
// then streams live ones until the task ends or the client goes away.
// follow=false stops after the replay.
func (h *TaskHandler) Events(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	task, err := h.svc.Get(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrTaskEvents), "get task %s", id), nil)
		return
	}

	// Subscribe before reading history so nothing falls between the two.
	live, unsubscribe := h.svc.Subscribe(id)
	defer unsubscribe()
	history, err := h.svc.Events(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrTaskEvents, "read events of %s", id), nil)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var last uint64
	for _, ev := range history {
		if !writeEvent(c, ev) {
			return
		}
		last = ev.Seq
		if ev.Terminal() {
			return
		}
	}
	if c.Query("follow") == "false" || task.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			if !writeEvent(c, &ev) {
				return
			}
			last = ev.Seq
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, ev *evententity.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("[API] task %s: failed to encode event %d: %v", ev.TaskID, ev.Seq, err)
		return true
	}
	c.Render(-1, sse.Event{
		Id:    strconv.FormatUint(ev.Seq, 10),
		Event: string(ev.Type),
		Data:  string(data),
	})
	c.Writer.Flush()
	return c.Request.Context().Err() == nil
}
