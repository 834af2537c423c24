package v1

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/pkg/errorx"
)

// BatchService is the read side of the batch engine.
type BatchService interface {
	Get(ctx context.Context, id string) (*entity.BatchJob, error)
	List(ctx context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error)
	Members(ctx context.Context, jobID string) ([]*entity.Member, error)
}

type BatchHandler struct {
	engine BatchService
}

func NewBatchHandler(engine BatchService) *BatchHandler {
	return &BatchHandler{engine: engine}
}

// List handles GET /v1/batches.
func (h *BatchHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrValidation, "limit"), nil)
		return
	}
	filter := &entity.JobFilter{Provider: c.Query("provider"), Limit: limit}
	for _, s := range multi(c, "state") {
		filter.States = append(filter.States, entity.JobState(s))
	}
	jobs, err := h.engine.List(c.Request.Context(), filter)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrBatchList, "list batch jobs"), nil)
		return
	}
	core.WriteResponse(c, nil, listOf(jobs))
}

// Get handles GET /v1/batches/:id.
func (h *BatchHandler) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	job, err := h.engine.Get(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrBatchList), "batch job %s", id), nil)
		return
	}
	members, err := h.engine.Members(ctx, id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, codeFor(err, ErrBatchList), "members of batch job %s", id), nil)
		return
	}
	if members == nil {
		members = []*entity.Member{}
	}
	core.WriteResponse(c, nil, BatchJobResponse{BatchJob: job, Members: members})
}
