package v1

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/pkg/errorx"
)

// CostService is the read side of the cost ledger.
type CostService interface {
	Query(ctx context.Context, filter *entity.Filter) ([]*entity.CostRecord, error)
	Summarize(ctx context.Context, filter *entity.Filter, groupBy entity.GroupBy) ([]*entity.Summary, error)
}

type CostHandler struct {
	ledger CostService
}

func NewCostHandler(ledger CostService) *CostHandler {
	return &CostHandler{ledger: ledger}
}

func (h *CostHandler) filter(c *gin.Context) (*entity.Filter, error) {
	now := time.Now()
	f := &entity.Filter{
		TaskIDs:   multi(c, "task"),
		PersonaID: c.Query("persona"),
		Provider:  c.Query("provider"),
	}
	var err error
	if f.Batch, err = queryBool(c, "batch"); err != nil {
		return nil, err
	}
	if f.Since, err = queryTime(c, "since", now); err != nil {
		return nil, err
	}
	if f.Until, err = queryTime(c, "until", now); err != nil {
		return nil, err
	}
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		return nil, err
	}
	return f, nil
}

// List handles GET /v1/costs.
func (h *CostHandler) List(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrValidation, "cost filter"), nil)
		return
	}
	records, err := h.ledger.Query(c.Request.Context(), f)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrCostQuery, "query costs"), nil)
		return
	}
	core.WriteResponse(c, nil, listOf(records))
}

// Summary handles GET /v1/costs/summary?group_by=persona|provider|model|task.
func (h *CostHandler) Summary(c *gin.Context) {
	groupBy, err := entity.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrCostGroupBy, "group by"), nil)
		return
	}
	f, err := h.filter(c)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrValidation, "cost filter"), nil)
		return
	}
	groups, err := h.ledger.Summarize(c.Request.Context(), f, groupBy)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrCostQuery, "summarize costs"), nil)
		return
	}
	resp := CostSummaryResponse{GroupBy: groupBy, Groups: groups}
	if resp.Groups == nil {
		resp.Groups = []*entity.Summary{}
	}
	for _, g := range groups {
		resp.Total += g.Cost
	}
	core.WriteResponse(c, nil, resp)
}
