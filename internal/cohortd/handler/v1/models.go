package v1

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/pkg/errorx"
)

// ModelLister lists the models personas may reference.
type ModelLister interface {
	ListModels(ctx context.Context) ([]*entity.ModelInstance, error)
}

type ModelHandler struct {
	models ModelLister
}

func NewModelHandler(models ModelLister) *ModelHandler {
	return &ModelHandler{models: models}
}

// ModelObject is one entry of GET /v1/models.
type ModelObject struct {
	// Ref is the "provider/model" string personas use.
	Ref           string               `json:"ref"`
	ID            string               `json:"id"`
	Provider      string               `json:"provider"`
	Name          string               `json:"name,omitempty"`
	Default       bool                 `json:"default,omitempty"`
	Reasoning     bool                 `json:"reasoning,omitempty"`
	ContextWindow int                  `json:"context_window,omitempty"`
	Cost          entity.ModelCostInfo `json:"cost"`
}

// List handles GET /v1/models.
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.models.ListModels(c.Request.Context())
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrModelList, "list models"), nil)
		return
	}
	data := make([]ModelObject, 0, len(models))
	for _, m := range models {
		data = append(data, ModelObject{
			Ref:           entity.ModelRef{ProviderID: m.ProviderID, ModelID: m.ModelID}.String(),
			ID:            m.ModelID,
			Provider:      m.ProviderID,
			Name:          m.DisplayName,
			Default:       m.IsDefault,
			Reasoning:     m.Reasoning,
			ContextWindow: m.ContextWindow,
			Cost:          m.Cost,
		})
	}
	core.WriteResponse(c, nil, listOf(data))
}
