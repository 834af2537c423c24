package v1

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/core"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/errorx"
)

// PersonaService is the persona catalog as seen by the API.
type PersonaService interface {
	Get(id string) (*entity.Persona, error)
	ChildrenOf(id string) ([]*entity.Persona, error)
	Update(ctx context.Context, id string, patch *entity.PersonaPatch) (*entity.Persona, error)
	List() []*entity.Persona
}

type PersonaHandler struct {
	catalog PersonaService
}

func NewPersonaHandler(catalog PersonaService) *PersonaHandler {
	return &PersonaHandler{catalog: catalog}
}

// List handles GET /v1/personas. tier and division narrow the result.
func (h *PersonaHandler) List(c *gin.Context) {
	tier, division := c.Query("tier"), c.Query("division")
	var out []*entity.Persona
	for _, p := range h.catalog.List() {
		if tier != "" && string(p.Tier) != tier {
			continue
		}
		if division != "" && p.Division != division {
			continue
		}
		out = append(out, p)
	}
	core.WriteResponse(c, nil, listOf(out))
}

// Get handles GET /v1/personas/:id.
func (h *PersonaHandler) Get(c *gin.Context) {
	id := c.Param("id")
	p, err := h.catalog.Get(id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrPersonaNotFound, "persona %s", id), nil)
		return
	}
	core.WriteResponse(c, nil, p)
}

// Children handles GET /v1/personas/:id/children.
func (h *PersonaHandler) Children(c *gin.Context) {
	id := c.Param("id")
	children, err := h.catalog.ChildrenOf(id)
	if err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrPersonaNotFound, "persona %s", id), nil)
		return
	}
	core.WriteResponse(c, nil, listOf(children))
}

// Update handles PATCH /v1/personas/:id. Tasks already routed keep the
// persona they started with.
func (h *PersonaHandler) Update(c *gin.Context) {
	id := c.Param("id")
	var patch entity.PersonaPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		core.WriteResponse(c, errorx.WrapC(err, ErrBind, "bind persona patch"), nil)
		return
	}
	if patch.Empty() {
		core.WriteResponse(c, errorx.WithCode(ErrValidation, "persona patch changes nothing"), nil)
		return
	}

	p, err := h.catalog.Update(c.Request.Context(), id, &patch)
	switch {
	case errors.Is(err, errno.ErrPersonaNotFound):
		core.WriteResponse(c, errorx.WrapC(err, ErrPersonaNotFound, "persona %s", id), nil)
	case errors.Is(err, errno.ErrConfiguration):
		core.WriteResponse(c, errorx.WrapC(err, ErrPersonaInvalid, "update persona %s", id), nil)
	case err != nil:
		core.WriteResponse(c, errorx.WrapC(err, ErrPersonaUpdate, "update persona %s", id), nil)
	default:
		core.WriteResponse(c, nil, p)
	}
}
