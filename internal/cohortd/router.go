package cohortd

import (
	"github.com/gin-gonic/gin"
	"github.com/kiosk404/cohort/internal/cohortd/handler/middleware"
	v1 "github.com/kiosk404/cohort/internal/cohortd/handler/v1"
)

// routerDeps holds the dependencies needed for route registration.
type routerDeps struct {
	tasks      v1.TaskService
	taskCosts  v1.TaskCost
	personas   v1.PersonaService
	costs      v1.CostService
	batches    v1.BatchService
	models     v1.ModelLister
	authConfig *middleware.AuthConfig
}

func initRouter(g *gin.Engine, deps *routerDeps) {
	installMiddleware(g, deps)
	installController(g, deps)
}

func installMiddleware(g *gin.Engine, deps *routerDeps) {
	if deps.authConfig != nil && deps.authConfig.Enabled {
		g.Use(middleware.BearerAuth(deps.authConfig))
	}
}

func installController(g *gin.Engine, deps *routerDeps) {
	taskHandler := v1.NewTaskHandler(deps.tasks, deps.taskCosts)
	personaHandler := v1.NewPersonaHandler(deps.personas)
	costHandler := v1.NewCostHandler(deps.costs)
	batchHandler := v1.NewBatchHandler(deps.batches)
	modelHandler := v1.NewModelHandler(deps.models)

	apiV1 := g.Group("/v1")
	{
		// Tasks.
		apiV1.POST("/tasks", taskHandler.Submit)
		apiV1.GET("/tasks", taskHandler.List)
		apiV1.GET("/tasks/:id", taskHandler.Get)
		apiV1.POST("/tasks/:id/cancel", taskHandler.Cancel)
		apiV1.GET("/tasks/:id/events", taskHandler.Events)

		// Personas.
		apiV1.GET("/personas", personaHandler.List)
		apiV1.GET("/personas/:id", personaHandler.Get)
		apiV1.PATCH("/personas/:id", personaHandler.Update)
		apiV1.GET("/personas/:id/children", personaHandler.Children)

		// Cost ledger.
		apiV1.GET("/costs", costHandler.List)
		apiV1.GET("/costs/summary", costHandler.Summary)

		// Batch jobs.
		apiV1.GET("/batches", batchHandler.List)
		apiV1.GET("/batches/:id", batchHandler.Get)

		apiV1.GET("/models", modelHandler.List)
	}
}
