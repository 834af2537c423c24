package cohortd

import (
	"github.com/kiosk404/cohort/internal/cohortd/config"
	"github.com/kiosk404/cohort/internal/cohortd/options"
	"github.com/kiosk404/cohort/pkg/app"
	"github.com/kiosk404/cohort/pkg/logger"
)

const commandDesc = `cohortd runs an organization of LLM personas.

A command enters through the coordinator, is routed to a division manager,
split into subtasks for specialists and workers, reviewed against the
division rubric and delivered as one artifact. Every model call is priced
into the cost ledger, and calls that can wait are coalesced into provider
batch jobs.`

// NewApp creates the cohortd application.
func NewApp(basename string) *app.App {
	opts := options.NewOptions()
	application := app.NewApp("Cohort delegation server",
		basename,
		app.WithOptions(opts),
		app.WithDescription(commandDesc),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.Options) app.RunFunc {
	return func(basename string) error {
		if err := logger.Init(opts.Log); err != nil {
			return err
		}
		defer logger.FlushLog()

		cfg, err := config.CreateConfigFromOptions(opts)
		if err != nil {
			return err
		}

		return Run(cfg)
	}
}
