package cohortd

import (
	"github.com/kiosk404/cohort/internal/cohortd/config"
)

// Run builds every module from cfg and serves until a shutdown signal arrives.
func Run(cfg *config.Config) error {
	server, err := createAPIServer(cfg)
	if err != nil {
		return err
	}

	return server.PrepareRun().Run()
}
