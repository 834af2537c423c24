package main

import (
	"os"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd"
)

func main() {
	command := cmd.NewDefaultCohortCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
