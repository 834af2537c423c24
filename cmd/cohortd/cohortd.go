package main

import (
	"math/rand"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd"
	_ "go.uber.org/automaxprocs"
)

func main() {
	rand.New(rand.NewSource(time.Now().UTC().UnixNano()))

	cohortd.NewApp("cohortd").Run()
}
