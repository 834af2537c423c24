package inmemory

import (
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/ledgertest"
)

func TestLedger(t *testing.T) {
	ledgertest.Run(t, NewLedger())
}
