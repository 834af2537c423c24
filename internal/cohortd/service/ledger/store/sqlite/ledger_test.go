package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/ledgertest"
	"github.com/stretchr/testify/require"
)

func TestLedger(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger", "costs.db"))
	require.NoError(t, err)
	defer l.Close()

	ledgertest.Run(t, l)
}
