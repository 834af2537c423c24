package inmemory

import (
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/store/storetest"
)

func TestTaskStore(t *testing.T) {
	storetest.RunTasks(t, NewTaskStore())
}

func TestDelegationStore(t *testing.T) {
	storetest.RunDelegations(t, NewDelegationStore())
}
