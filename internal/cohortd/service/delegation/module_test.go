package delegation

import (
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteDefaultsOnlyUnsetFields(t *testing.T) {
	c := (&Config{}).Complete()
	require.NotNil(t, c.Routing)
	assert.Equal(t, entity.DefaultRoutingPolicy, *c.Routing)
	assert.Equal(t, service.DefaultSubtaskTimeout, c.SubtaskTimeout)
	assert.Equal(t, service.DefaultBatchTimeout, c.BatchTimeout)

	c = (&Config{Routing: &entity.RoutingPolicy{}, BatchTimeout: 25 * time.Hour}).Complete()
	assert.Equal(t, entity.RoutingPolicy{}, *c.Routing, "zero margin and floor are kept")
	assert.Equal(t, 25*time.Hour, c.BatchTimeout)
}
