package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
)

// PersonaSource is where persona definitions live.
type PersonaSource interface {
	// Load reads every persona definition.
	Load(ctx context.Context) ([]*entity.Persona, error)
	// Save writes one persona back.
	Save(ctx context.Context, persona *entity.Persona) error
}

// Watchable sources report external edits.
type Watchable interface {
	// Watch calls onChange after edits settle until stop is called.
	Watch(onChange func()) (stop func(), err error)
}
