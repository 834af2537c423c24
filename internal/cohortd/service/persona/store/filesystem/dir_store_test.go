package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "ceo.yaml", "tier: coordinator\nmodel: fake/large\n")
	write(t, dir, "cfo.json", `{"id":"cfo","tier":"manager","model":"fake/large","parent":"ceo","tools":["calculator"]}`)
	write(t, dir, "README.md", "ignored")

	s := NewDirStore(dir, 0)
	personas, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "ceo", personas[0].ID)
	assert.Equal(t, entity.TierCoordinator, personas[0].Tier)
	assert.Equal(t, "ceo", personas[1].ParentID)
	assert.Equal(t, []string{"calculator"}, personas[1].Tools)
}

func TestLoadRejectsMismatchedID(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "cfo.yaml", "id: cto\ntier: manager\n")

	_, err := NewDirStore(dir, 0).Load(context.Background())
	assert.ErrorIs(t, err, errno.ErrConfiguration)
}

func TestSaveKeepsFormat(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	write(t, dir, "ceo.yaml", "tier: coordinator\nmodel: fake/large\n")
	write(t, dir, "cfo.json", `{"id":"cfo","tier":"manager","model":"fake/large","parent":"ceo"}`)

	s := NewDirStore(dir, 0)
	personas, err := s.Load(ctx)
	require.NoError(t, err)

	cfo := personas[1].Clone()
	cfo.SystemPrompt = "You run finance."
	cfo.ChildIDs = []string{"analyst"}
	require.NoError(t, s.Save(ctx, cfo))

	raw, err := os.ReadFile(filepath.Join(dir, "cfo.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"system_prompt": "You run finance."`)
	assert.NotContains(t, string(raw), "child_ids")

	require.NoError(t, s.Save(ctx, &entity.Persona{ID: "cto", Tier: entity.TierManager, ParentID: "ceo"}))
	_, err = os.Stat(filepath.Join(dir, "cto.yaml"))
	require.NoError(t, err)

	again, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, "You run finance.", again[1].SystemPrompt)
}

func TestWatchDebouncesEdits(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	write(t, dir, "ceo.yaml", "tier: coordinator\n")

	s := NewDirStore(dir, 100*time.Millisecond)
	changes := make(chan struct{}, 10)
	stop, err := s.Watch(func() { changes <- struct{}{} })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		write(t, dir, "cfo.yaml", "tier: manager\nparent: ceo\n")
	}
	write(t, dir, "notes.txt", "ignored")

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case <-changes:
		t.Fatal("edits were not coalesced")
	case <-time.After(300 * time.Millisecond):
	}

	stop()
	stop()
}
