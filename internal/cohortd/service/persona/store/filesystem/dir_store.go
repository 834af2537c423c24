// Package filesystem keeps one persona per file in a directory.
package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long the watcher waits for edits to settle.
const DefaultDebounce = 500 * time.Millisecond

var (
	_ repo.PersonaSource = (*DirStore)(nil)
	_ repo.Watchable     = (*DirStore)(nil)
)

// DirStore reads <id>.yaml, <id>.yml or <id>.json files from a directory.
type DirStore struct {
	dir      string
	debounce time.Duration

	mu    sync.Mutex
	paths map[string]string // persona id -> file it came from
}

func NewDirStore(dir string, debounce time.Duration) *DirStore {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &DirStore{dir: dir, debounce: debounce, paths: map[string]string{}}
}

func isPersonaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

func (s *DirStore) Load(_ context.Context) ([]*entity.Persona, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errno.ConfigurationError{Subject: "persona dir " + s.dir, Reason: "unreadable", Cause: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var personas []*entity.Persona
	paths := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !isPersonaFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		p, err := readPersona(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := paths[p.ID]; dup {
			return nil, errno.NewConfigurationError("persona "+p.ID, "defined in both %s and %s", prev, path)
		}
		paths[p.ID] = path
		personas = append(personas, p)
	}

	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
	return personas, nil
}

func readPersona(path string) (*entity.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errno.ConfigurationError{Subject: "persona file " + path, Reason: "unreadable", Cause: err}
	}
	// yaml.v3 reads JSON as well.
	var p entity.Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &errno.ConfigurationError{Subject: "persona file " + path, Reason: "malformed", Cause: err}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch {
	case p.ID == "":
		p.ID = stem
	case p.ID != stem:
		return nil, errno.NewConfigurationError("persona file "+path, "id %q does not match file name", p.ID)
	}
	return &p, nil
}

// Save rewrites the persona's file, keeping its format. New personas get a YAML file.
func (s *DirStore) Save(_ context.Context, p *entity.Persona) error {
	s.mu.Lock()
	path, ok := s.paths[p.ID]
	if !ok {
		path = filepath.Join(s.dir, p.ID+".yaml")
		s.paths[p.ID] = path
	}
	s.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		out := p.Clone()
		out.ChildIDs = nil
		data, err = json.MarshalIndent(out, "", "  ")
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(p); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to encode persona %s: %w", p.ID, err)
	}

	// Write-then-rename so the watcher never reads a half-written file.
	tmp := filepath.Join(s.dir, "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Watch reports settled changes to persona files in the directory.
func (s *DirStore) Watch(onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", s.dir, err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchLoop(watcher, done, onChange)
	}()
	logger.Info("[Persona] watching %s for changes", s.dir)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			watcher.Close()
			wg.Wait()
		})
	}, nil
}

func (s *DirStore) watchLoop(watcher *fsnotify.Watcher, done <-chan struct{}, onChange func()) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isPersonaFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(s.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(s.debounce)
			}
		case <-fire:
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("[Persona] watcher error: %v", err)
		case <-done:
			return
		}
	}
}
