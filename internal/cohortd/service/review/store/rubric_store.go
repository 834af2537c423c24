// Package store loads division rubrics from YAML files.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"gopkg.in/yaml.v3"
)

// RubricStore resolves a division path to its rubric.
type RubricStore struct {
	byDivision map[string]*entity.Rubric
	fallback   *entity.Rubric
}

// NewRubricStore indexes rubrics by division. fallback answers divisions no
// rubric covers.
func NewRubricStore(fallback *entity.Rubric, rubrics ...*entity.Rubric) (*RubricStore, error) {
	s := &RubricStore{byDivision: map[string]*entity.Rubric{}, fallback: fallback}
	for _, r := range rubrics {
		div := normalize(r.Division)
		if _, dup := s.byDivision[div]; dup {
			return nil, errno.NewConfigurationError("rubric "+r.Division, "duplicate division")
		}
		if r.Threshold <= 0 || r.Threshold > 1 {
			r.Threshold = fallback.Threshold
		}
		if r.Reviewer == "" {
			r.Reviewer = fallback.Reviewer
		}
		s.byDivision[div] = r
	}
	return s, nil
}

// LoadDir reads every .yaml/.yml file in dir. An empty dir yields only the fallback.
func LoadDir(dir string, fallback *entity.Rubric) (*RubricStore, error) {
	if dir == "" {
		return NewRubricStore(fallback)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errno.ConfigurationError{Subject: "rubric dir " + dir, Reason: "unreadable", Cause: err}
	}
	var rubrics []*entity.Rubric
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rubric %s: %w", path, err)
		}
		var r entity.Rubric
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, &errno.ConfigurationError{Subject: "rubric " + path, Reason: "malformed", Cause: err}
		}
		if r.Version == "" {
			return nil, errno.NewConfigurationError("rubric "+path, "missing version")
		}
		rubrics = append(rubrics, &r)
	}
	return NewRubricStore(fallback, rubrics...)
}

func normalize(div string) string {
	return strings.Trim(div, "/")
}

// Lookup returns the rubric of the longest division prefix of division.
func (s *RubricStore) Lookup(division string) *entity.Rubric {
	div := normalize(division)
	for {
		if r, ok := s.byDivision[div]; ok {
			return r
		}
		i := strings.LastIndexByte(div, '/')
		if i < 0 {
			break
		}
		div = div[:i]
	}
	if r, ok := s.byDivision[""]; ok {
		return r
	}
	return s.fallback
}

// List returns every rubric sorted by division, fallback excluded.
func (s *RubricStore) List() []*entity.Rubric {
	out := make([]*entity.Rubric, 0, len(s.byDivision))
	for _, r := range s.byDivision {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Division < out[j].Division })
	return out
}
