package entity

import (
	"fmt"
	"strings"
)

// Section is one independently reviewable part of an artifact.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	// Source is the persona that produced the section.
	Source string `json:"source,omitempty"`
	// Incomplete marks sections built from partial or rejected input.
	Incomplete bool   `json:"incomplete,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Artifact is the deliverable of a task.
type Artifact struct {
	ID       string     `json:"id"`
	TaskID   string     `json:"task_id"`
	Title    string     `json:"title"`
	Division string     `json:"division,omitempty"`
	Sections []*Section `json:"sections"`
	// Findings are reviewer verdicts left unresolved at delivery.
	Findings []string `json:"findings,omitempty"`
	// Gaps name contributions that failed and are missing from the sections.
	Gaps []string `json:"gaps,omitempty"`
	// Revision increments each time rework splices sections in.
	Revision int `json:"revision"`
}

func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Sections = make([]*Section, len(a.Sections))
	for i, s := range a.Sections {
		sc := *s
		cp.Sections[i] = &sc
	}
	cp.Findings = append([]string(nil), a.Findings...)
	cp.Gaps = append([]string(nil), a.Gaps...)
	return &cp
}

// Section returns the section with id, or nil.
func (a *Artifact) Section(id string) *Section {
	for _, s := range a.Sections {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Splice replaces the section with the same id in place, keeping order.
// Unknown ids are appended.
func (a *Artifact) Splice(sec *Section) {
	for i, s := range a.Sections {
		if s.ID == sec.ID {
			a.Sections[i] = sec
			return
		}
	}
	a.Sections = append(a.Sections, sec)
}

// Markdown renders the artifact for delivery. Incomplete sections and
// unresolved findings are stated explicitly.
func (a *Artifact) Markdown() string {
	var b strings.Builder
	if a.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", a.Title)
	}
	for _, s := range a.Sections {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, strings.TrimSpace(s.Content))
		if s.Incomplete || s.Note != "" {
			note := s.Note
			if note == "" {
				note = "built from incomplete input"
			}
			fmt.Fprintf(&b, "> **Note:** %s\n\n", note)
		}
	}
	if len(a.Gaps) > 0 {
		b.WriteString("## Missing contributions\n\n")
		for _, g := range a.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}
	if len(a.Findings) > 0 {
		b.WriteString("## Unresolved review findings\n\n")
		for _, f := range a.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
