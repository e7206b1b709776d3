package models

import "time"

// TimelineEntry is one labelled instant in a postmortem.
type TimelineEntry struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// Postmortem is the structured report payload handed to a renderer.
type Postmortem struct {
	Summary     string          `json:"summary"`
	Incident    Incident        `json:"incident"`
	Analysis    Analysis        `json:"analysis"`
	Timeline    []TimelineEntry `json:"timeline"`
	ActionItems []string        `json:"action_items"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Artifact locates one rendered postmortem file.
type Artifact struct {
	Format   string `json:"format"`
	Path     string `json:"path"`
	Download string `json:"download"`
}

// Artifacts is the result of rendering a postmortem.
type Artifacts struct {
	IncidentID int64      `json:"incident_id"`
	Summary    string     `json:"summary"`
	BaseName   string     `json:"base_name"`
	Files      []Artifact `json:"files"`
}

// Download returns the download path for a format, if rendered.
func (a Artifacts) Download(format string) string {
	for _, f := range a.Files {
		if f.Format == format {
			return f.Download
		}
	}
	return ""
}
