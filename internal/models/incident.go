package models

import "time"

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	StatusOpen     IncidentStatus = "open"
	StatusResolved IncidentStatus = "resolved"
)

// AnomalyAssessment is the detector verdict for one series.
type AnomalyAssessment struct {
	Severity    int       `json:"severity"`
	Baseline    float64   `json:"baseline"`
	Observed    float64   `json:"observed"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Detector    string    `json:"detector"`
	Summary     string    `json:"summary"`
}

// Incident is a tracked anomaly for one (service, metric) key.
type Incident struct {
	ID          int64          `json:"id"`
	Key         string         `json:"incident_key"`
	Service     string         `json:"service"`
	Metric      string         `json:"metric"`
	Severity    int            `json:"severity"`
	DetectedAt  time.Time      `json:"detected_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Baseline    float64        `json:"baseline"`
	Observed    float64        `json:"observed"`
	Detector    string         `json:"detector"`
	Summary     string         `json:"summary"`
	Status      IncidentStatus `json:"status"`
}

// Pair returns the (service, metric) pair of the incident.
func (i Incident) Pair() ServicePair {
	return ServicePair{Service: i.Service, Metric: i.Metric}
}

// Apply copies the assessment fields onto the incident.
func (i *Incident) Apply(a AnomalyAssessment) {
	i.Severity = a.Severity
	i.WindowStart = a.WindowStart
	i.WindowEnd = a.WindowEnd
	i.Baseline = a.Baseline
	i.Observed = a.Observed
	i.Detector = a.Detector
	i.Summary = a.Summary
}

// EvidenceKind tags the source of a piece of evidence.
type EvidenceKind string

const (
	EvidenceMetric EvidenceKind = "metric"
	EvidenceLog    EvidenceKind = "log"
)

// Evidence backs a hypothesis.
type Evidence struct {
	Kind   EvidenceKind `json:"kind"`
	Detail string       `json:"detail"`
}

// Hypothesis is a ranked root-cause candidate.
type Hypothesis struct {
	Title      string     `json:"title"`
	Confidence int        `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
}

// Analysis is the analyzer output for one incident.
type Analysis struct {
	IncidentID int64        `json:"incident_id"`
	Service    string       `json:"service"`
	Metric     string       `json:"metric"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// TimelinePoint is one sample in an incident timeline.
type TimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// IncidentTimeline pairs an incident with its padded metric window.
type IncidentTimeline struct {
	Incident Incident        `json:"incident"`
	Points   []TimelinePoint `json:"points"`
}
