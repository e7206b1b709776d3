package models

import "time"

// EventType names a hub event.
type EventType string

const (
	EventIncidentCreated  EventType = "incident_created"
	EventIncidentResolved EventType = "incident_resolved"
	EventMetricsIngested  EventType = "metrics_ingested"
	EventLogsIngested     EventType = "logs_ingested"
)

// Event is broadcast to live subscribers.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
	At   time.Time      `json:"at"`
}

// IncidentCreatedEvent builds the notification for a newly opened incident.
func IncidentCreatedEvent(inc Incident, at time.Time) Event {
	return Event{
		Type: EventIncidentCreated,
		Data: map[string]any{
			"incident_id": inc.ID,
			"service":     inc.Service,
			"metric":      inc.Metric,
			"severity":    inc.Severity,
			"summary":     inc.Summary,
		},
		At: at,
	}
}

// IncidentResolvedEvent builds the notification for a resolved incident.
func IncidentResolvedEvent(inc Incident, at time.Time) Event {
	return Event{
		Type: EventIncidentResolved,
		Data: map[string]any{
			"incident_id": inc.ID,
			"service":     inc.Service,
			"metric":      inc.Metric,
		},
		At: at,
	}
}

// ServiceSummary is a per-service overview for dashboards.
type ServiceSummary struct {
	Service       string               `json:"service"`
	Latest        map[string]float64   `json:"latest"`
	Sparklines    map[string][]float64 `json:"sparklines"`
	OpenIncidents int                  `json:"open_incidents"`
}
