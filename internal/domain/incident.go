package domain

import "time"

// RawIncident is one row of the CAD incident grid for the current polling
// cycle. Rows are ephemeral: the grid is re-fetched every cycle and rows are
// never persisted directly.
type RawIncident struct {
	Number       string `json:"number"`
	Time         string `json:"time"`
	Type         string `json:"type"`
	Location     string `json:"location"`
	LocationDesc string `json:"location_desc"`
	Area         string `json:"area"`

	// DetailRef is the opaque reference used to fetch the incident's
	// narrative panel. Its format belongs to the scraping adapter.
	DetailRef string `json:"-"`
}

// Coordinates is a WGS-84 latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IncidentEvent is the serialized form published to the optional event sink
// whenever the reconciler creates, updates, merges, or closes an incident.
type IncidentEvent struct {
	Identity    string       `json:"identity"`
	Action      string       `json:"action"` // "created", "updated", "merged", "closed"
	Type        string       `json:"type,omitempty"`
	Area        string       `json:"area,omitempty"`
	Location    string       `json:"location,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Facts       *FactRecord  `json:"facts,omitempty"`
	Signature   string       `json:"signature,omitempty"`
	At          time.Time    `json:"at"`
}

// Event actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionMerged  = "merged"
	ActionClosed  = "closed"
)
