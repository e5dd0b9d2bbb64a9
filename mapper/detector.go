package mapper

import (
	"github.com/google/uuid"
)

// Detector identifies one configured anomaly detector instance. Immutable
// once constructed; owned by the mapping-rule backend. MappingID is the
// identity of the mapping rule that matched it to a metric, used for reverse
// indexing in the cache.
type Detector struct {
	UUID      uuid.UUID `json:"uuid"`
	Type      string    `json:"type,omitempty"`
	MappingID string    `json:"mappingId"`
}

// User identifies the owner of a mapping rule in the backend.
type User struct {
	ID string `json:"id"`
}

// DetectorMapping is a backend-stored rule determining which detectors apply
// to which metrics. The mapper only observes identity and enabled state
// through periodic sync; it never mutates mappings.
type DetectorMapping struct {
	ID                     string   `json:"id"`
	Detector               Detector `json:"detector"`
	User                   User     `json:"user"`
	Enabled                bool     `json:"enabled"`
	CreatedTimeMillis      int64    `json:"createdTimeInMillis"`
	LastModifiedTimeMillis int64    `json:"lastModifiedTimeInMillis"`
}

// MatchResponse groups the detectors resolved for a batch of tag sets by the
// batch index of the tag set they matched, and carries the backend's reported
// wall-clock lookup latency. Indexes absent from the map matched no mapping.
type MatchResponse struct {
	GroupedDetectorsBySearchIndex map[int][]Detector `json:"groupedDetectorsBySearchIndex"`
	LookupTimeMillis              int64              `json:"lookupTimeInMillis"`
}
