package analytics

import (
	"time"
)

// CorrespondenceRecord is one raw row of GET /correspondence.
type CorrespondenceRecord struct {
	ID          string    `json:"_id"`
	Type        string    `json:"type"`
	Level       int       `json:"level"`
	Gender      string    `json:"gender"`
	StudentName string    `json:"studentName"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
}

// BackendStats is the backend's own pre-aggregation for the same query.
type BackendStats struct {
	Total   int            `json:"total"`
	ByType  map[string]int `json:"byType"`
	ByLevel map[string]int `json:"byLevel"`
}

// CorrespondencePayload is what the correspondence engine caches.
type CorrespondencePayload struct {
	Records []CorrespondenceRecord `json:"data"`
	Stats   BackendStats           `json:"stats"`
}

type CorrespondenceQuery struct {
	DateFilter Bucket
	Range      *CustomRange
	Type       string
	Level      Level
}

type TypeCount struct {
	Type       string  `json:"type"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type CorrespondenceView struct {
	Bucket           Bucket                  `json:"bucket"`
	Level            Level                   `json:"level"`
	Type             string                  `json:"type,omitempty"`
	Gender           Gender                  `json:"gender,omitempty"`
	SearchTerm       string                  `json:"searchTerm,omitempty"`
	Total            int                     `json:"total"`
	Boys             int                     `json:"boys"`
	Girls            int                     `json:"girls"`
	BoysPercentage   float64                 `json:"boysPercentage"`
	GirlsPercentage  float64                 `json:"girlsPercentage"`
	ByType           []TypeCount             `json:"byType"`
	ByLevel          [LevelCount]LevelCounts `json:"byLevel"`
	ByMonth          [12]int                 `json:"byMonth"`
	Records          []CorrespondenceRecord  `json:"records"`
	FromBackendStats bool                    `json:"fromBackendStats,omitempty"`
}
