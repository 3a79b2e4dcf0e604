package models

import (
	"time"
)

// Admission policies an event is sold under. The policy is event
// configuration, not a ticket property; the requested scan mode must be
// coherent with it.
const (
	PolicySingleEntry = "single_entry"
	PolicyReEntry     = "re_entry"
)

type Event struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Venue           string    `json:"venue"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	AdmissionPolicy string    `json:"admission_policy"`
	Status          string    `json:"status"` // upcoming, ongoing, completed
}
