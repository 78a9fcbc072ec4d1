// Package models defines the server-side row shapes for the sync API.
package models

import (
	"encoding/json"
	"time"
)

// EntityRow is one inventory entity as stored server-side. Doc is the full
// JSON document the clients exchange; id, deleted and the timestamps are also
// lifted into columns so sync queries never have to parse the document.
type EntityRow struct {
	ID           string
	Type         string
	Doc          json.RawMessage
	ExternalCode string
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EntityTypes lists the entity types the API serves.
func EntityTypes() []string {
	return []string{"category", "location", "container", "item"}
}

// ValidType reports whether t is a served entity type.
func ValidType(t string) bool {
	for _, v := range EntityTypes() {
		if v == t {
			return true
		}
	}
	return false
}
