package models

import (
	"encoding/json"
	"time"
)

type ConflictType string

const (
	ConflictUpdateUpdate ConflictType = "UPDATE_UPDATE"
	ConflictDeleteUpdate ConflictType = "DELETE_UPDATE"
	ConflictCreateCreate ConflictType = "CREATE_CREATE"
	ConflictMoveMove     ConflictType = "MOVE_MOVE"
)

// Priority orders conflicts for user-facing surfacing: destructive divergence
// first. Lower value sorts earlier.
func (t ConflictType) Priority() int {
	switch t {
	case ConflictDeleteUpdate:
		return 0
	case ConflictUpdateUpdate:
		return 1
	case ConflictCreateCreate:
		return 2
	case ConflictMoveMove:
		return 3
	default:
		return 4
	}
}

type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
	ResolutionMerged     Resolution = "merged"
	ResolutionKeepBoth   Resolution = "keep_both"
)

// ConflictRecord is a durable record of a detected divergence between local
// and remote state of one entity. Resolution is write-once; an empty
// Resolution means the record is still pending.
type ConflictRecord struct {
	ID              string
	Type            ConflictType
	EntityType      EntityType
	EntityID        string
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	LocalSnapshot   json.RawMessage
	RemoteSnapshot  json.RawMessage

	// LocalChanged lists field names edited locally since the last sync,
	// taken from pending update events. Empty for non-update conflicts.
	LocalChanged []string

	Resolution Resolution
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// Pending reports whether the conflict still awaits resolution.
func (c *ConflictRecord) Pending() bool { return c.Resolution == "" }
