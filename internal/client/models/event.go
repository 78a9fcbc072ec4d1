package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventKindCreate EventKind = "CREATE"
	EventKindUpdate EventKind = "UPDATE"
	EventKindDelete EventKind = "DELETE"
	EventKindMove   EventKind = "MOVE"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusSyncing    EventStatus = "syncing"
	EventStatusSynced     EventStatus = "synced"
	EventStatusFailed     EventStatus = "failed"
	EventStatusConflicted EventStatus = "conflicted"
)

// statusTransitions is the exhaustive transition table for event statuses.
// synced is terminal: an event never regresses once applied remotely.
var statusTransitions = map[EventStatus][]EventStatus{
	EventStatusPending:    {EventStatusSyncing},
	EventStatusSyncing:    {EventStatusSynced, EventStatusFailed, EventStatusConflicted, EventStatusPending},
	EventStatusFailed:     {EventStatusPending},
	EventStatusConflicted: {EventStatusSynced, EventStatusPending},
	EventStatusSynced:     {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OfflineEvent is one entry of the append-only mutation log. Seq is assigned
// by the queue and is the total order used everywhere; CreatedAt is
// informational only (clock skew must not reorder events).
type OfflineEvent struct {
	Seq        int64
	ID         string
	Kind       EventKind
	EntityType EntityType
	EntityID   string
	Payload    json.RawMessage
	Status     EventStatus
	RetryCount int
	ConflictID string
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreatePayload carries the full entity document at creation time.
type CreatePayload struct {
	Doc json.RawMessage `json:"doc"`
}

// UpdatePayload carries the changed fields with their new values, plus the
// values those fields had before the edit. Prior values are the merge base
// for update/update conflicts.
type UpdatePayload struct {
	Fields map[string]json.RawMessage `json:"fields"`
	Prior  map[string]json.RawMessage `json:"prior"`
}

// DeletePayload records whether the user explicitly confirmed the delete.
// Confirmed deletes are never auto-overridden by a remote update.
type DeletePayload struct {
	Confirmed bool `json:"confirmed"`
}

// MovePayload carries the new structural placement of the entity.
type MovePayload struct {
	ContainerID string    `json:"containerId,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	LocationID  string    `json:"locationId,omitempty"`
	MovedAt     time.Time `json:"movedAt"`
}

// DecodePayload returns the typed payload variant for the event's kind.
// The union is closed: an unknown kind is an error, not a passthrough.
func (e *OfflineEvent) DecodePayload() (any, error) {
	switch e.Kind {
	case EventKindCreate:
		var p CreatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode create payload: %w", err)
		}
		return &p, nil
	case EventKindUpdate:
		var p UpdatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		return &p, nil
	case EventKindDelete:
		var p DeletePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode delete payload: %w", err)
		}
		return &p, nil
	case EventKindMove:
		var p MovePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode move payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// EncodePayload marshals one of the payload variants.
func EncodePayload(p any) (json.RawMessage, error) {
	switch p.(type) {
	case *CreatePayload, *UpdatePayload, *DeletePayload, *MovePayload:
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
