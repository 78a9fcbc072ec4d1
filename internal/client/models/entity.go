// Package models defines the domain entities tracked by the inventory and the
// records the sync engine keeps about them: offline events, identifier
// mappings and conflict records.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityTypeItem      EntityType = "item"
	EntityTypeContainer EntityType = "container"
	EntityTypeCategory  EntityType = "category"
	EntityTypeLocation  EntityType = "location"
)

// EntityTypes lists all entity types in dependency order: types that others
// reference come first, so creates resolve before the rows that point at them.
func EntityTypes() []EntityType {
	return []EntityType{EntityTypeCategory, EntityTypeLocation, EntityTypeContainer, EntityTypeItem}
}

const tempIDPrefix = "local-"

// NewTempID mints a temporary identifier for an entity created offline.
// Temporary ids never reach the remote store.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id is a locally-minted temporary identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Ref is a foreign-key slot on an entity. ID points into the owning struct so
// reference rewriting mutates the entity in place.
type Ref struct {
	Type EntityType
	ID   *string
}

// Entity is implemented by all four domain entities. Identity, soft-delete
// state and timestamps live on the embedded Meta.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
	Type() EntityType
	Created() time.Time
	Modified() time.Time
	Touch(t time.Time)
	IsDeleted() bool
	MarkDeleted(t time.Time)

	// ExternalKey returns the value covered by the remote uniqueness
	// constraint, or "" when the entity carries none.
	ExternalKey() string

	// Refs returns every foreign-key slot; PlacementRefs returns the subset
	// that represents structural placement (move detection).
	Refs() []Ref
	PlacementRefs() []Ref

	Clone() Entity
}

// Meta carries the fields shared by every entity.
type Meta struct {
	ID        string    `json:"id"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) EntityID() string      { return m.ID }
func (m *Meta) SetEntityID(id string) { m.ID = id }
func (m *Meta) Created() time.Time    { return m.CreatedAt }
func (m *Meta) Modified() time.Time   { return m.UpdatedAt }
func (m *Meta) Touch(t time.Time)     { m.UpdatedAt = t }
func (m *Meta) IsDeleted() bool       { return m.Deleted }

func (m *Meta) MarkDeleted(t time.Time) {
	m.Deleted = true
	m.UpdatedAt = t
}

// NewEntity returns a zero value of the given type, for decoding.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityTypeItem:
		return &Item{}, nil
	case EntityTypeContainer:
		return &Container{}, nil
	case EntityTypeCategory:
		return &Category{}, nil
	case EntityTypeLocation:
		return &Location{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

// DecodeEntity unmarshals a JSON document into a typed entity.
func DecodeEntity(t EntityType, doc []byte) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}

// EncodeEntity marshals a typed entity to its JSON document.
func EncodeEntity(e Entity) ([]byte, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return doc, nil
}

// ToFieldMap flattens an entity into field name -> raw JSON value, used for
// field-level diffing by the conflict detector and resolver.
func ToFieldMap(e Entity) (map[string]json.RawMessage, error) {
	doc, err := EncodeEntity(e)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}
	return m, nil
}
