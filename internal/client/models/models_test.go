package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	all := []EventStatus{EventStatusPending, EventStatusSyncing, EventStatusSynced, EventStatusFailed, EventStatusConflicted}

	legal := map[[2]EventStatus]bool{
		{EventStatusPending, EventStatusSyncing}:    true,
		{EventStatusSyncing, EventStatusSynced}:     true,
		{EventStatusSyncing, EventStatusFailed}:     true,
		{EventStatusSyncing, EventStatusConflicted}: true,
		{EventStatusSyncing, EventStatusPending}:    true,
		{EventStatusFailed, EventStatusPending}:     true,
		{EventStatusConflicted, EventStatusSynced}:  true,
		{EventStatusConflicted, EventStatusPending}: true,
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			assert.Equal(t, legal[[2]EventStatus{from, to}], got, "%s -> %s", from, to)
		}
	}
}

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.NotEqual(t, id, NewTempID())
	assert.False(t, IsTempID("srv-1"))
	assert.False(t, IsTempID(""))
}

func TestEntityTypesDependencyOrder(t *testing.T) {
	types := EntityTypes()
	require.Len(t, types, 4)
	// Referenced types come before the types that point at them.
	assert.Equal(t, EntityTypeItem, types[3])
	assert.Less(t, indexOf(types, EntityTypeCategory), indexOf(types, EntityTypeItem))
	assert.Less(t, indexOf(types, EntityTypeLocation), indexOf(types, EntityTypeContainer))
}

func indexOf(types []EntityType, t EntityType) int {
	for i, v := range types {
		if v == t {
			return i
		}
	}
	return -1
}

func TestPayloadUnionIsClosed(t *testing.T) {
	_, err := EncodePayload(&struct{ X int }{1})
	assert.Error(t, err)

	e := &OfflineEvent{Kind: "RENAME", Payload: json.RawMessage(`{}`)}
	_, err = e.DecodePayload()
	assert.Error(t, err)
}

func TestPayloadRoundtripByKind(t *testing.T) {
	raw, err := EncodePayload(&UpdatePayload{
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Drill"`)},
		Prior:  map[string]json.RawMessage{"name": json.RawMessage(`"Old"`)},
	})
	require.NoError(t, err)

	e := &OfflineEvent{Kind: EventKindUpdate, Payload: raw}
	decoded, err := e.DecodePayload()
	require.NoError(t, err)
	upd, ok := decoded.(*UpdatePayload)
	require.True(t, ok)
	assert.JSONEq(t, `"Drill"`, string(upd.Fields["name"]))
	assert.JSONEq(t, `"Old"`, string(upd.Prior["name"]))
}

func TestDecodeEntityRejectsUnknownType(t *testing.T) {
	_, err := DecodeEntity("gadget", []byte(`{}`))
	assert.Error(t, err)
}

func TestToFieldMapFlattensEmbeddedMeta(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	item := &Item{
		Meta:       Meta{ID: "srv-1", CreatedAt: now, UpdatedAt: now},
		Name:       "Drill",
		Quantity:   2,
		CategoryID: "cat-1",
	}

	m, err := ToFieldMap(item)
	require.NoError(t, err)
	assert.JSONEq(t, `"srv-1"`, string(m["id"]))
	assert.JSONEq(t, `"Drill"`, string(m["name"]))
	assert.JSONEq(t, `2`, string(m["quantity"]))
	assert.JSONEq(t, `"cat-1"`, string(m["categoryId"]))
	// omitempty fields do not appear when unset
	_, ok := m["containerId"]
	assert.False(t, ok)
}

func TestRefsPointIntoTheEntity(t *testing.T) {
	item := &Item{CategoryID: "cat-1", ContainerID: "box-1", LocationID: "loc-1"}
	for _, ref := range item.Refs() {
		*ref.ID = "rewritten"
	}
	assert.Equal(t, "rewritten", item.CategoryID)
	assert.Equal(t, "rewritten", item.ContainerID)
	assert.Equal(t, "rewritten", item.LocationID)

	// Clone detaches the refs from the original.
	clone := item.Clone().(*Item)
	*clone.Refs()[0].ID = "changed"
	assert.Equal(t, "rewritten", item.CategoryID)
}

func TestConflictPriorityOrdersDestructiveFirst(t *testing.T) {
	assert.Less(t, ConflictDeleteUpdate.Priority(), ConflictUpdateUpdate.Priority())
	assert.Less(t, ConflictUpdateUpdate.Priority(), ConflictCreateCreate.Priority())
	assert.Less(t, ConflictCreateCreate.Priority(), ConflictMoveMove.Priority())
}
