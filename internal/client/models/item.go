package models

// Item is a single tracked object. It may live in a container, belong to a
// category and sit at a location; any of those references may still be a
// temporary id while the referenced entity is waiting to sync.
type Item struct {
	Meta
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	ExternalCode string  `json:"externalCode,omitempty"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	CategoryID   string  `json:"categoryId,omitempty"`
	ContainerID  string  `json:"containerId,omitempty"`
	LocationID   string  `json:"locationId,omitempty"`
	PhotoID      string  `json:"photoId,omitempty"`
}

func (i *Item) Type() EntityType    { return EntityTypeItem }
func (i *Item) ExternalKey() string { return i.ExternalCode }

func (i *Item) Refs() []Ref {
	return []Ref{
		{Type: EntityTypeCategory, ID: &i.CategoryID},
		{Type: EntityTypeContainer, ID: &i.ContainerID},
		{Type: EntityTypeLocation, ID: &i.LocationID},
	}
}

func (i *Item) PlacementRefs() []Ref {
	return []Ref{
		{Type: EntityTypeContainer, ID: &i.ContainerID},
		{Type: EntityTypeLocation, ID: &i.LocationID},
	}
}

func (i *Item) Clone() Entity {
	c := *i
	return &c
}
