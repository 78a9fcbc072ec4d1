package models

// Container holds items and may be nested inside another container.
type Container struct {
	Meta
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ExternalCode string `json:"externalCode,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	LocationID   string `json:"locationId,omitempty"`
}

func (c *Container) Type() EntityType    { return EntityTypeContainer }
func (c *Container) ExternalKey() string { return c.ExternalCode }

func (c *Container) Refs() []Ref {
	return []Ref{
		{Type: EntityTypeContainer, ID: &c.ParentID},
		{Type: EntityTypeLocation, ID: &c.LocationID},
	}
}

func (c *Container) PlacementRefs() []Ref {
	return []Ref{
		{Type: EntityTypeContainer, ID: &c.ParentID},
		{Type: EntityTypeLocation, ID: &c.LocationID},
	}
}

func (c *Container) Clone() Entity {
	cc := *c
	return &cc
}

// Category groups items for browsing and reporting.
type Category struct {
	Meta
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (c *Category) Type() EntityType    { return EntityTypeCategory }
func (c *Category) ExternalKey() string { return "" }
func (c *Category) Refs() []Ref         { return nil }
func (c *Category) PlacementRefs() []Ref { return nil }

func (c *Category) Clone() Entity {
	cc := *c
	return &cc
}

// Location is a physical place (room, shelf, building).
type Location struct {
	Meta
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

func (l *Location) Type() EntityType     { return EntityTypeLocation }
func (l *Location) ExternalKey() string  { return "" }
func (l *Location) Refs() []Ref          { return nil }
func (l *Location) PlacementRefs() []Ref { return nil }

func (l *Location) Clone() Entity {
	ll := *l
	return &ll
}
