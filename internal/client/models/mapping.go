package models

import "time"

// IDMapping binds a locally-minted temporary identifier to the permanent
// identifier the server assigned. ServerID is immutable once recorded.
type IDMapping struct {
	LocalID    string
	ServerID   string
	EntityType EntityType
	CreatedAt  time.Time
}

// ImageBlob is a photo captured offline, kept locally until uploaded.
type ImageBlob struct {
	ID        string
	EntityID  string
	MIME      string
	Data      []byte
	Uploaded  bool
	RemoteKey string
	CreatedAt time.Time
}
