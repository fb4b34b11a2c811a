package domain

import "time"

// SnapshotEntry is the state of one entity inside a remote snapshot.
type SnapshotEntry struct {
	EntityID         string `json:"entity_id"`
	Version          string `json:"version"`
	ContentReference string `json:"content_reference"`
}

// RemoteSnapshot is the remote store's complete state as of AnchorEventID.
type RemoteSnapshot struct {
	Sequence         int64           `json:"sequence"`
	AsOf             time.Time       `json:"as_of_timestamp"`
	AnchorEventID    string          `json:"anchor_event_id"`
	TotalEntityCount int64           `json:"total_entity_count"`
	Entries          []SnapshotEntry `json:"entries"`
}

// RemoteEvent is one state transition in the remote history.
type RemoteEvent struct {
	EventID          string    `json:"event_id"`
	Kind             EventKind `json:"kind"`
	EntityID         string    `json:"entity_id"`
	Version          string    `json:"version"`
	ContentReference string    `json:"content_reference"`
	Timestamp        time.Time `json:"timestamp"`
}

// EventPage is one page of remote history, newest event first.
type EventPage struct {
	Items         []RemoteEvent `json:"items"`
	HasMore       bool          `json:"has_more"`
	NextPageToken string        `json:"next_cursor,omitempty"`
}
