package domain

import "time"

// EventKind is the kind of state transition an event records.
type EventKind string

const (
	// EventKindCreate introduces a new entity.
	EventKindCreate EventKind = "create"
	// EventKindUpdate moves an existing entity to a new version.
	EventKindUpdate EventKind = "update"
)

// Record is one line of the replica log. Snapshot records carry only the
// entity fields; event records also carry EventID, Kind, and Timestamp.
type Record struct {
	EventID          string    `json:"event_id,omitempty"`
	Kind             EventKind `json:"kind,omitempty"`
	EntityID         string    `json:"entity_id"`
	Version          string    `json:"version"`
	ContentReference string    `json:"content_reference"`
	Timestamp        time.Time `json:"timestamp,omitzero"`
}

// IsEvent reports whether r records a single event rather than a snapshot entry.
func (r Record) IsEvent() bool {
	return r.EventID != ""
}

// SnapshotRecord builds the log record for one snapshot entry.
func SnapshotRecord(entry SnapshotEntry) Record {
	return Record{
		EntityID:         entry.EntityID,
		Version:          entry.Version,
		ContentReference: entry.ContentReference,
	}
}

// EventRecord builds the log record for one remote event.
func EventRecord(event RemoteEvent) Record {
	return Record{
		EventID:          event.EventID,
		Kind:             event.Kind,
		EntityID:         event.EntityID,
		Version:          event.Version,
		ContentReference: event.ContentReference,
		Timestamp:        event.Timestamp,
	}
}

// SnapshotRecords converts every entry of snapshot into log records.
func SnapshotRecords(snapshot RemoteSnapshot) []Record {
	records := make([]Record, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		records = append(records, SnapshotRecord(entry))
	}
	return records
}

// LogStats summarizes replica log contents.
type LogStats struct {
	SnapshotRecords int64
	EventRecords    int64
	CreateEvents    int64
	// LastEventID is the id of the newest event record, empty when the log
	// holds only snapshot entries.
	LastEventID string
}

// Add accounts for one record.
func (s *LogStats) Add(record Record) {
	if !record.IsEvent() {
		s.SnapshotRecords++
		return
	}
	s.EventRecords++
	s.LastEventID = record.EventID
	if record.Kind == EventKindCreate {
		s.CreateEvents++
	}
}

// EntityCount is the entity count derived from the log: every snapshot entry
// plus every create event integrated since.
func (s LogStats) EntityCount() int64 {
	return s.SnapshotRecords + s.CreateEvents
}
