package replicafakes

import (
	"fmt"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// EventID formats the identifier of the n-th generated event.
func EventID(n int) string {
	return fmt.Sprintf("evt-%05d", n)
}

// Events generates events numbered from..to inclusive, oldest first. Every
// fifth event updates an existing entity; the rest create new ones.
func Events(from, to int) []domain.RemoteEvent {
	events := make([]domain.RemoteEvent, 0, max(to-from+1, 0))
	for n := from; n <= to; n++ {
		events = append(events, Event(n))
	}
	return events
}

// Event generates the n-th event.
func Event(n int) domain.RemoteEvent {
	kind := domain.EventKindCreate
	entity := fmt.Sprintf("ent-%05d", n)
	if n%5 == 0 {
		kind = domain.EventKindUpdate
		entity = fmt.Sprintf("ent-%05d", n-1)
	}
	return domain.RemoteEvent{
		EventID:          EventID(n),
		Kind:             kind,
		EntityID:         entity,
		Version:          fmt.Sprintf("v%d", n),
		ContentReference: fmt.Sprintf("ref-%05d", n),
		Timestamp:        baseTime.Add(time.Duration(n) * time.Second),
	}
}

// Snapshot builds a snapshot with count entries anchored on anchor.
func Snapshot(seq int64, anchor string, count int) domain.RemoteSnapshot {
	entries := make([]domain.SnapshotEntry, 0, count)
	for i := 0; i < count; i++ {
		entries = append(entries, domain.SnapshotEntry{
			EntityID:         fmt.Sprintf("snap-%05d", i),
			Version:          fmt.Sprintf("s%d", seq),
			ContentReference: fmt.Sprintf("ref-snap-%d-%05d", seq, i),
		})
	}
	return domain.RemoteSnapshot{
		Sequence:         seq,
		AsOf:             baseTime.Add(time.Duration(seq) * time.Hour),
		AnchorEventID:    anchor,
		TotalEntityCount: int64(count),
		Entries:          entries,
	}
}
