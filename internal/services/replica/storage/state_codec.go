package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
)

// stateRecord is the serialized JSON shape of domain.State. Unset fields
// are written as null.
type stateRecord struct {
	Phase                 string     `json:"phase"`
	Cursor                *string    `json:"cursor"`
	Connected             bool       `json:"connected"`
	BackoffInterval       string     `json:"backoff_interval"`
	LastPollTime          *time.Time `json:"last_poll_time"`
	EntityCount           int64      `json:"entity_count"`
	LastSnapshotSeq       *int64     `json:"last_snapshot_seq"`
	LastSnapshotCheckTime *time.Time `json:"last_snapshot_check_time"`
}

// MarshalState encodes state as an indented JSON document.
func MarshalState(state domain.State) ([]byte, error) {
	data, err := json.MarshalIndent(stateRecordFromDomain(state), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalState decodes a document written by MarshalState.
func UnmarshalState(data []byte) (domain.State, error) {
	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.State{}, fmt.Errorf("decode state: %w", err)
	}
	return record.toDomain()
}

func stateRecordFromDomain(state domain.State) stateRecord {
	record := stateRecord{
		Phase:           string(state.Phase),
		Connected:       state.Connected,
		BackoffInterval: state.BackoffInterval.String(),
		EntityCount:     state.EntityCount,
	}
	if record.Phase == "" {
		record.Phase = string(domain.PhaseUninitialized)
	}
	if state.Cursor != "" {
		cursor := state.Cursor
		record.Cursor = &cursor
	}
	if !state.LastPollTime.IsZero() {
		polled := state.LastPollTime.UTC()
		record.LastPollTime = &polled
	}
	if state.HasSnapshotSeq {
		seq := state.LastSnapshotSeq
		record.LastSnapshotSeq = &seq
	}
	if !state.LastSnapshotCheckTime.IsZero() {
		checked := state.LastSnapshotCheckTime.UTC()
		record.LastSnapshotCheckTime = &checked
	}
	return record
}

func (r stateRecord) toDomain() (domain.State, error) {
	state := domain.State{
		Phase:       domain.ParsePhase(r.Phase),
		Connected:   r.Connected,
		EntityCount: r.EntityCount,
	}
	if r.BackoffInterval != "" {
		interval, err := time.ParseDuration(r.BackoffInterval)
		if err != nil {
			return domain.State{}, fmt.Errorf("decode state backoff interval: %w", err)
		}
		state.BackoffInterval = interval
	}
	if r.Cursor != nil {
		state.Cursor = *r.Cursor
	}
	if r.LastPollTime != nil {
		state.LastPollTime = r.LastPollTime.UTC()
	}
	if r.LastSnapshotSeq != nil {
		state.LastSnapshotSeq = *r.LastSnapshotSeq
		state.HasSnapshotSeq = true
	}
	if r.LastSnapshotCheckTime != nil {
		state.LastSnapshotCheckTime = r.LastSnapshotCheckTime.UTC()
	}
	if state.EntityCount < 0 {
		state.EntityCount = 0
	}
	return state, nil
}
