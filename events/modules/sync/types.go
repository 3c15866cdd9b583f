// Package syncevent defines the Kafka event announcing a completed mirror run.
package syncevent

import (
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/nvd-mirror/model"
)

// EventTypeSyncCompleted is the event_type of SyncCompletedEvent
const EventTypeSyncCompleted = "nvd.sync.completed"

// SyncCompletedEvent is published once a run has written its records and, for
// resync and incremental runs, committed its sync state.
type SyncCompletedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	RunID string         `json:"run_id"`
	Mode  model.SyncMode `json:"mode"`
	Kinds []KindSummary  `json:"kinds"`
}

// KindSummary reports what a run did for one record kind
type KindSummary struct {
	Kind           model.RecordKind `json:"kind"`
	Count          int              `json:"count"`
	NewestModified string           `json:"newest_modified,omitempty"`

	// Watermark is omitted for single record runs, which never move it
	Watermark *model.Watermark `json:"watermark,omitempty"`
}

// NewSyncCompletedEvent stamps a new event for the given run
func NewSyncCompletedEvent(runID string, mode model.SyncMode, kinds []KindSummary) SyncCompletedEvent {
	return SyncCompletedEvent{
		EventType:     EventTypeSyncCompleted,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: "v1",
		RunID:         runID,
		Mode:          mode,
		Kinds:         kinds,
	}
}
