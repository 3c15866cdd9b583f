// Package model - sync state persisted in syncdate.json
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ortelius/nvd-mirror/util"
)

// EpochStart seeds the watermarks of a freshly resynced repository
var EpochStart = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Watermark is the last-modified window already synchronized for one record kind
type Watermark struct {
	LastModStartDate time.Time
	LastModEndDate   time.Time
}

type watermarkJSON struct {
	LastModStartDate string `json:"lastModStartDate"`
	LastModEndDate   string `json:"lastModEndDate"`
}

// NewWatermark returns a zero-width watermark at t
func NewWatermark(t time.Time) Watermark {
	return Watermark{LastModStartDate: t, LastModEndDate: t}
}

// Validate checks the start <= end invariant
func (w Watermark) Validate() error {
	if w.LastModStartDate.IsZero() || w.LastModEndDate.IsZero() {
		return fmt.Errorf("watermark dates must be set")
	}
	if w.LastModEndDate.Before(w.LastModStartDate) {
		return fmt.Errorf("lastModEndDate %s is before lastModStartDate %s",
			util.FormatISODatetime(w.LastModEndDate), util.FormatISODatetime(w.LastModStartDate))
	}
	return nil
}

// Advance returns the watermark of the window that follows w and ends at end.
// The new window starts where w ended and never ends before it starts.
func (w Watermark) Advance(end time.Time) Watermark {
	next := Watermark{LastModStartDate: w.LastModEndDate, LastModEndDate: end}
	if next.LastModEndDate.Before(next.LastModStartDate) {
		next.LastModEndDate = next.LastModStartDate
	}
	return next
}

// MarshalJSON renders both dates in the normalized millisecond form
func (w Watermark) MarshalJSON() ([]byte, error) {
	return json.Marshal(watermarkJSON{
		LastModStartDate: util.FormatISODatetime(w.LastModStartDate),
		LastModEndDate:   util.FormatISODatetime(w.LastModEndDate),
	})
}

// UnmarshalJSON accepts any ISO 8601 form, including the date-only seed of older state files
func (w *Watermark) UnmarshalJSON(data []byte) error {
	var raw watermarkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := util.ParseISODatetime(raw.LastModStartDate)
	if err != nil {
		return fmt.Errorf("lastModStartDate: %w", err)
	}
	end, err := util.ParseISODatetime(raw.LastModEndDate)
	if err != nil {
		return fmt.Errorf("lastModEndDate: %w", err)
	}

	w.LastModStartDate = start
	w.LastModEndDate = end
	return nil
}

// SyncState maps each record kind to its watermark
type SyncState struct {
	Vulnerabilities Watermark `json:"vulnerabilities"`
	MatchStrings    Watermark `json:"matchStrings"`
}

// NewSyncState seeds both watermarks at t
func NewSyncState(t time.Time) *SyncState {
	return &SyncState{
		Vulnerabilities: NewWatermark(t),
		MatchStrings:    NewWatermark(t),
	}
}

// Get returns the watermark of kind
func (s *SyncState) Get(kind RecordKind) Watermark {
	if kind == KindMatchStrings {
		return s.MatchStrings
	}
	return s.Vulnerabilities
}

// Set replaces the watermark of kind
func (s *SyncState) Set(kind RecordKind, w Watermark) {
	if kind == KindMatchStrings {
		s.MatchStrings = w
		return
	}
	s.Vulnerabilities = w
}

// Clone returns an independent copy
func (s *SyncState) Clone() *SyncState {
	c := *s
	return &c
}

// Validate checks every watermark
func (s *SyncState) Validate() error {
	for _, kind := range SyncOrder {
		if err := s.Get(kind).Validate(); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// SyncMode selects how the query window of a sync is derived
type SyncMode string

const (
	// ModeResync fetches the whole remote collection
	ModeResync SyncMode = "resync"
	// ModeSingle fetches exactly one record by identifier
	ModeSingle SyncMode = "single"
	// ModeIncremental fetches records modified since the persisted watermark
	ModeIncremental SyncMode = "incremental"
)
