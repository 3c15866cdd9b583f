// Package database - sync state persistence
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ortelius/nvd-mirror/model"
	"github.com/ortelius/nvd-mirror/util"
	"go.uber.org/zap"
)

// SyncStateFile is the name of the sync state document at the repository root
const SyncStateFile = "syncdate.json"

// ErrSyncStateNotFound means the repository has never completed a full resync
var ErrSyncStateNotFound = errors.New("sync state not found, run a full resync first")

// SyncStatePath returns the location of syncdate.json
func (r *Repository) SyncStatePath() string {
	return filepath.Join(r.Root, SyncStateFile)
}

// LoadSyncState reads and validates the persisted watermarks
func (r *Repository) LoadSyncState() (*model.SyncState, error) {
	data, err := os.ReadFile(r.SyncStatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSyncStateNotFound, r.SyncStatePath())
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}

	var state model.SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse sync state %s: %w", r.SyncStatePath(), err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync state %s: %w", r.SyncStatePath(), err)
	}
	return &state, nil
}

// SaveSyncState atomically replaces syncdate.json with state
func (r *Repository) SaveSyncState(state *model.SyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save sync state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	data = append(data, '\n')

	if err := util.WriteFileAtomic(r.SyncStatePath(), data, 0o644); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	r.logger.Info("Saved sync state",
		zap.String("path", r.SyncStatePath()),
		zap.String("vulnerabilities.lastModEndDate", util.FormatISODatetime(state.Vulnerabilities.LastModEndDate)),
		zap.String("matchStrings.lastModEndDate", util.FormatISODatetime(state.MatchStrings.LastModEndDate)))
	return nil
}
