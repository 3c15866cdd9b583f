// Package database - Handles all interaction with the local NVD data repository:
// record files laid out by identifier and the syncdate.json sync state.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ortelius/nvd-mirror/model"
	"github.com/ortelius/nvd-mirror/util"
	"go.uber.org/zap"
)

// ErrMalformedRecord is returned for a record whose identifier cannot be placed on disk
var ErrMalformedRecord = errors.New("malformed record")

// Repository is a directory tree mirroring the NVD
type Repository struct {
	Root   string
	logger *zap.Logger
}

// InitializeRepository opens the repository rooted at root, creating the directory if needed
func InitializeRepository(root string, logger *zap.Logger) (*Repository, error) {
	if util.IsEmpty(root) {
		return nil, fmt.Errorf("repository path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create repository %s: %w", root, err)
	}

	return &Repository{Root: root, logger: logger}, nil
}

// RecordPath derives the file of a record purely from its identifier:
// cve/<year>/<CVE-ID>.json and cpematch/<first two chars>/<id>.json
func (r *Repository) RecordPath(kind model.RecordKind, id string) (string, error) {
	switch kind {
	case model.KindVulnerabilities:
		year, err := model.CVEYear(id)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return filepath.Join(r.Root, "cve", year, id+".json"), nil

	case model.KindMatchStrings:
		prefix, err := model.MatchCriteriaPrefix(id)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return filepath.Join(r.Root, "cpematch", prefix, id+".json"), nil
	}
	return "", fmt.Errorf("unknown record kind %q", kind)
}

// WriteRecord stores raw verbatim at its derived path, replacing any previous version
func (r *Repository) WriteRecord(kind model.RecordKind, raw json.RawMessage) (model.RecordHeader, error) {
	if !kind.Valid() {
		return model.RecordHeader{}, fmt.Errorf("unknown record kind %q", kind)
	}

	header, err := model.ParseRecordHeader(kind, raw)
	if err != nil {
		return model.RecordHeader{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	path, err := r.RecordPath(kind, header.ID)
	if err != nil {
		return model.RecordHeader{}, err
	}

	r.logger.Debug("Updating record", zap.String("path", path))
	if err := util.WriteFileAtomic(path, raw, 0o644); err != nil {
		return model.RecordHeader{}, fmt.Errorf("write %s: %w", header.ID, err)
	}
	return header, nil
}
