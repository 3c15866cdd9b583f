// Package model - NVD API 2.0 response types for the CVE and CPE match criteria endpoints
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RecordKind names one of the two mirrored collections. The value doubles as the
// key of the kind's watermark in syncdate.json and of its record list in API responses.
type RecordKind string

const (
	// KindVulnerabilities is the CVE collection
	KindVulnerabilities RecordKind = "vulnerabilities"
	// KindMatchStrings is the CPE match criteria collection
	KindMatchStrings RecordKind = "matchStrings"
)

// SyncOrder is the fixed order in which kinds are synced when a run covers both.
// Match strings land first so every CVE written by a run can resolve the match
// criteria it references.
var SyncOrder = []RecordKind{KindMatchStrings, KindVulnerabilities}

// Endpoint returns the API path serving the kind
func (k RecordKind) Endpoint() string {
	switch k {
	case KindVulnerabilities:
		return "rest/json/cves/2.0"
	case KindMatchStrings:
		return "rest/json/cpematch/2.0"
	}
	return ""
}

// IDParam returns the query parameter that selects a single record of the kind
func (k RecordKind) IDParam() string {
	switch k {
	case KindVulnerabilities:
		return "cveId"
	case KindMatchStrings:
		return "matchCriteriaId"
	}
	return ""
}

// Label is the human readable plural used in progress output
func (k RecordKind) Label() string {
	switch k {
	case KindVulnerabilities:
		return "CVEs"
	case KindMatchStrings:
		return "CPE Match Strings"
	}
	return string(k)
}

// Valid reports whether k is one of the known kinds
func (k RecordKind) Valid() bool {
	return k == KindVulnerabilities || k == KindMatchStrings
}

// Page is one response of a paginated NVD endpoint. Records are kept as raw JSON so
// they can be written to disk exactly as delivered.
type Page struct {
	ResultsPerPage  int               `json:"resultsPerPage"`
	StartIndex      int               `json:"startIndex"`
	TotalResults    int               `json:"totalResults"`
	Format          string            `json:"format,omitempty"`
	Version         string            `json:"version,omitempty"`
	Timestamp       string            `json:"timestamp"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities,omitempty"`
	MatchStrings    []json.RawMessage `json:"matchStrings,omitempty"`
}

// Records returns the record list of the page for the given kind
func (p Page) Records(kind RecordKind) []json.RawMessage {
	if kind == KindMatchStrings {
		return p.MatchStrings
	}
	return p.Vulnerabilities
}

// RecordHeader holds the only fields the mirror reads out of a record
type RecordHeader struct {
	ID           string
	LastModified string
}

type vulnerabilityEnvelope struct {
	CVE *struct {
		ID           string `json:"id"`
		LastModified string `json:"lastModified"`
	} `json:"cve"`
}

type matchStringEnvelope struct {
	MatchString *struct {
		MatchCriteriaID string `json:"matchCriteriaId"`
		LastModified    string `json:"lastModified"`
	} `json:"matchString"`
}

var cveIDPattern = regexp.MustCompile(`^CVE-(\d{4})-\d{4,}$`)

// ParseRecordHeader extracts the identifier and last-modified timestamp of a raw record
func ParseRecordHeader(kind RecordKind, raw json.RawMessage) (RecordHeader, error) {
	switch kind {
	case KindVulnerabilities:
		var env vulnerabilityEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return RecordHeader{}, fmt.Errorf("decode vulnerability record: %w", err)
		}
		if env.CVE == nil || env.CVE.ID == "" {
			return RecordHeader{}, fmt.Errorf("vulnerability record has no cve.id")
		}
		return RecordHeader{ID: env.CVE.ID, LastModified: env.CVE.LastModified}, nil

	case KindMatchStrings:
		var env matchStringEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return RecordHeader{}, fmt.Errorf("decode match string record: %w", err)
		}
		if env.MatchString == nil || env.MatchString.MatchCriteriaID == "" {
			return RecordHeader{}, fmt.Errorf("match string record has no matchString.matchCriteriaId")
		}
		return RecordHeader{ID: env.MatchString.MatchCriteriaID, LastModified: env.MatchString.LastModified}, nil
	}
	return RecordHeader{}, fmt.Errorf("unknown record kind %q", kind)
}

// CVEYear returns the year component of a CVE identifier, e.g. "2023" for CVE-2023-12345
func CVEYear(id string) (string, error) {
	m := cveIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("malformed CVE id %q", id)
	}
	return m[1], nil
}

// MatchCriteriaPrefix returns the two character partition of a match criteria id.
// The partition must be ASCII so it never splits a multi-byte character.
func MatchCriteriaPrefix(id string) (string, error) {
	if len(id) < 2 || id[0] >= utf8.RuneSelf || id[1] >= utf8.RuneSelf || strings.ContainsAny(id, `/\.`) {
		return "", fmt.Errorf("malformed match criteria id %q", id)
	}
	return id[:2], nil
}
