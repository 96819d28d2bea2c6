package domain

import "time"

// SnapshotFormatVersion is written into every artifact's metadata block.
const SnapshotFormatVersion = 1

// Record is one row of a collection, as returned by the record store.
type Record map[string]any

// FileEntry describes one file in the manifest. Content is only populated when
// the policy asks for file bytes to be embedded.
type FileEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

type SnapshotMetadata struct {
	Version     int        `json:"version"`
	BackupID    string     `json:"backupId"`
	Kind        BackupKind `json:"kind"`
	Collections []string   `json:"collections"`
	CreatedAt   time.Time  `json:"createdAt"`
	Warnings    []string   `json:"warnings,omitempty"`
	// Unreadable names collections captured empty because their read failed.
	Unreadable []string `json:"unreadable,omitempty"`
}

// SnapshotPayload is never persisted as-is; only its compressed form is.
type SnapshotPayload struct {
	Metadata    SnapshotMetadata    `json:"metadata"`
	Collections map[string][]Record `json:"collections"`
	Files       []FileEntry         `json:"files,omitempty"`
}

// RecordCount returns the total number of records across collections.
func (p *SnapshotPayload) RecordCount() int {
	n := 0
	for _, records := range p.Collections {
		n += len(records)
	}
	return n
}
