package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BackupKind string

const (
	BackupKindFull        BackupKind = "full"
	BackupKindIncremental BackupKind = "incremental"
	BackupKindManual      BackupKind = "manual"
	BackupKindScheduled   BackupKind = "scheduled"
	BackupKindEmergency   BackupKind = "emergency"
)

func (k BackupKind) Valid() bool {
	switch k {
	case BackupKindFull, BackupKindIncremental, BackupKindManual, BackupKindScheduled, BackupKindEmergency:
		return true
	}
	return false
}

type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusRunning   BackupStatus = "running"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusCancelled BackupStatus = "cancelled"
	BackupStatusExpired   BackupStatus = "expired"
)

func (s BackupStatus) Valid() bool {
	switch s {
	case BackupStatusPending, BackupStatusRunning, BackupStatusCompleted,
		BackupStatusFailed, BackupStatusCancelled, BackupStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition except expiry can happen.
func (s BackupStatus) IsTerminal() bool {
	switch s {
	case BackupStatusCompleted, BackupStatusFailed, BackupStatusCancelled, BackupStatusExpired:
		return true
	}
	return false
}

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

func (c Compression) Valid() bool {
	switch c {
	case CompressionNone, CompressionGzip, CompressionZip:
		return true
	}
	return false
}

// transitions lists every legal status change. Expiry only starts from completed.
var transitions = map[BackupStatus][]BackupStatus{
	BackupStatusPending:   {BackupStatusRunning, BackupStatusFailed},
	BackupStatusRunning:   {BackupStatusCompleted, BackupStatusFailed, BackupStatusCancelled},
	BackupStatusCompleted: {BackupStatusExpired},
}

func CanTransition(from, to BackupStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type BackupRecord struct {
	ID                  string       `db:"id"`
	Name                string       `db:"name"`
	Kind                BackupKind   `db:"kind"`
	Status              BackupStatus `db:"status"`
	Progress            int          `db:"progress"`
	CollectionsIncluded []string     `db:"collections_included"` // JSON array
	IncludeFiles        bool         `db:"include_files"`
	Compression         Compression  `db:"compression"`
	ArtifactPath        *string      `db:"artifact_path"`
	SizeBytes           *int64       `db:"size_bytes"`
	Checksum            *string      `db:"checksum"`
	ErrorMessage        *string      `db:"error_message"`
	StartedBy           *string      `db:"started_by"` // nil for scheduled runs
	RetentionDays       int          `db:"retention_days"`
	ExpiresAt           time.Time    `db:"expires_at"`
	StartedAt           time.Time    `db:"started_at"`
	CompletedAt         *time.Time   `db:"completed_at"`
	FinishedAt          *time.Time   `db:"finished_at"` // any terminal transition
}

func NewBackupRecord(
	kind BackupKind,
	name string,
	collections []string,
	includeFiles bool,
	compression Compression,
	startedBy *string,
	retentionDays int,
	now time.Time,
) *BackupRecord {
	now = now.UTC()
	if name == "" {
		name = fmt.Sprintf("%s-%s", kind, now.Format("20060102-150405"))
	}
	return &BackupRecord{
		ID:                  uuid.New().String(),
		Name:                name,
		Kind:                kind,
		Status:              BackupStatusPending,
		CollectionsIncluded: append([]string(nil), collections...),
		IncludeFiles:        includeFiles,
		Compression:         compression,
		StartedBy:           startedBy,
		RetentionDays:       retentionDays,
		ExpiresAt:           now.AddDate(0, 0, retentionDays),
		StartedAt:           now,
	}
}

func (b *BackupRecord) transition(to BackupStatus) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: backup %s cannot move from %s to %s", ErrPreconditionFailed, b.ID, b.Status, to)
	}
	b.Status = to
	return nil
}

// Start marks the first pipeline step as begun.
func (b *BackupRecord) Start() error {
	return b.transition(BackupStatusRunning)
}

// SetProgress records pipeline progress. Progress never moves backwards.
func (b *BackupRecord) SetProgress(progress int) error {
	if b.Status != BackupStatusRunning {
		return fmt.Errorf("%w: backup %s is %s", ErrPreconditionFailed, b.ID, b.Status)
	}
	if progress > 100 {
		progress = 100
	}
	if progress > b.Progress {
		b.Progress = progress
	}
	return nil
}

func (b *BackupRecord) Complete(artifactPath string, sizeBytes int64, checksum string, at time.Time) error {
	if artifactPath == "" || checksum == "" {
		return fmt.Errorf("%w: completed backup requires artifact path and checksum", ErrValidation)
	}
	if err := b.transition(BackupStatusCompleted); err != nil {
		return err
	}
	at = at.UTC()
	b.Progress = 100
	b.ArtifactPath = &artifactPath
	b.SizeBytes = &sizeBytes
	b.Checksum = &checksum
	b.CompletedAt = &at
	b.FinishedAt = &at
	return nil
}

func (b *BackupRecord) Fail(message string, at time.Time) error {
	if err := b.transition(BackupStatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "backup failed"
	}
	at = at.UTC()
	b.ErrorMessage = &message
	b.FinishedAt = &at
	b.clearArtifact()
	return nil
}

func (b *BackupRecord) Cancel(at time.Time) error {
	if err := b.transition(BackupStatusCancelled); err != nil {
		return err
	}
	at = at.UTC()
	b.FinishedAt = &at
	b.clearArtifact()
	return nil
}

// Expire retires a completed backup whose artifact has been removed. Size and
// checksum are kept for audit.
func (b *BackupRecord) Expire(at time.Time) error {
	if err := b.transition(BackupStatusExpired); err != nil {
		return err
	}
	at = at.UTC()
	b.ArtifactPath = nil
	b.FinishedAt = &at
	return nil
}

func (b *BackupRecord) clearArtifact() {
	b.ArtifactPath = nil
	b.SizeBytes = nil
	b.Checksum = nil
	b.CompletedAt = nil
}

// HasArtifact reports whether the record points at an authoritative artifact.
func (b *BackupRecord) HasArtifact() bool {
	return b.Status == BackupStatusCompleted && b.ArtifactPath != nil
}

// IsExpired reports whether the retention window has passed at now.
func (b *BackupRecord) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

func (b *BackupRecord) Clone() *BackupRecord {
	c := *b
	c.CollectionsIncluded = append([]string(nil), b.CollectionsIncluded...)
	return &c
}
