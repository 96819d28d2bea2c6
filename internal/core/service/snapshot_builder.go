package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

const DefaultFileManifestPath = "files/manifest.json"

type BuildRequest struct {
	BackupID            string
	Kind                domain.BackupKind
	Collections         []string
	IncludeFiles        bool
	IncludeFileContents bool
	CreatedAt           time.Time

	// OnCollection, if set, is called after each collection has been read.
	OnCollection func(done, total int)
}

// SnapshotBuilder reads the live collections and the file manifest into one
// in-memory payload.
type SnapshotBuilder struct {
	records      port.RecordStore
	blobs        port.BlobStore
	locks        *CollectionLocks
	manifestPath string
	logger       zerolog.Logger
}

func NewSnapshotBuilder(
	records port.RecordStore,
	blobs port.BlobStore,
	locks *CollectionLocks,
	manifestPath string,
	logger zerolog.Logger,
) *SnapshotBuilder {
	if manifestPath == "" {
		manifestPath = DefaultFileManifestPath
	}
	if locks == nil {
		locks = NewCollectionLocks()
	}
	return &SnapshotBuilder{
		records:      records,
		blobs:        blobs,
		locks:        locks,
		manifestPath: manifestPath,
		logger:       logger.With().Str("component", "snapshot-builder").Logger(),
	}
}

// Build captures every requested collection. A collection that fails to read
// is captured as an empty list and noted in the metadata warnings; only an
// unreachable record store aborts the build.
func (b *SnapshotBuilder) Build(ctx context.Context, req BuildRequest) (*domain.SnapshotPayload, error) {
	if pinger, ok := b.records.(port.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			if !errors.Is(err, domain.ErrAdapterUnavailable) {
				err = fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
			}
			return nil, err
		}
	}

	payload := &domain.SnapshotPayload{
		Metadata: domain.SnapshotMetadata{
			Version:     domain.SnapshotFormatVersion,
			BackupID:    req.BackupID,
			Kind:        req.Kind,
			Collections: append([]string{}, req.Collections...),
			CreatedAt:   req.CreatedAt.UTC(),
		},
		Collections: make(map[string][]domain.Record, len(req.Collections)),
	}

	unlock := b.locks.RLock(req.Collections)
	for i, name := range req.Collections {
		records, err := b.records.ReadAll(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrAdapterUnavailable) || ctx.Err() != nil {
				unlock()
				return nil, fmt.Errorf("failed to read collection %s: %w", name, err)
			}
			b.logger.Warn().Err(err).Str("backup_id", req.BackupID).Str("collection", name).
				Msg("collection unreadable, capturing it empty")
			payload.Metadata.Warnings = append(payload.Metadata.Warnings,
				fmt.Sprintf("collection %s could not be read: %v", name, err))
			payload.Metadata.Unreadable = append(payload.Metadata.Unreadable, name)
			records = []domain.Record{}
		}
		if records == nil {
			records = []domain.Record{}
		}
		payload.Collections[name] = records
		if req.OnCollection != nil {
			req.OnCollection(i+1, len(req.Collections))
		}
	}
	unlock()

	if req.IncludeFiles {
		files, warnings := b.readFiles(ctx, req)
		payload.Files = files
		payload.Metadata.Warnings = append(payload.Metadata.Warnings, warnings...)
	}

	return payload, nil
}

func (b *SnapshotBuilder) readFiles(ctx context.Context, req BuildRequest) ([]domain.FileEntry, []string) {
	files := []domain.FileEntry{}

	data, err := b.blobs.Get(ctx, b.manifestPath)
	if errors.Is(err, domain.ErrNotFound) {
		return files, []string{fmt.Sprintf("file manifest %s not found", b.manifestPath)}
	}
	if err != nil {
		b.logger.Warn().Err(err).Str("backup_id", req.BackupID).Msg("file manifest unreadable")
		return files, []string{fmt.Sprintf("file manifest could not be read: %v", err)}
	}

	if err := decodeManifest(data, &files); err != nil {
		return []domain.FileEntry{}, []string{fmt.Sprintf("file manifest is not valid JSON: %v", err)}
	}

	if !req.IncludeFileContents {
		return files, nil
	}

	var warnings []string
	for i := range files {
		content, err := b.blobs.Get(ctx, files[i].Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("file %s could not be read: %v", files[i].Path, err))
			continue
		}
		files[i].Content = content
	}
	return files, warnings
}

// ManifestPath returns the blob path of the file manifest.
func (b *SnapshotBuilder) ManifestPath() string {
	return b.manifestPath
}

func decodeManifest(data []byte, files *[]domain.FileEntry) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	return dec.Decode(files)
}
