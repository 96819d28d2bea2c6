// Package artifact turns snapshot payloads into checksummed, compressed blobs
// and back again.
package artifact

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/martijn/vaultkeep/internal/core/domain"
)

// zipEntryName is the single member written into zip-mode artifacts.
const zipEntryName = "snapshot.json"

// Compress serializes the payload and compresses it with mode.
func Compress(payload *domain.SnapshotPayload, mode domain.Compression) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	switch mode {
	case domain.CompressionNone:
		return raw, nil
	case domain.CompressionGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to gzip snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return buf.Bytes(), nil
	case domain.CompressionZip:
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: zipEntryName, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("failed to zip snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish zip archive: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", domain.ErrValidation, mode)
	}
}

// Decompress is the exact inverse of Compress for the same mode. Any decoding
// failure is reported as an integrity error.
func Decompress(data []byte, mode domain.Compression) (*domain.SnapshotPayload, error) {
	var raw []byte

	switch mode {
	case domain.CompressionNone:
		raw = data
	case domain.CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid gzip stream: %v", domain.ErrIntegrity, err)
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to gunzip snapshot: %v", domain.ErrIntegrity, err)
		}
	case domain.CompressionZip:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid zip archive: %v", domain.ErrIntegrity, err)
		}
		raw, err = readZipEntry(zr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", domain.ErrValidation, mode)
	}

	return decodePayload(raw)
}

func readZipEntry(zr *zip.Reader) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != zipEntryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open zip entry: %v", domain.ErrIntegrity, err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to unzip snapshot: %v", domain.ErrIntegrity, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: zip archive has no %s entry", domain.ErrIntegrity, zipEntryName)
}

// decodePayload keeps numbers as json.Number so record values survive a round
// trip without float conversion.
func decodePayload(raw []byte) (*domain.SnapshotPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload domain.SnapshotPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode snapshot: %v", domain.ErrIntegrity, err)
	}
	return &payload, nil
}
