package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/martijn/vaultkeep/internal/core/domain"
)

// Blob layout: magic | version (1 byte) | header length (uint32 BE) | header JSON | body.
// The checksum stored in the registry covers the whole blob.
var magic = []byte("VKAR")

const (
	envelopeVersion = 1
	prefixLen       = 4 + 1 + 4
	maxHeaderLen    = 16 << 20
)

// Header is the metadata block at the front of every artifact.
type Header struct {
	Compression domain.Compression      `json:"compression"`
	Snapshot    domain.SnapshotMetadata `json:"snapshot"`
	BodySize    int64                   `json:"bodySize"`
	Records     int                     `json:"records"`
	Files       int                     `json:"files"`
}

// Seal compresses payload with mode and prefixes the metadata block.
func Seal(payload *domain.SnapshotPayload, mode domain.Compression) ([]byte, error) {
	body, err := Compress(payload, mode)
	if err != nil {
		return nil, err
	}

	header, err := json.Marshal(Header{
		Compression: mode,
		Snapshot:    payload.Metadata,
		BodySize:    int64(len(body)),
		Records:     payload.RecordCount(),
		Files:       len(payload.Files),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize artifact header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(prefixLen + len(header) + len(body))
	buf.Write(magic)
	buf.WriteByte(envelopeVersion)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(header)))
	buf.Write(n[:])
	buf.Write(header)
	buf.Write(body)

	return buf.Bytes(), nil
}

// ReadHeader parses the metadata block and returns it with the compressed body.
func ReadHeader(blob []byte) (*Header, []byte, error) {
	if len(blob) < prefixLen || !bytes.Equal(blob[:4], magic) {
		return nil, nil, fmt.Errorf("%w: not a backup artifact", domain.ErrIntegrity)
	}
	if blob[4] != envelopeVersion {
		return nil, nil, fmt.Errorf("%w: unsupported artifact version %d", domain.ErrIntegrity, blob[4])
	}

	headerLen := int(binary.BigEndian.Uint32(blob[5:prefixLen]))
	if headerLen > maxHeaderLen || prefixLen+headerLen > len(blob) {
		return nil, nil, fmt.Errorf("%w: truncated artifact header", domain.ErrIntegrity)
	}

	var header Header
	if err := json.Unmarshal(blob[prefixLen:prefixLen+headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed artifact header: %v", domain.ErrIntegrity, err)
	}

	body := blob[prefixLen+headerLen:]
	if int64(len(body)) != header.BodySize {
		return nil, nil, fmt.Errorf("%w: artifact body is %d bytes, header says %d",
			domain.ErrIntegrity, len(body), header.BodySize)
	}

	return &header, body, nil
}

// Open reverses Seal.
func Open(blob []byte) (*Header, *domain.SnapshotPayload, error) {
	header, body, err := ReadHeader(blob)
	if err != nil {
		return nil, nil, err
	}
	payload, err := Decompress(body, header.Compression)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}
