package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// snapshotPrefix is where archived run outputs live in the bucket.
const snapshotPrefix = "archive/portfolios/"

// SnapshotArchive implements domain.SnapshotArchiver: it keeps one
// object per pipeline run under a timestamped key, and serves the seed
// file on demand.
type SnapshotArchive struct {
	writer *Writer
	reader *Reader
}

// NewSnapshotArchive creates a SnapshotArchive over the given client.
func NewSnapshotArchive(c *Client) *SnapshotArchive {
	return &SnapshotArchive{
		writer: NewWriter(c),
		reader: NewReader(c),
	}
}

// ArchiveSnapshot uploads one run's portfolio snapshot and returns the
// object key.
func (a *SnapshotArchive) ArchiveSnapshot(ctx context.Context, runID string, data []byte) (string, error) {
	key := fmt.Sprintf("%s%s_%s.json",
		snapshotPrefix,
		time.Now().UTC().Format("20060102T150405Z"),
		runID,
	)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot %s: %w", runID, err)
	}
	return key, nil
}

// FetchSeed downloads the seed object stored at key.
func (a *SnapshotArchive) FetchSeed(ctx context.Context, key string) ([]byte, error) {
	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("s3blob: fetch seed %s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read seed %s: %w", key, err)
	}
	return data, nil
}

// ListArchives returns metadata for every archived snapshot.
func (a *SnapshotArchive) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, snapshotPrefix)
}

// Compile-time interface check.
var _ domain.SnapshotArchiver = (*SnapshotArchive)(nil)
