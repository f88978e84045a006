package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver. Each call exports the records
// created in [before-window, before) as one JSONL object. Records are not
// deleted from the audit store; the export is a copy.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditSink
	window time.Duration
}

// NewArchiver creates an ArchiveImpl. window is normally the archive run
// interval so consecutive runs tile without overlap. reader may be nil, in
// which case existing objects are overwritten.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditSink, window time.Duration) *ArchiveImpl {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &ArchiveImpl{writer: writer, reader: reader, audit: audit, window: window}
}

// ArchiveRollovers exports rollover records to archive/rollovers/.
func (a *ArchiveImpl) ArchiveRollovers(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "rollovers", before, func(opts domain.ListOpts) ([]domain.StoredRollover, error) {
		return a.audit.ListRollovers(ctx, opts)
	})
}

// ArchiveArbitrages exports arbitrage records to archive/arbitrages/.
func (a *ArchiveImpl) ArchiveArbitrages(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "arbitrages", before, func(opts domain.ListOpts) ([]domain.StoredArbitrage, error) {
		return a.audit.ListArbitrages(ctx, opts)
	})
}

// ArchiveAudit exports the generic audit log to archive/audit/.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "audit", before, func(opts domain.ListOpts) ([]domain.AuditEntry, error) {
		return a.audit.List(ctx, opts)
	})
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, list func(domain.ListOpts) ([]T, error)) (int64, error) {
	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return 0, nil
		}
	}

	since := before.Add(-a.window)
	records, err := list(domain.ListOpts{Since: &since, Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"since":  since.Format(time.RFC3339),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by the UTC day of the cutoff:
//
//	archive/rollovers/2026-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
