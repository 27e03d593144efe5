package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementArchiver keeps the final settlement report of a closed market
// in cold storage.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, report SettlementReport) (string, error)
	Archived(ctx context.Context, marketID string) (bool, error)
	Settlement(ctx context.Context, marketID string) (SettlementReport, error)
}
