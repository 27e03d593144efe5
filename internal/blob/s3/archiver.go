package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.SettlementArchiver, storing one JSON report per
// market at settlement/<market-id>.json.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// SettlementPath is the object key of marketID's report.
func SettlementPath(marketID string) string {
	return "settlement/" + marketID + ".json"
}

// ArchiveSettlement uploads report and returns its object key.
func (a *Archiver) ArchiveSettlement(ctx context.Context, report domain.SettlementReport) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return "", fmt.Errorf("s3blob: encode settlement %s: %w", report.MarketID, err)
	}

	path := SettlementPath(report.MarketID)
	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive settlement: %w", err)
	}
	return path, nil
}

// Archived reports whether marketID's report exists.
func (a *Archiver) Archived(ctx context.Context, marketID string) (bool, error) {
	return a.reader.Exists(ctx, SettlementPath(marketID))
}

// Settlement fetches and decodes marketID's report.
func (a *Archiver) Settlement(ctx context.Context, marketID string) (domain.SettlementReport, error) {
	var report domain.SettlementReport
	body, err := a.reader.Get(ctx, SettlementPath(marketID))
	if err != nil {
		return report, err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return report, fmt.Errorf("s3blob: decode settlement %s: %w", marketID, err)
	}
	return report, nil
}

var _ domain.SettlementArchiver = (*Archiver)(nil)
