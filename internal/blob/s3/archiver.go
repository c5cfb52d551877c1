package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/boxmeout/marketcore/internal/domain"
)

// Archiver implements domain.ReportArchiver by serializing each settlement
// report to JSON and uploading it under settlements/{marketID}.json. Reports
// are written exactly once per market; re-archival after an idempotent
// re-settlement overwrites with identical content.
type Archiver struct {
	client *Client
}

// NewArchiver creates an Archiver backed by the given client.
func NewArchiver(client *Client) *Archiver {
	return &Archiver{client: client}
}

// ArchiveSettlementReport uploads the report and returns its object key.
func (a *Archiver) ArchiveSettlementReport(ctx context.Context, report domain.SettlementReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement report %s: %w", report.MarketID, err)
	}

	key := fmt.Sprintf("settlements/%s.json", report.MarketID)

	uploader := manager.NewUploader(a.client.s3)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: upload settlement report %s: %w", report.MarketID, err)
	}
	return key, nil
}

// Compile-time interface check.
var _ domain.ReportArchiver = (*Archiver)(nil)
