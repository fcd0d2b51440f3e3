package aws

import (
	"context"
	"fmt"
	"path"
)

// ReportUploader archives run reports under a bucket prefix.
type ReportUploader struct {
	client Client
	bucket string
	prefix string
}

// NewReportUploader creates a new report uploader.
func NewReportUploader(client Client, bucket, prefix string) *ReportUploader {
	return &ReportUploader{client: client, bucket: bucket, prefix: prefix}
}

// Upload stores one report as <prefix>/<runID>.json and returns its URI.
func (u *ReportUploader) Upload(ctx context.Context, runID string, data []byte) (string, error) {
	key := path.Join(u.prefix, runID+".json")
	if err := u.client.UploadToS3(ctx, u.bucket, key, data); err != nil {
		return "", fmt.Errorf("archiving report %s: %w", runID, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
