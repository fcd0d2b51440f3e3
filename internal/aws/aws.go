// Package aws archives run artifacts to Amazon S3.
package aws

import "context"

// Client defines the AWS operations pgmirror needs.
type Client interface {
	UploadToS3(ctx context.Context, bucket, key string, data []byte) error
}
