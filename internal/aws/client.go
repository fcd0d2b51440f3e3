package aws

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Options selects the credentials and endpoint used for archiving.
type Options struct {
	Region  string // empty uses AWS_REGION or the shared config
	Profile string
	// Endpoint points at an S3-compatible store such as MinIO. Requests use
	// path-style addressing when set.
	Endpoint string
}

// RealClient implements Client using the AWS SDK v2.
type RealClient struct {
	s3Client *s3.Client
	sse      bool
}

// NewRealClient loads the default credential chain with opts applied.
func NewRealClient(ctx context.Context, opts Options) (*RealClient, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	// S3-compatible stores often reject SSE headers.
	return &RealClient{s3Client: client, sse: opts.Endpoint == ""}, nil
}

// UploadToS3 stores data as a JSON object.
func (c *RealClient) UploadToS3(ctx context.Context, bucket, key string, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if c.sse {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := c.s3Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
