// Package s3 uploads label index backups to Amazon S3.
package s3

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/labelscan/backup"
)

// Options configures the uploader.
type Options struct {
	// PartSize is the multipart part size in bytes. Defaults to 8MB, above
	// the SDK minimum, for better throughput on large SST files.
	PartSize int64

	// Concurrency is the number of concurrent part uploads per object.
	// Defaults to 5, the SDK default.
	Concurrency int
}

// WithPartSize overrides the multipart part size.
func WithPartSize(size int64) func(*Options) {
	return func(o *Options) {
		o.PartSize = size
	}
}

// WithConcurrency overrides the number of concurrent part uploads.
func WithConcurrency(n int) func(*Options) {
	return func(o *Options) {
		o.Concurrency = n
	}
}

// Target uploads backup objects to one S3 bucket using multipart streaming
// uploads, so compressed streams of unknown length need no buffering.
type Target struct {
	uploader *manager.Uploader
	bucket   string
}

var _ backup.Target = (*Target)(nil)

// New creates a Target writing to the given bucket.
func New(client manager.UploadAPIClient, bucket string, optFns ...func(*Options)) *Target {
	opts := Options{
		PartSize:    8 * 1024 * 1024,
		Concurrency: 5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Target{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = opts.PartSize
			u.Concurrency = opts.Concurrency
		}),
		bucket: bucket,
	}
}

// Put implements backup.Target. The size hint is ignored; the uploader
// streams the body in parts either way.
func (t *Target) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(name),
		Body:   r,
	})

	return err
}
