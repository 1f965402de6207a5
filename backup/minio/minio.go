// Package minio uploads label index backups to a MinIO (or any S3
// compatible) object store.
package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/labelscan/backup"
)

// Target uploads backup objects to one MinIO bucket.
type Target struct {
	client *minio.Client
	bucket string
}

var _ backup.Target = (*Target)(nil)

// New creates a Target writing to the given bucket through client.
func New(client *minio.Client, bucket string) *Target {
	return &Target{client: client, bucket: bucket}
}

// Put implements backup.Target. Size -1 switches the client into streaming
// multipart mode for bodies of unknown length.
func (t *Target) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := t.client.PutObject(ctx, t.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})

	return err
}
