// Package backup copies a consistent snapshot of the label index to an
// object store.
//
// Run takes the store's snapshot file set and streams every file to a Target
// with bounded concurrency and optional compression. Targets for Amazon S3
// and MinIO live in the backup/s3 and backup/minio sub-packages; any object
// store reachable through a single Put call works.
//
//	target := s3backup.New(client, "my-bucket")
//	summary, err := backup.Run(ctx, store, target,
//		backup.WithPrefix("labelscan/2026-08-30"),
//		backup.WithCompression(backup.Zstd),
//	)
package backup
