package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/labelscan/rangestore"
)

const defaultConcurrency = 4

// FileSource hands out a stable set of index backing files. It is satisfied
// by *labelscan.Store.
type FileSource interface {
	SnapshotFiles(ctx context.Context) (rangestore.FileSet, error)
}

// Target stores one backup object. Implementations must tolerate size -1 for
// streams of unknown length, which is what compressed uploads produce.
type Target interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, name string, r io.Reader, size int64) error

// Put calls f.
func (f TargetFunc) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	return f(ctx, name, r, size)
}

// Compression selects the codec applied to every file before upload.
type Compression uint8

const (
	// None uploads files as they are.
	None Compression = iota
	// S2 trades ratio for speed; the default for large LSM files.
	S2
	// Zstd compresses harder at moderate speed.
	Zstd
	// LZ4 is the fastest of the three.
	LZ4
)

// suffix is appended to the object name so a restore can pick the codec.
func (c Compression) suffix() string {
	switch c {
	case S2:
		return ".s2"
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Options configures a backup run.
type Options struct {
	// Prefix is prepended to every object name, path-style. Empty by default.
	Prefix string

	// Concurrency bounds the number of files uploaded at once. Defaults to 4.
	Concurrency int

	// Compression is the codec applied to every file. Defaults to None.
	Compression Compression
}

// WithPrefix prepends a path prefix to every uploaded object name.
func WithPrefix(prefix string) func(*Options) {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithConcurrency bounds the number of concurrent uploads. Values below 1
// keep the default.
func WithConcurrency(n int) func(*Options) {
	return func(o *Options) {
		if n >= 1 {
			o.Concurrency = n
		}
	}
}

// WithCompression selects the upload codec.
func WithCompression(c Compression) func(*Options) {
	return func(o *Options) {
		o.Compression = c
	}
}

// Summary describes a completed backup run.
type Summary struct {
	// Files is the number of objects uploaded.
	Files int

	// Bytes is the total uncompressed size read from the snapshot.
	Bytes int64

	// Duration is the wall time of the whole run.
	Duration time.Duration
}

// Run uploads every file of the source's current snapshot to the target. The
// snapshot is pinned for the duration of the run and released when Run
// returns, success or not. A failed upload cancels the remaining ones and is
// returned; the target may then hold a partial backup under the prefix.
func Run(ctx context.Context, source FileSource, target Target, optFns ...func(*Options)) (*Summary, error) {
	opts := Options{Concurrency: defaultConcurrency}
	for _, fn := range optFns {
		fn(&opts)
	}

	start := time.Now()

	files, err := source.SnapshotFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot files: %w", err)
	}
	defer files.Close()

	paths := files.Paths()

	var bytes atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, p := range paths {
		g.Go(func() error {
			n, err := uploadFile(ctx, target, p, opts)
			if err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(p), err)
			}
			bytes.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Summary{
		Files:    len(paths),
		Bytes:    bytes.Load(),
		Duration: time.Since(start),
	}, nil
}

// uploadFile streams one file to the target and reports its uncompressed
// size.
func uploadFile(ctx context.Context, target Target, filePath string, opts Options) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	name := path.Join(opts.Prefix, filepath.Base(filePath)) + opts.Compression.suffix()

	if opts.Compression == None {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		if err := target.Put(ctx, name, f, info.Size()); err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	pr, pw := io.Pipe()

	var compressed int64
	go func() {
		cw, err := newCompressor(opts.Compression, pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		n, err := io.Copy(cw, f)
		if cerr := cw.Close(); err == nil {
			err = cerr
		}
		compressed = n
		pw.CloseWithError(err)
	}()

	// Compressed length is unknown up front; targets must stream.
	if err := target.Put(ctx, name, pr, -1); err != nil {
		pr.CloseWithError(err)
		return 0, err
	}

	return compressed, nil
}

func newCompressor(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case S2:
		return s2.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", c)
	}
}
