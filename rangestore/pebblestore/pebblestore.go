// Package pebblestore provides the production rangestore engine on top of
// cockroachdb/pebble.
//
// Layout: a single-byte-prefixed keyspace. "m" holds a checksummed format
// marker, "r" + big-endian range id holds the encoded range document, so
// pebble's key order is the range order. Batches commit unsynced; durability
// is the job of Flush and Close, like the checkpointing of the primary store
// this index serves.
//
// The marker doubles as a validity seal. Clear removes it, Flush writes it,
// and Probe treats range data without a marker as corrupted. A rebuild that
// dies between its Clear and its final Flush therefore probes as corrupted
// on the next start and is redone, instead of passing off a half-built
// index as valid.
//
// A small LRU of decoded documents serves the read-modify-write pattern of
// incremental updates. Snapshots and iterators bypass it: they must see the
// engine's point-in-time state, not the live cache.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/labelscan/document"
	"github.com/hupe1980/labelscan/rangestore"
)

const (
	markerMagic   = "labelscan"
	markerVersion = 1

	// probeSample bounds how many documents the startup probe decodes.
	probeSample = 128

	defaultCacheSize = 1024
)

var (
	metaKey    = []byte{'m'}
	rangeLower = []byte{'r'}
	rangeUpper = []byte{'s'}
)

func rangeKey(rangeID uint64) []byte {
	key := make([]byte, 9)
	key[0] = 'r'
	binary.BigEndian.PutUint64(key[1:], rangeID)
	return key
}

func rangeIDFromKey(key []byte) (uint64, bool) {
	if len(key) != 9 || key[0] != 'r' {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}

func marker() []byte {
	payload := append([]byte(markerMagic), markerVersion)
	return binary.BigEndian.AppendUint64(payload, xxhash.Sum64(payload))
}

// Options configures a Store.
type Options struct {
	// ReadOnly opens the database without write access. No compactions run,
	// so the backing files are stable for the lifetime of the handle.
	ReadOnly bool

	// CacheSize is the number of decoded documents kept for live reads.
	// Zero means the default, negative disables the cache.
	CacheSize int

	// BytesPerSync is passed through to pebble.
	BytesPerSync int

	// Logger receives pebble's internal logging. Defaults to discard.
	Logger *slog.Logger
}

// Store is a pebble-backed rangestore.Store.
type Store struct {
	dir      string
	db       *pebble.DB
	cache    *lru.Cache[uint64, *document.Document]
	logger   *slog.Logger
	readOnly bool

	// openErr is set when pebble could not be opened; Probe surfaces it so
	// the index facade can report an unusable store instead of this package
	// guessing between "locked" and "corrupted".
	openErr error
	// missing marks a read-only open of a directory that does not exist.
	missing bool

	mu     sync.RWMutex
	closed bool
}

var _ rangestore.Store = (*Store)(nil)

// Open opens or creates the store in dir.
//
// A failure to open the underlying database does not fail Open: it is
// deferred to Probe, where the index facade turns it into a startup error
// with the store intact on disk. Only argument errors fail immediately.
func Open(dir string, optFns ...func(*Options)) (*Store, error) {
	opts := Options{CacheSize: defaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if dir == "" {
		return nil, errors.New("pebblestore: empty directory")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		dir:      dir,
		logger:   logger,
		readOnly: opts.ReadOnly,
	}

	if opts.CacheSize != 0 {
		size := opts.CacheSize
		if size < 0 {
			size = 0
		}
		if size > 0 {
			cache, err := lru.New[uint64, *document.Document](size)
			if err != nil {
				return nil, fmt.Errorf("pebblestore: cache: %w", err)
			}
			s.cache = cache
		}
	}

	if opts.ReadOnly {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			s.missing = true
			return s, nil
		}
	}

	po := &pebble.Options{
		ReadOnly:     opts.ReadOnly,
		BytesPerSync: opts.BytesPerSync,
		Logger:       pebbleLogger{logger},
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		s.openErr = fmt.Errorf("pebblestore: open %s: %w", dir, err)
		return s, nil
	}
	s.db = db
	return s, nil
}

// WithReadOnly opens the store without write access.
func WithReadOnly(readOnly bool) func(*Options) {
	return func(o *Options) {
		o.ReadOnly = readOnly
	}
}

// WithCacheSize sets the decoded-document cache size.
func WithCacheSize(size int) func(*Options) {
	return func(o *Options) {
		o.CacheSize = size
	}
}

// WithLogger routes pebble's internal logging to logger.
func WithLogger(logger *slog.Logger) func(*Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

func (s *Store) ready() error {
	if s.closed {
		return rangestore.ErrClosed
	}
	if s.openErr != nil {
		return s.openErr
	}
	if s.db == nil {
		return fmt.Errorf("pebblestore: %s not initialized", s.dir)
	}
	return nil
}

// Probe implements rangestore.Store.
func (s *Store) Probe(ctx context.Context) (rangestore.Validity, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, rangestore.ErrClosed
	}
	if s.missing {
		return rangestore.Missing, nil
	}
	if s.openErr != nil {
		return 0, s.openErr
	}

	value, closer, err := s.db.Get(metaKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		empty, ierr := s.noRangeKeys()
		if ierr != nil {
			return 0, ierr
		}
		if empty {
			return rangestore.Missing, nil
		}
		s.logger.Warn("range data present without format marker", "dir", s.dir)
		return rangestore.Corrupted, nil
	case err != nil:
		return 0, fmt.Errorf("pebblestore: probe: %w", err)
	}
	ok := bytes.Equal(value, marker())
	_ = closer.Close()
	if !ok {
		s.logger.Warn("format marker mismatch", "dir", s.dir)
		return rangestore.Corrupted, nil
	}

	if err := s.sampleDocuments(); err != nil {
		s.logger.Warn("document sample failed validity check", "dir", s.dir, "error", err)
		return rangestore.Corrupted, nil
	}
	return rangestore.Valid, nil
}

func (s *Store) noRangeKeys() (bool, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: rangeLower, UpperBound: rangeUpper})
	if err != nil {
		return false, fmt.Errorf("pebblestore: probe: %w", err)
	}
	defer it.Close()
	return !it.First(), it.Error()
}

func (s *Store) sampleDocuments() error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: rangeLower, UpperBound: rangeUpper})
	if err != nil {
		return err
	}
	defer it.Close()

	seen := 0
	for valid := it.First(); valid && seen < probeSample; valid = it.Next() {
		rangeID, ok := rangeIDFromKey(it.Key())
		if !ok {
			return fmt.Errorf("unexpected key %q", it.Key())
		}
		if _, err := document.Decode(rangeID, it.Value()); err != nil {
			return fmt.Errorf("range %d: %w", rangeID, err)
		}
		seen++
	}
	return it.Error()
}

// ReadRange implements rangestore.Store.
func (s *Store) ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if d, ok := s.cache.Get(rangeID); ok {
			return d.Clone(), nil
		}
	}

	d, err := readRange(s.db, rangeID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(rangeID, d.Clone())
	}
	return d, nil
}

func readRange(r pebble.Reader, rangeID uint64) (*document.Document, error) {
	value, closer, err := r.Get(rangeKey(rangeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, rangestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebblestore: read range %d: %w", rangeID, err)
	}
	defer closer.Close()

	d, err := document.Decode(rangeID, value)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: range %d: %w", rangeID, err)
	}
	return d, nil
}

// WriteBatch implements rangestore.Store.
func (s *Store) WriteBatch(ctx context.Context, docs map[uint64]*document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.readOnly {
		return rangestore.ErrReadOnly
	}
	if len(docs) == 0 {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	for rangeID, d := range docs {
		if d.RangeID() != rangeID {
			return fmt.Errorf("pebblestore: document for range %d keyed as %d", d.RangeID(), rangeID)
		}
		data, err := d.MarshalBinary()
		if err != nil {
			return fmt.Errorf("pebblestore: encode range %d: %w", rangeID, err)
		}
		if err := b.Set(rangeKey(rangeID), data, nil); err != nil {
			return fmt.Errorf("pebblestore: batch range %d: %w", rangeID, err)
		}
	}
	if err := s.db.Apply(b, pebble.NoSync); err != nil {
		return fmt.Errorf("pebblestore: commit batch: %w", err)
	}

	if s.cache != nil {
		for rangeID, d := range docs {
			s.cache.Add(rangeID, d.Clone())
		}
	}
	return nil
}

// All implements rangestore.Store.
func (s *Store) All(ctx context.Context) (rangestore.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	return newIterator(s.db)
}

// Clear implements rangestore.Store.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.readOnly {
		return rangestore.ErrReadOnly
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(rangeLower, rangeUpper, nil); err != nil {
		return fmt.Errorf("pebblestore: clear: %w", err)
	}
	// The seal goes too: until the next Flush the store probes as missing.
	if err := b.Delete(metaKey, nil); err != nil {
		return fmt.Errorf("pebblestore: clear marker: %w", err)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: clear: %w", err)
	}

	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

// Flush implements rangestore.Store.
func (s *Store) Flush(ctx context.Context, limit *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.readOnly {
		// Nothing volatile: the memtable is empty and the WAL is not ours.
		return nil
	}

	if limit != nil && limit.Burst() > 0 {
		pending := s.db.Metrics().MemTable.Size
		burst := uint64(limit.Burst())
		for pending > 0 {
			n := min(pending, burst)
			if err := limit.WaitN(ctx, int(n)); err != nil {
				return err
			}
			pending -= n
		}
	}

	if err := s.db.Set(metaKey, marker(), pebble.Sync); err != nil {
		return fmt.Errorf("pebblestore: seal: %w", err)
	}
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("pebblestore: flush: %w", err)
	}
	return nil
}

// Files implements rangestore.Store.
//
// On a writable store this checkpoints into a sibling directory and lists the
// checkpoint; closing the set removes it. On a read-only store the live
// directory is already stable and is listed directly.
func (s *Store) Files(ctx context.Context) (rangestore.FileSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	if s.readOnly {
		paths, err := listFiles(s.dir)
		if err != nil {
			return nil, fmt.Errorf("pebblestore: list files: %w", err)
		}
		return rangestore.NewFileSet(paths, nil), nil
	}

	dest := fmt.Sprintf("%s-checkpoint-%d", filepath.Clean(s.dir), time.Now().UnixNano())
	if err := s.db.Checkpoint(dest, pebble.WithFlushedWAL()); err != nil {
		return nil, fmt.Errorf("pebblestore: checkpoint: %w", err)
	}
	paths, err := listFiles(dest)
	if err != nil {
		_ = os.RemoveAll(dest)
		return nil, fmt.Errorf("pebblestore: list checkpoint: %w", err)
	}
	return rangestore.NewFileSet(paths, func() error {
		return os.RemoveAll(dest)
	}), nil
}

func listFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// Snapshot implements rangestore.Store.
func (s *Store) Snapshot(ctx context.Context) (rangestore.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	return &view{snap: s.db.NewSnapshot()}, nil
}

// Metrics returns pebble's internal metrics for observability exporters, or
// nil when the database is not open.
func (s *Store) Metrics() *pebble.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil
	}
	return s.db.Metrics()
}

// ReadOnly implements rangestore.Store.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close implements rangestore.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cache != nil {
		s.cache.Purge()
	}
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebblestore: close: %w", err)
	}
	return nil
}

type view struct {
	snap *pebble.Snapshot

	mu     sync.Mutex
	closed bool
}

func (v *view) ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, rangestore.ErrClosed
	}
	v.mu.Unlock()

	return readRange(v.snap, rangeID)
}

func (v *view) All(ctx context.Context) (rangestore.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, rangestore.ErrClosed
	}
	v.mu.Unlock()

	return newIterator(v.snap)
}

func (v *view) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.snap.Close()
}

type iterator struct {
	it      *pebble.Iterator
	cur     *document.Document
	curID   uint64
	err     error
	started bool
}

func newIterator(r pebble.Reader) (*iterator, error) {
	it, err := r.NewIter(&pebble.IterOptions{LowerBound: rangeLower, UpperBound: rangeUpper})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: iterator: %w", err)
	}
	return &iterator{it: it}, nil
}

func (it *iterator) Next() bool {
	if it.err != nil || it.it == nil {
		return false
	}

	var valid bool
	if !it.started {
		valid = it.it.First()
		it.started = true
	} else {
		valid = it.it.Next()
	}
	if !valid {
		it.cur = nil
		it.err = it.it.Error()
		return false
	}

	rangeID, ok := rangeIDFromKey(it.it.Key())
	if !ok {
		it.cur = nil
		it.err = fmt.Errorf("pebblestore: unexpected key %q", it.it.Key())
		return false
	}
	d, err := document.Decode(rangeID, it.it.Value())
	if err != nil {
		it.cur = nil
		it.err = fmt.Errorf("pebblestore: range %d: %w", rangeID, err)
		return false
	}
	it.cur = d
	it.curID = rangeID
	return true
}

func (it *iterator) RangeID() uint64 {
	return it.curID
}

func (it *iterator) Document() *document.Document {
	return it.cur
}

func (it *iterator) Err() error {
	return it.err
}

func (it *iterator) Close() error {
	if it.it == nil {
		return nil
	}
	err := it.it.Close()
	it.it = nil
	it.cur = nil
	return err
}

// pebbleLogger adapts slog to pebble's logger.
type pebbleLogger struct {
	l *slog.Logger
}

func (pl pebbleLogger) Infof(format string, args ...any) {
	pl.l.Info(fmt.Sprintf(format, args...), "source", "pebble")
}

func (pl pebbleLogger) Errorf(format string, args ...any) {
	pl.l.Error(fmt.Sprintf(format, args...), "source", "pebble")
}

func (pl pebbleLogger) Fatalf(format string, args ...any) {
	pl.l.Error(fmt.Sprintf(format, args...), "source", "pebble")
	panic(fmt.Sprintf(format, args...))
}
