// Package memstore provides an in-memory rangestore engine.
//
// It backs ephemeral indexes and most of the module's tests. State lives in a
// plain map guarded by a RWMutex; documents are cloned on every read and
// write so callers never alias engine state. Reopen models a process restart
// over the same backing state, which is how read-only startup paths are
// exercised without a disk engine.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hupe1980/labelscan/document"
	"github.com/hupe1980/labelscan/rangestore"
)

// Options configures a Store.
type Options struct {
	// ReadOnly rejects every mutation with rangestore.ErrReadOnly.
	ReadOnly bool
}

// Store is an in-memory rangestore.Store.
type Store struct {
	mu       sync.RWMutex
	docs     map[uint64]*document.Document
	validity rangestore.Validity
	probeErr error
	readOnly bool
	closed   bool
}

var _ rangestore.Store = (*Store)(nil)

// New returns an empty store. Its probe reports Missing until the first
// Flush seals it.
func New(optFns ...func(*Options)) *Store {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		docs:     make(map[uint64]*document.Document),
		validity: rangestore.Missing,
		readOnly: opts.ReadOnly,
	}
}

// WithReadOnly makes the store reject mutations.
func WithReadOnly(readOnly bool) func(*Options) {
	return func(o *Options) {
		o.ReadOnly = readOnly
	}
}

// Reopen returns a new handle over the same backing state, as after a process
// restart. The old handle must not be used afterwards.
func (s *Store) Reopen(optFns ...func(*Options)) *Store {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return &Store{
		docs:     s.docs,
		validity: s.validity,
		probeErr: s.probeErr,
		readOnly: opts.ReadOnly,
	}
}

// Corrupt poisons the store so the next probe reports Corrupted. Clear heals
// it. Intended for failure-path tests.
func (s *Store) Corrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validity = rangestore.Corrupted
}

// FailProbe makes Probe return err, modelling a store that cannot be opened
// at all. Intended for failure-path tests.
func (s *Store) FailProbe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeErr = err
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
	if s.probeErr != nil {
		return 0, s.probeErr
	}
	return s.validity, nil
}

// ReadRange implements rangestore.Store.
func (s *Store) ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rangestore.ErrClosed
	}
	d, ok := s.docs[rangeID]
	if !ok {
		return nil, rangestore.ErrNotFound
	}
	return d.Clone(), nil
}

// WriteBatch implements rangestore.Store.
func (s *Store) WriteBatch(ctx context.Context, docs map[uint64]*document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return rangestore.ErrClosed
	case s.readOnly:
		return rangestore.ErrReadOnly
	case len(docs) == 0:
		return nil
	}

	for rangeID, d := range docs {
		if d.RangeID() != rangeID {
			return fmt.Errorf("memstore: document for range %d keyed as %d", d.RangeID(), rangeID)
		}
	}
	for rangeID, d := range docs {
		s.docs[rangeID] = d.Clone()
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
	if s.closed {
		return nil, rangestore.ErrClosed
	}
	return newIterator(s.docs), nil
}

// Clear implements rangestore.Store. The validity seal is dropped with the
// data; the store probes as Missing until the next Flush.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return rangestore.ErrClosed
	case s.readOnly:
		return rangestore.ErrReadOnly
	}

	s.docs = make(map[uint64]*document.Document)
	s.validity = rangestore.Missing
	s.probeErr = nil
	return nil
}

// Flush implements rangestore.Store. Nothing is volatile here; flushing just
// seals the store as Valid.
func (s *Store) Flush(ctx context.Context, _ *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rangestore.ErrClosed
	}
	if s.readOnly {
		return nil
	}
	s.validity = rangestore.Valid
	return nil
}

// Files implements rangestore.Store. Memory has no backing files.
func (s *Store) Files(ctx context.Context) (rangestore.FileSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rangestore.ErrClosed
	}
	return rangestore.NewFileSet(nil, nil), nil
}

// Snapshot implements rangestore.Store. Stored documents are immutable once
// written, so a shallow map copy is a complete point-in-time view.
func (s *Store) Snapshot(ctx context.Context) (rangestore.View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, rangestore.ErrClosed
	}

	docs := make(map[uint64]*document.Document, len(s.docs))
	for rangeID, d := range s.docs {
		docs[rangeID] = d
	}
	return &view{docs: docs}, nil
}

// ReadOnly implements rangestore.Store.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close implements rangestore.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type view struct {
	mu     sync.Mutex
	docs   map[uint64]*document.Document
	closed bool
}

func (v *view) ReadRange(ctx context.Context, rangeID uint64) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, rangestore.ErrClosed
	}
	d, ok := v.docs[rangeID]
	if !ok {
		return nil, rangestore.ErrNotFound
	}
	return d.Clone(), nil
}

func (v *view) All(ctx context.Context) (rangestore.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, rangestore.ErrClosed
	}
	return newIterator(v.docs), nil
}

func (v *view) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

type iterator struct {
	ids    []uint64
	docs   map[uint64]*document.Document
	pos    int
	cur    *document.Document
	closed bool
}

func newIterator(docs map[uint64]*document.Document) *iterator {
	ids := make([]uint64, 0, len(docs))
	held := make(map[uint64]*document.Document, len(docs))
	for rangeID, d := range docs {
		ids = append(ids, rangeID)
		held[rangeID] = d
	}
	slices.Sort(ids)
	return &iterator{ids: ids, docs: held, pos: -1}
}

func (it *iterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.ids) {
		it.cur = nil
		return false
	}
	it.pos++
	it.cur = it.docs[it.ids[it.pos]].Clone()
	return true
}

func (it *iterator) RangeID() uint64 {
	if it.cur == nil {
		return 0
	}
	return it.cur.RangeID()
}

func (it *iterator) Document() *document.Document {
	return it.cur
}

func (it *iterator) Err() error {
	return nil
}

func (it *iterator) Close() error {
	it.closed = true
	it.cur = nil
	return nil
}
