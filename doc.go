// Package labelscan provides an embedded secondary label index for graph stores.
//
// The index answers two questions about a labeled graph: which entities carry
// a given label, and which labels a given entity carries. Entity ids are
// partitioned into fixed-width ranges of 32, and each stored range keeps one
// small bit vector per label, so both directions come down to a handful of
// bitmap probes.
//
// # Quick Start
//
// Open an index on a Pebble-backed engine and apply some updates:
//
//	ctx := context.Background()
//
//	engine := pebblestore.Open("./labelindex")
//	store, err := labelscan.Open(ctx, engine, stream)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	w, _ := store.NewWriter(ctx)
//	_ = w.Write(labelscan.LabelChanges(42, nil, []uint32{3, 5}))
//	if err := w.Close(); err != nil {
//	    log.Fatal(err)
//	}
//
// Query from a snapshot:
//
//	r, _ := store.NewReader(ctx)
//	defer r.Close()
//
//	for entity, err := range r.EntitiesWithAnyOf(ctx, 3, 5) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(entity)
//	}
//
// # Rebuild
//
// The stored index is a derived structure. When Open finds it missing or
// damaged it drops whatever is there and repopulates from the ChangeStream,
// which replays the current label state of the graph one entity at a time.
// The Monitor passed via WithMonitor observes this lifecycle.
//
// # Key Features
//
//   - Range-partitioned bitmap layout, 32 entities per range
//   - Pluggable storage engines: in-memory (memstore) and Pebble (pebblestore)
//   - Snapshot-isolated readers with ordered, deduplicated streaming results
//   - Union (any-of) and intersection (all-of) queries via k-way merge
//   - Single writer with atomic batched commits
//   - Automatic rebuild from a change stream, with monitor hooks
//   - Read-only mode for serving from immutable copies
//   - Verify for offline consistency checks against the source of truth
package labelscan
