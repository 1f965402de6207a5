// Package testutil provides testing utilities for the label index.
//
// This package is intended for use in tests and benchmarks only. It provides
// a deterministic, seedable random source, generators for random label
// updates, and an exhaustive in-memory model of an entity/label mapping that
// serves as ground truth for property tests.
//
// # Random Update Generation
//
//	rng := testutil.NewRNG(seed)
//	u := rng.Update(maxEntity, maxLabels)
//
// # Ground Truth
//
//	model := testutil.NewModel()
//	model.Apply(u)
//	want := model.EntitiesWithAll(3, 5)
package testutil
