// Package testing provides standardised tests and benchmarks for
// implementations of the serde.Serde interface.
//
// The package contains:
//   - testing: A conformance suite checking round trips, appending to the
//     destination buffer, deterministic output and that decoded values do not
//     reference the input
//   - order: A check that the byte-wise order of encodings follows the order
//     of the values, required for serdes used as table keys
//   - benchmark: Throughput of Serialize and Deserialize
//
// Example usage:
//
//	samples := []int64{-5, 0, 42}
//
//	// Running the standard test suite
//	sdtesting.RunSerdeTests(t, "Int64", serde.Int64{}, samples)
//
//	// Verifying order preservation (samples must be sorted)
//	sdtesting.RunOrderTests(t, "Int64", serde.Int64{}, samples)
//
//	// Running performance benchmarks
//	sdtesting.RunSerdeBenchmarks(b, "Int64", serde.Int64{}, int64(42))
package testing
