// Package util provides small building blocks shared by the storage packages.
//
// The package contains:
//   - mpsc: a bounded lock-free Multi-Producer Single-Consumer queue, used as
//     the write queue of the store writer
//   - functions: content hash function used to derive intern keys
//   - statistics: a SizeHistogram and summary statistics for reporting on
//     stored value sizes and collision bucket depths without full scans
package util
