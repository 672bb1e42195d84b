// Package serde provides pluggable key and value serialization for mkv
// tables and intern pools.
//
// The package focuses on:
//   - A single generic interface (Serde) that all implementations satisfy
//   - Order preserving encodings for keys, so byte-wise range scans follow
//     the natural order of the key type
//   - Appending to caller supplied buffers to avoid per-operation allocations
//
// Key Components:
//
//   - Serde[T]: Core interface. Serialize appends the encoding of a value to
//     dst, Deserialize decodes a value and must not retain the input, which
//     may point into the memory map of the store.
//
//   - String, Bytes: Raw encodings, the byte-wise order is the natural order.
//
//   - Uint32, Uint64, Int32, Int64: Fixed width big-endian encodings. The
//     signed variants flip the sign bit so negative numbers sort first.
//
//   - JSON, Gob: Encodings of arbitrary Go values with the standard library
//     codecs. Not order preserving.
//
//   - Msgpack, CBOR: Compact binary encodings of arbitrary Go values. Both
//     are configured for deterministic output (sorted map keys, canonical
//     CBOR), so equal values always produce equal bytes. This matters for
//     intern pools, which deduplicate by serialized bytes.
//
// Performance Characteristics:
//
//   - The fixed width and raw encodings do not allocate when dst has room.
//   - Msgpack and CBOR are the best choice for structured values.
//   - JSON is human readable and useful for debugging.
//   - Gob carries type information in every value and produces by far the
//     largest payloads. It is only provided for compatibility.
//
// Thread Safety:
//
//	All implementations are stateless and safe for concurrent use.
package serde
