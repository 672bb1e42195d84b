// Package table provides typed tables on top of the raw tables of an mkv
// Environment.
//
// A Table[K, V] pairs a raw store.Table with a key and a value serde. All
// range and min/max operations follow the byte-wise order of the serialized
// keys, so key serdes must be order preserving (serde.Int64, serde.String...)
// whenever the natural order of K matters.
//
// Get, Put, Delete and DeleteRange run on the Writer of the Environment and
// therefore observe every write applied before them, committed or not. Scan,
// ForEach, MinKey, MaxKey and Count run on their own read transaction and
// only observe committed state.
package table
