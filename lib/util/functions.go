package util

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashBytes returns the 32-bit FNV-1a hash of b mixed with seed.
// The result is used as the hash prefix of content addressed keys, so it
// must be stable across processes: never seed it with random data when the
// hashes are persisted.
func HashBytes(b []byte, seed uint32) int32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	hash := uint32(offset32) ^ seed
	for i := 0; i < len(b); i++ {
		hash ^= uint32(b[i])
		hash *= prime32
	}
	return int32(hash)
}
