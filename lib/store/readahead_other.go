//go:build !linux

package store

// mmapFlags is a no-op outside of linux, read-ahead is left to the OS
func mmapFlags(bool) int {
	return 0
}
