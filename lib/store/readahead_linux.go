//go:build linux

package store

import "golang.org/x/sys/unix"

// mmapFlags pre-faults the whole map when read-ahead is enabled
func mmapFlags(readAhead bool) int {
	if readAhead {
		return unix.MAP_POPULATE
	}
	return 0
}
