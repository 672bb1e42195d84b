package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// --------------------------------------------------------------------------
// Environment flags
// --------------------------------------------------------------------------

// Flag is an environment level option of the backing store.
type Flag uint32

const (
	// FlagNoSync skips fsync after every commit. Faster, but a crash may lose
	// the last commits.
	FlagNoSync Flag = 1 << iota
	// FlagNoGrowSync skips the truncate+fsync when the data file grows.
	FlagNoGrowSync
	// FlagNoFreelistSync does not persist the freelist, it is rebuilt on open.
	FlagNoFreelistSync
	// FlagNoReadAhead disables read-ahead of the memory map.
	FlagNoReadAhead
)

// Flags is a set of Flag values.
type Flags uint32

// With returns a copy of fs with f set.
func (fs Flags) With(f Flag) Flags {
	return fs | Flags(f)
}

// Has reports whether f is set.
func (fs Flags) Has(f Flag) bool {
	return fs&Flags(f) != 0
}

func (fs Flags) String() string {
	var names []string
	for _, f := range []struct {
		flag Flag
		name string
	}{
		{FlagNoSync, "NoSync"},
		{FlagNoGrowSync, "NoGrowSync"},
		{FlagNoFreelistSync, "NoFreelistSync"},
		{FlagNoReadAhead, "NoReadAhead"},
	} {
		if fs.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// --------------------------------------------------------------------------
// Auto commit policy
// --------------------------------------------------------------------------

// AutoCommit decides when the writer commits the current batch. Both
// triggers are independent, a zero value disables the trigger.
type AutoCommit struct {
	// MaxItems commits after this many applied operations since the last commit
	MaxItems int
	// MaxElapsed commits once this much time has passed since the last commit
	MaxElapsed time.Duration
}

// ShouldCommit reports whether a batch of uncommitted operations started at
// lastCommit must be committed now.
func (p AutoCommit) ShouldCommit(uncommitted int, lastCommit, now time.Time) bool {
	if uncommitted == 0 {
		return false
	}
	if p.MaxItems > 0 && uncommitted >= p.MaxItems {
		return true
	}
	if p.MaxElapsed > 0 && now.Sub(lastCommit) >= p.MaxElapsed {
		return true
	}
	return false
}

// Disabled reports whether neither trigger is set. The writer then only
// commits on Sync, WriteCommit and Stop.
func (p AutoCommit) Disabled() bool {
	return p.MaxItems <= 0 && p.MaxElapsed <= 0
}

func (p AutoCommit) String() string {
	items, elapsed := "off", "off"
	if p.MaxItems > 0 {
		items = strconv.Itoa(p.MaxItems)
	}
	if p.MaxElapsed > 0 {
		elapsed = p.MaxElapsed.String()
	}
	return fmt.Sprintf("max items %s, max elapsed %s", items, elapsed)
}

// --------------------------------------------------------------------------
// Environment configuration
// --------------------------------------------------------------------------

// Default configuration values
const (
	DefaultMaxMapSize    int64 = 1 << 30 // 1 GiB
	MinMaxMapSize        int64 = 1 << 20 // 1 MiB
	DefaultMaxTables           = 32
	DefaultMaxReaders          = 126
	DefaultQueueCapacity       = 1000
	DefaultOpenTimeout         = time.Second
)

// Config holds all parameters of an Environment.
type Config struct {
	// MaxMapSize is the upper bound of the data file. A commit that would grow
	// the file beyond it fails with RetCCommit and its batch is rolled back.
	MaxMapSize int64
	// MaxTables is the maximum number of tables (sub-stores)
	MaxTables int
	// MaxReaders is the maximum number of concurrently open read transactions
	MaxReaders int
	// Flags are environment level options
	Flags Flags
	// ReadAhead pre-faults the memory map on open
	ReadAhead bool
	// ReaderBlockedByWriter makes read transactions wait while a write
	// transaction is open, that is from the first write of a batch until its
	// commit. A read started inside a write operation never returns. A goroutine
	// that writes and then reads waits for the next commit, so this option
	// requires a time based AutoCommit (MaxElapsed > 0) or an explicit Sync
	// before the read.
	ReaderBlockedByWriter bool
	// QueueCapacity bounds the number of queued write operations
	QueueCapacity int
	// AutoCommit is the initial commit policy of the writer
	AutoCommit AutoCommit
	// OpenTimeout is how long to wait for the file lock of the data file
	OpenTimeout time.Duration
	// ErrorHandler receives every unexpected lower-level failure (nil = log it)
	ErrorHandler ErrorHandler
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMapSize:    DefaultMaxMapSize,
		MaxTables:     DefaultMaxTables,
		MaxReaders:    DefaultMaxReaders,
		QueueCapacity: DefaultQueueCapacity,
		AutoCommit: AutoCommit{
			MaxItems:   1000,
			MaxElapsed: time.Second,
		},
		OpenTimeout: DefaultOpenTimeout,
	}
}

// ParseSize parses a human readable IEC byte quantity like "10G", "512MiB" or
// "1024" into bytes.
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, WrapError(RetCConfig, fmt.Sprintf("invalid size %q", s), err)
	}
	return n, nil
}

// Validate checks the configuration for invalid values and conflicting options.
func (c *Config) Validate() error {
	switch {
	case c.MaxMapSize < MinMaxMapSize:
		return NewError(RetCConfig, "max map size must be at least 1MiB")
	case int64(int(c.MaxMapSize)) != c.MaxMapSize:
		return NewError(RetCConfig, "max map size exceeds the address space")
	case c.MaxTables < 1:
		return NewError(RetCConfig, "max tables must be at least 1")
	case c.MaxReaders < 1:
		return NewError(RetCConfig, "max readers must be at least 1")
	case c.QueueCapacity < 1:
		return NewError(RetCConfig, "queue capacity must be at least 1")
	case c.AutoCommit.MaxItems < 0 || c.AutoCommit.MaxElapsed < 0:
		return NewError(RetCConfig, "auto commit thresholds must not be negative")
	case c.OpenTimeout < 0:
		return NewError(RetCConfig, "open timeout must not be negative")
	case c.ReaderBlockedByWriter && c.AutoCommit.MaxElapsed <= 0:
		return NewError(RetCConfig, "reader-blocked-by-writer requires a time based auto commit")
	case c.ReadAhead && c.Flags.Has(FlagNoReadAhead):
		return NewError(RetCConfig, "read-ahead is enabled but the NoReadAhead flag is set")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Environment")
	addField("Max Map Size", units.BytesSize(float64(c.MaxMapSize)))
	addField("Max Tables", strconv.Itoa(c.MaxTables))
	addField("Max Readers", strconv.Itoa(c.MaxReaders))
	addField("Flags", c.Flags.String())
	addField("Read Ahead", strconv.FormatBool(c.ReadAhead))
	addField("Reader Blocked By Writer", strconv.FormatBool(c.ReaderBlockedByWriter))
	addField("Open Timeout", c.OpenTimeout.String())

	addSection("Writer")
	addField("Queue Capacity", strconv.Itoa(c.QueueCapacity))
	addField("Auto Commit", c.AutoCommit.String())

	return sb.String()
}
