// Package cmd implements the command-line interface for mkv. It opens an
// environment directory and exposes the library operations as commands,
// mainly for inspection, maintenance and benchmarking.
//
// The package is organized into several subpackages:
//
//   - env: Commands for environments (info, metrics, delete)
//   - table: Commands for typed tables (put, get, del, scan, count)
//   - pool: Commands for intern pools (intern, get, del, size, clear, info, bench)
//   - util: Shared utilities for flags, configuration and serdes (internal use)
//
// Every flag can also be set through an environment variable prefixed with
// MKV_ (e.g. MKV_DIR, MKV_NO_SYNC) or a .env file in the working directory.
//
// See mkv -help for a list of all commands.
package cmd
