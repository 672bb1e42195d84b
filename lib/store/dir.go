package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

// Names of the two backing files inside an environment directory.
const (
	DataFileName = "data.mdb"
	LockFileName = "lock.mdb"

	accessFileName = ".mkv-access"
)

// EnvDir locates the directory of an Environment. With SubDir set the
// environment owns Base/SubDir exclusively and Delete removes the whole
// directory. Without SubDir the environment shares Base and only its two
// backing files are removed.
type EnvDir struct {
	Base   string
	SubDir string
}

// Path returns the directory holding the backing files.
func (d EnvDir) Path() string {
	if d.SubDir == "" {
		return d.Base
	}
	return filepath.Join(d.Base, d.SubDir)
}

// DataFile returns the path of the data file.
func (d EnvDir) DataFile() string {
	return filepath.Join(d.Path(), DataFileName)
}

// LockFile returns the path of the lock file.
func (d EnvDir) LockFile() string {
	return filepath.Join(d.Path(), LockFileName)
}

// IsDedicated reports whether the directory belongs to this environment alone.
func (d EnvDir) IsDedicated() bool {
	return d.SubDir != ""
}

// Exists reports whether the data file exists.
func (d EnvDir) Exists() bool {
	info, err := os.Stat(d.DataFile())
	return err == nil && info.Mode().IsRegular()
}

// EnsureExists creates the directory if necessary and checks that it is
// readable and writable.
func (d EnvDir) EnsureExists() error {
	if d.Base == "" {
		return NewError(RetCConfig, "environment directory is not set")
	}
	if d.SubDir != "" && (filepath.IsAbs(d.SubDir) || filepath.Clean(d.SubDir) != filepath.Base(d.SubDir)) {
		return NewError(RetCConfig, fmt.Sprintf("sub directory %q must be a single path element", d.SubDir))
	}

	path := d.Path()
	if err := os.MkdirAll(path, 0o755); err != nil {
		return WrapError(RetCConfig, fmt.Sprintf("cannot create directory %s", path), err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return WrapError(RetCConfig, fmt.Sprintf("cannot stat directory %s", path), err)
	}
	if !info.IsDir() {
		return NewError(RetCConfig, fmt.Sprintf("%s is not a directory", path))
	}

	// check read and write access
	check := filepath.Join(path, accessFileName)
	if err := os.WriteFile(check, []byte("mkv"), 0o600); err != nil {
		return WrapError(RetCConfig, fmt.Sprintf("directory %s is not writable", path), err)
	}
	defer func() { _ = os.Remove(check) }()
	if _, err := os.ReadFile(check); err != nil {
		return WrapError(RetCConfig, fmt.Sprintf("directory %s is not readable", path), err)
	}
	if _, err := os.ReadDir(path); err != nil {
		return WrapError(RetCConfig, fmt.Sprintf("directory %s is not listable", path), err)
	}
	return nil
}

// Delete removes the backing files. A dedicated directory is removed
// entirely. Missing files are not an error.
func (d EnvDir) Delete() error {
	if d.IsDedicated() {
		if err := os.RemoveAll(d.Path()); err != nil {
			return WrapError(RetCStorage, fmt.Sprintf("cannot remove directory %s", d.Path()), err)
		}
		return nil
	}

	var result *multierror.Error
	for _, f := range []string{d.DataFile(), d.LockFile()} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return WrapError(RetCStorage, "cannot remove backing files", err)
	}
	return nil
}

// fileSizes returns the size of each existing backing file.
func (d EnvDir) fileSizes() map[string]int64 {
	sizes := make(map[string]int64, 2)
	for _, f := range []string{d.DataFile(), d.LockFile()} {
		if info, err := os.Stat(f); err == nil {
			sizes[filepath.Base(f)] = info.Size()
		}
	}
	return sizes
}
