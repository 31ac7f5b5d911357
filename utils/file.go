package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WriteFileAtomic calls write with a temporary file in the destination directory and renames it
// over path once write and close succeed. On any failure the temporary file is removed and
// whatever was at path is left untouched.
func WriteFileAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "cannot create temporary file for %q", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmpName))
		}
	}()

	if err := write(tmp); err != nil {
		return multierr.Combine(errors.Wrapf(err, "writing %q", path), tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Combine(errors.Wrapf(err, "syncing %q", path), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", path)
	}
	return errors.Wrapf(os.Rename(tmpName, path), "renaming into %q", path)
}

// UncheckedErrorFunc is used in places where we cannot do anything with an error except ignore
// it, such as deferred closes of read-only files.
func UncheckedErrorFunc(f func() error) {
	//nolint:errcheck
	f()
}
