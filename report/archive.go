package report

import (
	"os"
	"path/filepath"

	"github.com/mholt/archiver"
	"github.com/pkg/errors"
)

// Archive bundles srcDir into a .tar.gz at dest, replacing any existing file.
func Archive(srcDir, dest string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return errors.Wrapf(err, "cannot archive %s", srcDir)
	}
	if !info.IsDir() {
		return errors.Errorf("cannot archive %s: not a directory", srcDir)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", dest)
	}

	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	if err := tgz.Archive([]string{srcDir}, dest); err != nil {
		return errors.Wrapf(err, "failed to archive %s to %s", srcDir, dest)
	}
	return nil
}
