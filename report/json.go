package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
)

// JSONRenderer writes the report as a JSON document.
type JSONRenderer struct {
	Indent bool
}

func (j JSONRenderer) Render(w io.Writer, r *SuiteReport) error {
	enc := json.NewEncoder(w)
	if j.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(r)
}

// WriteFile stores r as report.json under dir and returns the file path.
func WriteFile(dir string, r *SuiteReport) (string, error) {
	if err := os.MkdirAll(dir, common.FileMode0755); err != nil {
		return "", errors.Wrapf(err, "failed to create report directory %s", dir)
	}
	path := filepath.Join(dir, common.ReportFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, common.FileMode0644)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	if err := (JSONRenderer{Indent: true}).Render(f, r); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}
