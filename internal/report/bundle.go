package report

import (
	"archive/zip"
	"bytes"
	"fmt"

	fileutil "matchvision/internal/file"
)

// ExportBundle writes the text and JSON renderings of the report into a zip
// at destPath. The zip is assembled in memory and written atomically so a
// concurrent download never sees a partial archive.
func ExportBundle(destPath string, r Report) error {
	jsonBody, err := r.JSON()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := []struct {
		name string
		body []byte
	}{
		{"report.txt", []byte(r.Text())},
		{"report.json", jsonBody},
	}
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", e.name, err)
		}
		if _, err := w.Write(e.body); err != nil {
			return fmt.Errorf("write zip entry %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return fileutil.CopyAtomic(destPath, &buf) //nolint:wrapcheck
}
