package codegen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/sakif/promptforge/internal/model"
)

// ArchiveName is the download name of the zip archive.
const ArchiveName = "generated_code.zip"

// WriteZip writes files into a deflate-compressed zip on w. Paths and contents
// are written exactly as stored; modTime stamps every entry.
func WriteZip(w io.Writer, files []model.GeneratedFile, modTime time.Time) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Path,
			Method:   zip.Deflate,
			Modified: modTime,
		}
		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("codegen: adding %s to archive: %w", f.Path, err)
		}
		if _, err := io.WriteString(entry, f.Content); err != nil {
			return fmt.Errorf("codegen: writing %s to archive: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("codegen: finishing archive: %w", err)
	}
	return nil
}

// Zip is WriteZip into memory.
func Zip(files []model.GeneratedFile, modTime time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteZip(&buf, files, modTime); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
