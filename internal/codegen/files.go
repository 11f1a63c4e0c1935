package codegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sakif/promptforge/internal/model"
)

// DefaultFileName is used for downloads when a path has no usable basename.
const DefaultFileName = "generated_file.txt"

var (
	// ErrNotJSON means no JSON object could be read from the model output.
	ErrNotJSON = errors.New("codegen: generated response is not valid JSON")
	// ErrNoFileList means the JSON had no "files" array.
	ErrNoFileList = errors.New("codegen: invalid generated code structure")
)

// ParseFiles reads the {"files":[{"path":..,"content":..}]} document out of
// raw model output.
//
// Models sometimes wrap the JSON in prose or code fences. When the whole text
// does not parse, the substring from the first '{' to the last '}' is tried
// instead. That fallback handles a single wrapped object and nothing more.
//
// Entries without a string path and a string content are dropped, and so are
// entries whose path fails SafePath. The returned slice is never nil.
func ParseFiles(raw string) ([]model.GeneratedFile, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, ErrNotJSON
		}
		doc = nil
		if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
		}
	}

	rawFiles, ok := doc["files"]
	if !ok {
		return nil, ErrNoFileList
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawFiles, &entries); err != nil || entries == nil {
		return nil, ErrNoFileList
	}

	files := make([]model.GeneratedFile, 0, len(entries))
	for _, rawEntry := range entries {
		var e map[string]json.RawMessage
		if json.Unmarshal(rawEntry, &e) != nil {
			continue
		}
		var p, content string
		if json.Unmarshal(e["path"], &p) != nil || json.Unmarshal(e["content"], &content) != nil {
			continue
		}
		if !SafePath(p) {
			continue
		}
		files = append(files, model.GeneratedFile{Path: p, Content: content})
	}
	return files, nil
}

// SafePath reports whether p names a file that stays inside the archive
// root. It rejects empty paths, absolute paths, drive letters, ".." segments
// and directory paths ending in a separator, since a zip directory entry
// cannot hold content.
func SafePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	norm := strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(norm, "/") || strings.HasSuffix(norm, "/") {
		return false
	}
	if len(norm) >= 2 && norm[1] == ':' {
		return false
	}
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// DownloadName returns the basename of p, or DefaultFileName when p has none.
func DownloadName(p string) string {
	norm := strings.ReplaceAll(p, "\\", "/")
	if norm == "" || strings.HasSuffix(norm, "/") {
		return DefaultFileName
	}
	base := path.Base(norm)
	if base == "." || base == "/" || base == "" {
		return DefaultFileName
	}
	return base
}
