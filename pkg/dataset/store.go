package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/menta2k/vqa-builder/internal/utils"
	"github.com/menta2k/vqa-builder/pkg/types"
)

// Encode writes entries as a JSON array with 2-space indentation. Non-ASCII
// text and the <img>/<ref>/<box> markers are written unescaped.
func Encode(w io.Writer, entries []types.Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(normalize(entries)); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	_, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return err
}

// Decode reads a JSON array of entries
func Decode(r io.Reader) ([]types.Entry, error) {
	var entries []types.Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return normalize(entries), nil
}

// WriteFile saves entries to path, creating the parent directory
func WriteFile(path string, entries []types.Entry) (int64, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		return 0, err
	}
	if err := utils.EnsureDir(path); err != nil {
		return 0, fmt.Errorf("failed to create dataset directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write dataset file: %w", err)
	}
	return int64(buf.Len()), nil
}

// ReadFile loads entries from path
func ReadFile(path string) ([]types.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// normalize replaces nil slices so that they encode as [] rather than null
func normalize(entries []types.Entry) []types.Entry {
	if entries == nil {
		return []types.Entry{}
	}
	for i := range entries {
		if entries[i].Conversations == nil {
			entries[i].Conversations = []types.Turn{}
		}
	}
	return entries
}
