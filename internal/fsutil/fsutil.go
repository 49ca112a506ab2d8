// Package fsutil provides the atomic file-write primitives shared by every
// artifact producer: same-directory temp file plus rename, canonical JSON
// encoding (2-space indent, trailing LF), and line-atomic appends.
package fsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// File and directory permissions for lane artifacts.
const (
	FilePerm = 0o644
	DirPerm  = 0o755
)

// writeSeq is the process-wide temp-name counter. Seeded from the wall clock
// so concurrent writers in different processes cannot collide on pid reuse.
var writeSeq atomic.Uint64

func init() {
	writeSeq.Store(uint64(time.Now().UnixNano()))
}

// TempPath returns a unique same-directory temp path for the target file.
func TempPath(path string) string {
	return fmt.Sprintf("%s.tmp.%d.%x", path, os.Getpid(), writeSeq.Add(1))
}

// WriteFileAtomic writes data to path via a same-directory temp file and
// rename. Readers never observe a partial file. The parent directory is
// created if missing. On failure the temp file is removed and any prior
// artifact at path is left untouched.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, DirPerm)
	if err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp := TempPath(path)

	writeErr := os.WriteFile(tmp, data, FilePerm)
	if writeErr != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("write temp file: %w", writeErr)
	}

	renameErr := os.Rename(tmp, path)
	if renameErr != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("rename temp file: %w", renameErr)
	}

	return nil
}

// MarshalCanonical encodes v as canonical artifact JSON: UTF-8, 2-space
// indent, trailing newline. Byte-stable for equal inputs.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	err := enc.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteJSONAtomic writes v as canonical JSON to path atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := MarshalCanonical(v)
	if err != nil {
		return err
	}

	return WriteFileAtomic(path, data)
}

// ReadJSON reads path and unmarshals it into out.
func ReadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	unmarshalErr := json.Unmarshal(data, out)
	if unmarshalErr != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), unmarshalErr)
	}

	return nil
}

// AppendLine appends line plus a trailing newline to path in a single write
// call. The file is created if missing. Single-write appends on a local
// filesystem keep concurrent producer lines from interleaving.
func AppendLine(path string, line []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, DirPerm)
	if err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	file, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, FilePerm)
	if openErr != nil {
		return fmt.Errorf("open segment: %w", openErr)
	}
	defer file.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	_, writeErr := file.Write(buf)
	if writeErr != nil {
		return fmt.Errorf("append line: %w", writeErr)
	}

	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// PruneOldest keeps at most keep files matching the glob pattern inside dir,
// removing the lexicographically smallest (oldest, for timestamped names)
// first. Removal failures are ignored; pruning is best-effort.
func PruneOldest(dir, pattern string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) <= keep {
		return
	}

	// Glob results are sorted; timestamped names sort oldest first.
	for _, path := range matches[:len(matches)-keep] {
		_ = os.Remove(path)
	}
}
