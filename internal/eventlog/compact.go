package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// Compact archives every segment strictly before keepFrom into archiveDir as
// an lz4 frame, then removes the original. Segments at or after keepFrom,
// including the active segment, are never touched. Callers must pass a
// keepFrom no later than the earliest consumer checkpoint segment, otherwise
// a consumer would lose its resume anchor.
func Compact(dir, archiveDir, keepFrom string) ([]string, error) {
	segments, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}

	var archived []string

	for _, name := range segments {
		if keepFrom != "" && name >= keepFrom {
			break
		}

		archiveErr := archiveSegment(dir, archiveDir, name)
		if archiveErr != nil {
			return archived, archiveErr
		}

		archived = append(archived, name)
	}

	return archived, nil
}

func archiveSegment(dir, archiveDir, name string) error {
	mkdirErr := os.MkdirAll(archiveDir, 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("create archive dir: %w", mkdirErr)
	}

	src, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open segment %s: %w", name, err)
	}
	defer src.Close()

	dstPath := filepath.Join(archiveDir, name+".lz4")

	dst, createErr := os.Create(dstPath)
	if createErr != nil {
		return fmt.Errorf("create archive %s: %w", name, createErr)
	}

	zw := lz4.NewWriter(dst)

	_, copyErr := io.Copy(zw, src)
	if copyErr == nil {
		copyErr = zw.Close()
	}

	closeErr := dst.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dstPath)

		if copyErr != nil {
			return fmt.Errorf("compress segment %s: %w", name, copyErr)
		}

		return fmt.Errorf("close archive %s: %w", name, closeErr)
	}

	removeErr := os.Remove(filepath.Join(dir, name))
	if removeErr != nil {
		return fmt.Errorf("remove archived segment %s: %w", name, removeErr)
	}

	return nil
}

// ReadArchived decompresses one archived segment and returns its raw bytes.
func ReadArchived(archiveDir, name string) ([]byte, error) {
	src, err := os.Open(filepath.Join(archiveDir, name+".lz4"))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", name, err)
	}
	defer src.Close()

	data, readErr := io.ReadAll(lz4.NewReader(src))
	if readErr != nil {
		return nil, fmt.Errorf("decompress archive %s: %w", name, readErr)
	}

	return data, nil
}
