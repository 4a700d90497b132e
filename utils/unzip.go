// utils/unzip.go
package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxBundleEntryBytes caps a single extracted file.
const MaxBundleEntryBytes = 50 << 20

// Unzip extracts a zip file to the given destination directory and returns
// the extracted file paths relative to dest.
// Returns an error if any file tries to escape the destination (path traversal protection).
func Unzip(src, dest string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	root := filepath.Clean(dest)
	var extracted []string
	for _, f := range r.File {
		path := filepath.Join(root, f.Name)

		// ✅ Security: prevent zip slip (path traversal)
		if !strings.HasPrefix(path, root+string(os.PathSeparator)) {
			return extracted, fmt.Errorf("illegal file path: %s", f.Name)
		}
		// skip macOS resource forks
		if strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, os.ModePerm); err != nil {
				return extracted, err
			}
			continue
		}
		if f.UncompressedSize64 > MaxBundleEntryBytes {
			return extracted, fmt.Errorf("file too large: %s", f.Name)
		}

		if err := extractFile(f, path); err != nil {
			return extracted, err
		}
		rel, _ := filepath.Rel(root, path)
		extracted = append(extracted, filepath.ToSlash(rel))
	}

	return extracted, nil
}

func extractFile(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	return WriteFileAtomic(path, io.LimitReader(rc, MaxBundleEntryBytes))
}
