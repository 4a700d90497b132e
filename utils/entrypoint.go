// utils/entrypoint.go
package utils

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Passport document names accepted inside an uploaded bundle, in order of
// preference (case-insensitive).
var documentCandidates = []string{
	"passport.json",
	"passport.jsonc",
	"config.json",
}

// FindPassportDocument walks an extracted bundle and returns the path,
// relative to root, of the passport document. The shallowest match wins;
// at equal depth the earlier candidate name wins.
func FindPassportDocument(root string) (string, error) {
	found, bestDepth, bestRank := "", -1, len(documentCandidates)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for rank, candidate := range documentCandidates {
			if !strings.EqualFold(d.Name(), candidate) {
				continue
			}
			rel, _ := filepath.Rel(root, path)
			rel = filepath.ToSlash(rel) // Ensure forward slashes
			depth := strings.Count(rel, "/")
			if bestDepth < 0 || depth < bestDepth || (depth == bestDepth && rank < bestRank) {
				found, bestDepth, bestRank = rel, depth, rank
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", os.ErrNotExist
	}
	return found, nil
}
