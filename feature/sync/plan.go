package sync

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"workshop-sync/core/steam"
)

// CopyItem names one local file that already carries the manifest content
// and can be copied into staging instead of downloaded.
type CopyItem struct {
	// SourcePath is the absolute path of the reusable local file.
	SourcePath string

	// RelPath is the normalized manifest-relative destination path.
	RelPath string
}

// SyncPlan partitions the selected manifest entries: every non-directory
// entry lands in exactly one of ToCopy or ToDownload. Directory entries
// only populate Dirs.
type SyncPlan struct {
	ToCopy     []CopyItem
	ToDownload []steam.ManifestEntry
	Dirs       []string
}

// Plan decides which manifest entries can be satisfied from the previous
// published state in targetDir and which must be downloaded. It reads local
// files to hash them but never writes; the same manifest against the same
// directory state always yields the same partition.
func Plan(entries []steam.ManifestEntry, targetDir string) (*SyncPlan, error) {
	plan := &SyncPlan{}

	for _, entry := range entries {
		rel, err := containedPath(entry.Path)
		if err != nil {
			return nil, err
		}

		if entry.IsDirectory {
			plan.Dirs = append(plan.Dirs, rel)
			continue
		}

		local, err := securejoin.SecureJoin(targetDir, filepath.FromSlash(rel))
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", entry.Path, ErrPathTraversal)
		}

		entry.Path = rel
		if reusable(local, entry) {
			plan.ToCopy = append(plan.ToCopy, CopyItem{SourcePath: local, RelPath: rel})
		} else {
			plan.ToDownload = append(plan.ToDownload, entry)
		}
	}

	return plan, nil
}

// containedPath normalizes a manifest-relative path and rejects anything
// that would resolve outside the target root.
func containedPath(p string) (string, error) {
	slashed := strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(slashed) || strings.Contains(slashed, ":") {
		return "", fmt.Errorf("path %q: %w", p, ErrPathTraversal)
	}
	cleaned := path.Clean(NormalizePath(p))
	if cleaned == "." {
		cleaned = ""
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q: %w", p, ErrPathTraversal)
	}
	return cleaned, nil
}

// reusable reports whether the local file is byte-identical to the manifest
// entry: it must exist, match the declared size exactly, and hash to the
// manifest's non-empty content hash.
func reusable(local string, entry steam.ManifestEntry) bool {
	info, err := os.Stat(local)
	if err != nil || info.IsDir() {
		return false
	}
	if uint64(info.Size()) != entry.Size {
		return false
	}
	if len(entry.Hash) == 0 {
		return false
	}
	sum, err := hashFile(local)
	if err != nil {
		return false
	}
	return bytes.Equal(sum, entry.Hash)
}

// hashFile computes the SHA-1 of a file's contents, the same digest the
// manifest declares per file.
func hashFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
