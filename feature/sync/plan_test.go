package sync

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workshop-sync/core/steam"
)

func sha1Of(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

func writeLocal(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func TestPlan_PartitionsEveryFile(t *testing.T) {
	target := t.TempDir()
	same := []byte("unchanged content")
	writeLocal(t, target, "maps/level.bsp", same)
	writeLocal(t, target, "config/game.ini", []byte("old settings"))

	entries := []steam.ManifestEntry{
		{Path: "maps", IsDirectory: true},
		{Path: "maps/level.bsp", Size: uint64(len(same)), Hash: sha1Of(same)},
		{Path: "config/game.ini", Size: 12, Hash: sha1Of([]byte("new settings"))},
		{Path: "sounds/new.wav", Size: 4, Hash: sha1Of([]byte("wave"))},
	}

	plan, err := Plan(entries, target)
	require.NoError(t, err)

	assert.Equal(t, []string{"maps"}, plan.Dirs)
	require.Len(t, plan.ToCopy, 1)
	assert.Equal(t, "maps/level.bsp", plan.ToCopy[0].RelPath)
	assert.Equal(t, filepath.Join(target, "maps", "level.bsp"), plan.ToCopy[0].SourcePath)

	// Everything not reusable must be downloaded; nothing is dropped.
	downloads := make([]string, 0, len(plan.ToDownload))
	for _, e := range plan.ToDownload {
		downloads = append(downloads, e.Path)
	}
	assert.ElementsMatch(t, []string{"config/game.ini", "sounds/new.wav"}, downloads)
}

func TestPlan_ReuseRules(t *testing.T) {
	content := []byte("some file body")

	tests := []struct {
		name  string
		entry steam.ManifestEntry
		local []byte // nil means no local file
		reuse bool
	}{
		{
			name:  "identical file is reused",
			entry: steam.ManifestEntry{Path: "a.bin", Size: uint64(len(content)), Hash: sha1Of(content)},
			local: content,
			reuse: true,
		},
		{
			name:  "missing file is downloaded",
			entry: steam.ManifestEntry{Path: "a.bin", Size: uint64(len(content)), Hash: sha1Of(content)},
			reuse: false,
		},
		{
			name:  "size mismatch is downloaded",
			entry: steam.ManifestEntry{Path: "a.bin", Size: uint64(len(content)) + 1, Hash: sha1Of(content)},
			local: content,
			reuse: false,
		},
		{
			name:  "hash mismatch is downloaded",
			entry: steam.ManifestEntry{Path: "a.bin", Size: uint64(len(content)), Hash: sha1Of([]byte("different"))},
			local: content,
			reuse: false,
		},
		{
			name:  "empty manifest hash is never reused",
			entry: steam.ManifestEntry{Path: "a.bin", Size: uint64(len(content))},
			local: content,
			reuse: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := t.TempDir()
			if tt.local != nil {
				writeLocal(t, target, tt.entry.Path, tt.local)
			}

			plan, err := Plan([]steam.ManifestEntry{tt.entry}, target)
			require.NoError(t, err)
			if tt.reuse {
				assert.Len(t, plan.ToCopy, 1)
				assert.Empty(t, plan.ToDownload)
			} else {
				assert.Empty(t, plan.ToCopy)
				assert.Len(t, plan.ToDownload, 1)
			}
		})
	}
}

func TestPlan_Deterministic(t *testing.T) {
	target := t.TempDir()
	data := []byte("stable")
	writeLocal(t, target, "keep.dat", data)

	entries := []steam.ManifestEntry{
		{Path: "keep.dat", Size: uint64(len(data)), Hash: sha1Of(data)},
		{Path: "fetch.dat", Size: 9, Hash: sha1Of([]byte("elsewhere"))},
	}

	first, err := Plan(entries, target)
	require.NoError(t, err)
	second, err := Plan(entries, target)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlan_RejectsEscapingPaths(t *testing.T) {
	tests := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
		"c:/windows/system32",
	}
	for _, p := range tests {
		t.Run(p, func(t *testing.T) {
			_, err := Plan([]steam.ManifestEntry{{Path: p, Size: 1}}, t.TempDir())
			assert.ErrorIs(t, err, ErrPathTraversal)
		})
	}
}

func TestPlan_NormalizesEntryPaths(t *testing.T) {
	plan, err := Plan([]steam.ManifestEntry{
		{Path: "sub\\dir\\file.txt", Size: 3, Hash: sha1Of([]byte("abc"))},
	}, t.TempDir())
	require.NoError(t, err)
	require.Len(t, plan.ToDownload, 1)
	assert.Equal(t, "sub/dir/file.txt", plan.ToDownload[0].Path)
}
