package sync

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workshop-sync/core/steam"
	"workshop-sync/core/steam/mocks"
)

var testServer = steam.Endpoint{Host: "cdn.test.example", Port: 443, HTTPS: true}

// wireHappyPath sets up the resolution chain every successful sync walks:
// manifest id, depot id, depot key, server list, CDN token, request code.
func wireHappyPath(client *mocks.Client, item Item, manifest *steam.Manifest) {
	client.On("ResolveManifestID", mock.Anything, item.ID).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, item.AppID).Return(uint32(7201), nil)
	client.On("GetDepotKey", mock.Anything, uint32(7201), item.AppID).Return([]byte("depot-key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, item.AppID, uint32(7201), testServer).Return("cdn-token", nil)
	client.On("GetManifestRequestCode", mock.Anything, uint32(7201), item.AppID, uint64(9001)).Return(uint64(42), nil)
	client.On("DownloadManifest", mock.Anything, uint32(7201), uint64(9001), uint64(42), testServer, []byte("depot-key"), "cdn-token").Return(manifest, nil)
}

func TestSyncOne_DownloadsAndPublishes(t *testing.T) {
	item := Item{ID: 100, AppID: 7000}
	body := []byte("hello chunked world")
	manifest := &steam.Manifest{
		DepotID:    7201,
		ManifestID: 9001,
		Entries: []steam.ManifestEntry{
			{Path: "data", IsDirectory: true},
			{
				Path: "data/file.bin",
				Size: uint64(len(body)),
				Chunks: []steam.ChunkRef{
					{ID: []byte{1}, Offset: 0, UncompressedSize: 5},
					{ID: []byte{2}, Offset: 5, UncompressedSize: uint64(len(body) - 5)},
				},
			},
		},
	}

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)
	// Chunks come back out of order; placement is by offset.
	client.On("DownloadChunk", mock.Anything, uint32(7201), manifest.Entries[1].Chunks[0], testServer, []byte("depot-key"), "cdn-token").Return(body[:5], nil)
	client.On("DownloadChunk", mock.Anything, uint32(7201), manifest.Entries[1].Chunks[1], testServer, []byte("depot-key"), "cdn-token").Return(body[5:], nil)

	target := filepath.Join(t.TempDir(), "100")
	e := NewExecutor(client, zap.NewNop(), 0)
	ok := e.SyncOne(context.Background(), item, target, &Matcher{})
	require.True(t, ok)

	data, err := os.ReadFile(filepath.Join(target, "data", "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
	client.AssertExpectations(t)
}

func TestSyncOne_ReusesUnchangedFiles(t *testing.T) {
	item := Item{ID: 101, AppID: 7000}
	body := []byte("already on disk")
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{Path: "keep.dat", Size: uint64(len(body)), Hash: sha1Of(body)},
		},
	}

	target := filepath.Join(t.TempDir(), "101")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.dat"), body, 0o644))

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)
	// No DownloadChunk expectation: the file must be copied, not fetched.

	e := NewExecutor(client, zap.NewNop(), 0)
	require.True(t, e.SyncOne(context.Background(), item, target, &Matcher{}))

	data, err := os.ReadFile(filepath.Join(target, "keep.dat"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
	client.AssertNotCalled(t, "DownloadChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncOne_FiltersEntries(t *testing.T) {
	item := Item{ID: 102, AppID: 7000}
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{Path: "wanted.ini", Size: 2, Chunks: []steam.ChunkRef{{Offset: 0, UncompressedSize: 2}}},
			{Path: "skipped.bsp", Size: 2, Chunks: []steam.ChunkRef{{Offset: 0, UncompressedSize: 2}}},
		},
	}

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)
	client.On("DownloadChunk", mock.Anything, uint32(7201), manifest.Entries[0].Chunks[0], testServer, []byte("depot-key"), "cdn-token").Return([]byte("ok"), nil)

	filters, err := CompileFilters([]string{"*.ini"})
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "102")
	e := NewExecutor(client, zap.NewNop(), 0)
	require.True(t, e.SyncOne(context.Background(), item, target, filters))

	_, err = os.Stat(filepath.Join(target, "wanted.ini"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(target, "skipped.bsp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncOne_RetriesDepotLookupWithToken(t *testing.T) {
	item := Item{ID: 103, AppID: 7000}
	manifest := &steam.Manifest{}

	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, item.ID).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, item.AppID).Return(uint32(0), steam.ErrMissingToken).Once()
	client.On("RequestAccessToken", mock.Anything, item.AppID).Return(nil).Once()
	client.On("ResolveDepotID", mock.Anything, item.AppID).Return(uint32(7201), nil).Once()
	client.On("GetDepotKey", mock.Anything, uint32(7201), item.AppID).Return([]byte("depot-key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, item.AppID, uint32(7201), testServer).Return("cdn-token", nil)
	client.On("GetManifestRequestCode", mock.Anything, uint32(7201), item.AppID, uint64(9001)).Return(uint64(42), nil)
	client.On("DownloadManifest", mock.Anything, uint32(7201), uint64(9001), uint64(42), testServer, []byte("depot-key"), "cdn-token").Return(manifest, nil)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.True(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "103"), &Matcher{}))
	client.AssertExpectations(t)
}

func TestSyncOne_SecondMissingTokenFails(t *testing.T) {
	item := Item{ID: 104, AppID: 7000}

	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, item.ID).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, item.AppID).Return(uint32(0), steam.ErrMissingToken)
	client.On("RequestAccessToken", mock.Anything, item.AppID).Return(nil)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.False(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "104"), &Matcher{}))
	// Exactly one retry.
	client.AssertNumberOfCalls(t, "ResolveDepotID", 2)
}

func TestSyncOne_TokenAndCodeAreBestEffort(t *testing.T) {
	item := Item{ID: 105, AppID: 7000}
	manifest := &steam.Manifest{}

	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, item.ID).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, item.AppID).Return(uint32(7201), nil)
	client.On("GetDepotKey", mock.Anything, uint32(7201), item.AppID).Return([]byte("depot-key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, item.AppID, uint32(7201), testServer).Return("", errors.New("no token for you"))
	client.On("GetManifestRequestCode", mock.Anything, uint32(7201), item.AppID, uint64(9001)).Return(uint64(0), errors.New("no code either"))
	// The download proceeds with the zero values.
	client.On("DownloadManifest", mock.Anything, uint32(7201), uint64(9001), uint64(0), testServer, []byte("depot-key"), "").Return(manifest, nil)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.True(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "105"), &Matcher{}))
	client.AssertExpectations(t)
}

func TestSyncOne_AppIDOverride(t *testing.T) {
	item := Item{ID: 106, AppID: 7000}
	manifest := &steam.Manifest{}

	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, item.ID).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, uint32(9999)).Return(uint32(7201), nil)
	client.On("GetDepotKey", mock.Anything, uint32(7201), uint32(9999)).Return([]byte("depot-key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, uint32(9999), uint32(7201), testServer).Return("", nil)
	client.On("GetManifestRequestCode", mock.Anything, uint32(7201), uint32(9999), uint64(9001)).Return(uint64(0), nil)
	client.On("DownloadManifest", mock.Anything, uint32(7201), uint64(9001), uint64(0), testServer, []byte("depot-key"), "").Return(manifest, nil)

	e := NewExecutor(client, zap.NewNop(), 9999)
	assert.True(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "106"), &Matcher{}))
	client.AssertExpectations(t)
}

func TestSyncOne_ChunkBoundsGuard(t *testing.T) {
	item := Item{ID: 107, AppID: 7000}
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{
				Path:   "broken.bin",
				Size:   10,
				Hash:   sha1Of([]byte("x")),
				Chunks: []steam.ChunkRef{{Offset: 8, UncompressedSize: 5}},
			},
		},
	}

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)

	e := NewExecutor(client, zap.NewNop(), 0)
	// The chunk extends past the declared file size; nothing is fetched and
	// the sync fails before publish.
	target := filepath.Join(t.TempDir(), "107")
	assert.False(t, e.SyncOne(context.Background(), item, target, &Matcher{}))
	client.AssertNotCalled(t, "DownloadChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestSyncOne_ChunkOffsetOverflowGuard(t *testing.T) {
	item := Item{ID: 110, AppID: 7000}
	// Offset + size wraps around uint64; the chunk must still be rejected
	// before anything is fetched.
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{
				Path:   "wrapped.bin",
				Size:   10,
				Chunks: []steam.ChunkRef{{Offset: math.MaxUint64 - 2, UncompressedSize: 5}},
			},
		},
	}

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.False(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "110"), &Matcher{}))
	client.AssertNotCalled(t, "DownloadChunk", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncOne_OversizedChunkGuard(t *testing.T) {
	item := Item{ID: 108, AppID: 7000}
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{
				Path:   "huge.bin",
				Size:   math.MaxUint64,
				Chunks: []steam.ChunkRef{{Offset: 0, UncompressedSize: math.MaxUint64}},
			},
		},
	}

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.False(t, e.SyncOne(context.Background(), item, filepath.Join(t.TempDir(), "108"), &Matcher{}))
}

func TestSyncOne_PreviousStateSurvivesFailure(t *testing.T) {
	item := Item{ID: 109, AppID: 7000}
	manifest := &steam.Manifest{
		Entries: []steam.ManifestEntry{
			{Path: "new.bin", Size: 4, Chunks: []steam.ChunkRef{{Offset: 0, UncompressedSize: 4}}},
		},
	}

	target := filepath.Join(t.TempDir(), "109")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "previous.bin"), []byte("safe"), 0o644))

	client := new(mocks.Client)
	wireHappyPath(client, item, manifest)
	client.On("DownloadChunk", mock.Anything, uint32(7201), manifest.Entries[0].Chunks[0], testServer, []byte("depot-key"), "cdn-token").Return(nil, steam.ErrTimeout)

	e := NewExecutor(client, zap.NewNop(), 0)
	assert.False(t, e.SyncOne(context.Background(), item, target, &Matcher{}))

	// The published directory is untouched by the failed attempt.
	data, err := os.ReadFile(filepath.Join(target, "previous.bin"))
	require.NoError(t, err)
	assert.Equal(t, "safe", string(data))
}
