package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"

	"workshop-sync/core/steam"
)

// Item identifies one workshop item to sync: the published file id and the
// app whose depot hosts its content.
type Item struct {
	ID    uint64
	AppID uint32
	Title string
}

// Executor drives one item's sync end to end: resolve the manifest, plan
// against the previous published state, populate staging by copy and
// download, then publish atomically. Every failure is scoped to the item.
type Executor struct {
	client steam.ContentClient
	stager *Stager
	log    *zap.Logger

	// appID overrides per-item depot resolution when non-zero.
	appID uint32
}

// NewExecutor creates an executor over the given content client. A non-zero
// appID overrides the app reported by item metadata.
func NewExecutor(client steam.ContentClient, log *zap.Logger, appID uint32) *Executor {
	return &Executor{
		client: client,
		stager: NewStager(log),
		log:    log,
		appID:  appID,
	}
}

// SyncOne synchronizes targetDir with the item's current content and
// reports success. Failures are logged with the item id and failing stage;
// they never propagate.
func (e *Executor) SyncOne(ctx context.Context, item Item, targetDir string, filters *Matcher) bool {
	log := e.log.With(zap.Uint64("item", item.ID))
	start := time.Now()

	if err := e.sync(ctx, item, targetDir, filters, log); err != nil {
		log.Error("Sync failed", zap.Error(err))
		return false
	}
	log.Info("Sync complete", zap.String("target", targetDir), zap.Duration("duration", time.Since(start)))
	return true
}

func (e *Executor) sync(ctx context.Context, item Item, targetDir string, filters *Matcher, log *zap.Logger) error {
	// 1. Resolve the item's content manifest.
	manifestID, err := e.client.ResolveManifestID(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("resolve manifest id: %w", err)
	}

	appID := e.appID
	if appID == 0 {
		appID = item.AppID
	}

	// 2. Resolve the hosting depot, once more with an access token if the
	// first lookup lacked entitlement.
	depotID, err := e.resolveDepot(ctx, appID)
	if err != nil {
		return fmt.Errorf("resolve depot for app %d: %w", appID, err)
	}

	// 3. Depot decryption key.
	key, err := e.client.GetDepotKey(ctx, depotID, appID)
	if err != nil {
		return fmt.Errorf("depot %d key: %w", depotID, err)
	}

	// 4. Pick a content server.
	server, err := e.pickServer(ctx)
	if err != nil {
		return fmt.Errorf("select content server: %w", err)
	}

	// 5. CDN token and request code are best-effort; some depots need
	// neither.
	cdnToken, err := e.client.GetCDNAuthToken(ctx, appID, depotID, server)
	if err != nil {
		log.Debug("No CDN auth token", zap.Error(err))
		cdnToken = ""
	}
	requestCode, err := e.client.GetManifestRequestCode(ctx, depotID, appID, manifestID)
	if err != nil {
		log.Debug("No manifest request code", zap.Error(err))
		requestCode = 0
	}

	// 6. Fetch the manifest.
	manifest, err := e.client.DownloadManifest(ctx, depotID, manifestID, requestCode, server, key, cdnToken)
	if err != nil {
		return fmt.Errorf("download manifest %d: %w", manifestID, err)
	}

	// 7. Apply file filters.
	selected := selectEntries(manifest.Entries, filters)

	// 8. Plan reuse against the previous published state, never against
	// staging.
	plan, err := Plan(selected, targetDir)
	if err != nil {
		return err
	}
	log.Info("Sync plan ready",
		zap.Int("reusable", len(plan.ToCopy)),
		zap.Int("to_download", len(plan.ToDownload)))

	// 9. Stage.
	staging, err := e.stager.Stage(targetDir)
	if err != nil {
		return err
	}
	if err := e.populate(ctx, staging, depotID, server, key, cdnToken, plan, log); err != nil {
		return err
	}

	// 10. Publish.
	return e.stager.Publish(targetDir, staging)
}

// resolveDepot looks up the depot hosting the app's workshop content,
// retrying exactly once with a freshly requested access token. A second
// missing-token rejection reads as not found.
func (e *Executor) resolveDepot(ctx context.Context, appID uint32) (uint32, error) {
	depotID, err := e.client.ResolveDepotID(ctx, appID)
	if err == nil {
		return depotID, nil
	}
	if !isMissingToken(err) {
		return 0, err
	}
	if tokenErr := e.client.RequestAccessToken(ctx, appID); tokenErr != nil {
		return 0, tokenErr
	}
	depotID, err = e.client.ResolveDepotID(ctx, appID)
	if err != nil {
		if isMissingToken(err) {
			return 0, fmt.Errorf("app %d still requires a token: %w", appID, steam.ErrNotFound)
		}
		return 0, err
	}
	return depotID, nil
}

// pickServer returns the first offered endpoint with a non-empty address.
func (e *Executor) pickServer(ctx context.Context) (steam.Endpoint, error) {
	servers, err := e.client.ListServers(ctx)
	if err != nil {
		return steam.Endpoint{}, err
	}
	for _, s := range servers {
		if s.Host != "" {
			return s, nil
		}
	}
	return steam.Endpoint{}, fmt.Errorf("no usable content server: %w", steam.ErrNotFound)
}

// selectEntries applies filters to non-directory entries. Directory entries
// always pass; they only drive directory creation.
func selectEntries(entries []steam.ManifestEntry, filters *Matcher) []steam.ManifestEntry {
	if filters.Empty() {
		return entries
	}
	selected := make([]steam.ManifestEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDirectory || filters.Match(entry.Path) {
			selected = append(selected, entry)
		}
	}
	return selected
}

// populate fills the staging directory: manifest directories, reusable
// copies, then chunk downloads.
func (e *Executor) populate(ctx context.Context, staging string, depotID uint32, server steam.Endpoint, key []byte, cdnToken string, plan *SyncPlan, log *zap.Logger) error {
	for _, dir := range plan.Dirs {
		dest, err := securejoin.SecureJoin(staging, filepath.FromSlash(dir))
		if err != nil {
			return fmt.Errorf("resolve dir %q: %w", dir, ErrPathTraversal)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %v: %w", dir, err, ErrFilesystem)
		}
	}

	for _, item := range plan.ToCopy {
		if err := e.copyIntoStaging(staging, item); err != nil {
			return err
		}
	}

	for _, entry := range plan.ToDownload {
		if err := e.downloadFile(ctx, staging, depotID, server, key, cdnToken, entry); err != nil {
			return fmt.Errorf("download %s: %w", entry.Path, err)
		}
		log.Debug("Downloaded file", zap.String("path", entry.Path), zap.Uint64("size", entry.Size))
	}
	return nil
}

func (e *Executor) copyIntoStaging(staging string, item CopyItem) error {
	dest, err := securejoin.SecureJoin(staging, filepath.FromSlash(item.RelPath))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", item.RelPath, ErrPathTraversal)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %v: %w", item.RelPath, err, ErrFilesystem)
	}

	src, err := os.Open(item.SourcePath)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", item.SourcePath, err, ErrFilesystem)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", dest, err, ErrFilesystem)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %v: %w", item.RelPath, err, ErrFilesystem)
	}
	return nil
}

// downloadFile fetches every chunk of one manifest entry and writes each at
// its declared offset. Chunks may arrive in any order; placement comes from
// the offset alone.
func (e *Executor) downloadFile(ctx context.Context, staging string, depotID uint32, server steam.Endpoint, key []byte, cdnToken string, entry steam.ManifestEntry) error {
	dest, err := securejoin.SecureJoin(staging, filepath.FromSlash(entry.Path))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", entry.Path, ErrPathTraversal)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir: %v: %w", err, ErrFilesystem)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create: %v: %w", err, ErrFilesystem)
	}
	defer f.Close()

	for _, chunk := range entry.Chunks {
		if chunk.UncompressedSize > math.MaxInt {
			return fmt.Errorf("chunk of %d bytes: %w", chunk.UncompressedSize, ErrChunkTooLarge)
		}
		// Phrased to avoid uint64 wraparound on a hostile offset.
		if chunk.Offset > entry.Size || chunk.UncompressedSize > entry.Size-chunk.Offset {
			return fmt.Errorf("chunk at offset %d: %w", chunk.Offset, ErrChunkBounds)
		}

		data, err := e.client.DownloadChunk(ctx, depotID, chunk, server, key, cdnToken)
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(data, int64(chunk.Offset)); err != nil {
			return fmt.Errorf("write at %d: %v: %w", chunk.Offset, err, ErrFilesystem)
		}
	}
	return nil
}

func isMissingToken(err error) bool {
	return errors.Is(err, steam.ErrMissingToken)
}
