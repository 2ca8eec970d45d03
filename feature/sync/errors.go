package sync

import "errors"

// Engine-side failure conditions. Together with the service sentinels in
// core/steam these cover the whole failure taxonomy; all of them are
// per-item: they fail one sync without aborting the batch.
var (
	// ErrPathTraversal indicates a manifest path that would resolve
	// outside the target root. Never retried.
	ErrPathTraversal = errors.New("sync: manifest path escapes target directory")

	// ErrChunkTooLarge indicates a chunk whose declared size exceeds the
	// largest single buffer this platform can address.
	ErrChunkTooLarge = errors.New("sync: chunk exceeds addressable buffer size")

	// ErrChunkBounds indicates a chunk placed beyond its file's declared
	// size.
	ErrChunkBounds = errors.New("sync: chunk write exceeds declared file size")

	// ErrFilesystem indicates an I/O failure during staging, copying or
	// publishing.
	ErrFilesystem = errors.New("sync: filesystem failure")

	// ErrRollbackFailed indicates a failed publish could not be rolled
	// back; the target directory state is no longer guaranteed.
	ErrRollbackFailed = errors.New("sync: publish rollback failed")
)
