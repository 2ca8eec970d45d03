package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	stagingSuffix = ".staging"
	backupSuffix  = ".old"
)

// Stager builds sync output in a staging directory and promotes it to the
// target with a rename sequence that keeps the target either fully old or
// fully new at every observable moment.
type Stager struct {
	log *zap.Logger
}

// NewStager creates a stager.
func NewStager(log *zap.Logger) *Stager {
	return &Stager{log: log}
}

// StagingPath returns the staging directory for a target. The path is
// derived deterministically so a new run can find and remove a previous
// run's leftovers.
func StagingPath(targetDir string) string {
	return filepath.Clean(targetDir) + stagingSuffix
}

// BackupPath returns the location the previous target is parked at during
// publish.
func BackupPath(targetDir string) string {
	return filepath.Clean(targetDir) + backupSuffix
}

// Stage creates a fresh, empty staging directory for targetDir, removing
// any leftover from an earlier failed run so stale content cannot leak into
// this one.
func (s *Stager) Stage(targetDir string) (string, error) {
	staging := StagingPath(targetDir)
	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("remove stale staging %s: %v: %w", staging, err, ErrFilesystem)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("create staging %s: %v: %w", staging, err, ErrFilesystem)
	}
	return staging, nil
}

// Publish promotes stagingDir to targetDir:
//
//  1. Park the existing target at the backup path.
//  2. Rename staging into place.
//  3. Drop the backup.
//
// A failure in step 1 leaves everything untouched. A failure in step 2
// rolls the backup into place again before reporting the original
// error; if that rollback itself fails the error wraps ErrRollbackFailed
// because the target state can no longer be guaranteed.
func (s *Stager) Publish(targetDir, stagingDir string) error {
	backup := BackupPath(targetDir)

	hadTarget := false
	if _, err := os.Stat(targetDir); err == nil {
		hadTarget = true
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("remove previous backup %s: %v: %w", backup, err, ErrFilesystem)
		}
		if err := os.Rename(targetDir, backup); err != nil {
			return fmt.Errorf("park target %s: %v: %w", targetDir, err, ErrFilesystem)
		}
	}

	if err := os.Rename(stagingDir, targetDir); err != nil {
		pubErr := fmt.Errorf("promote staging %s: %v: %w", stagingDir, err, ErrFilesystem)
		if !hadTarget {
			return pubErr
		}

		// Best-effort rollback to the pre-publish state.
		_ = os.RemoveAll(targetDir)
		if rbErr := os.Rename(backup, targetDir); rbErr != nil {
			return fmt.Errorf("%v; restore backup %s: %v: %w", pubErr, backup, rbErr, ErrRollbackFailed)
		}
		s.log.Warn("Publish failed, previous target restored", zap.String("target", targetDir))
		return pubErr
	}

	if hadTarget {
		if err := os.RemoveAll(backup); err != nil {
			// The new content is live; a lingering backup is untidy but harmless.
			s.log.Warn("Failed to remove backup", zap.String("backup", backup), zap.Error(err))
		}
	}
	return nil
}
