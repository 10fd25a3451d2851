// Package backup snapshots the engram store's SQLite database, tagging each
// snapshot with the engram-store event that triggered it (a scheduled timer
// tick, an operator-requested manual backup, or a boundary around a
// destructive maintenance pass) and pruning old snapshots per-kind rather
// than by calendar age, so the snapshots that matter most to roll back from
// — the one taken right before a dedup sweep collapses engrams, the one
// taken right after an evaluate pass folds new pin/unpin decisions — aren't
// evicted just because they're a week old.
package backup

import (
	"time"
)

// Backup kinds. NotifyPreDedup and NotifyPostEvaluate tag snapshots with the
// maintenance boundary that triggered them; BackupNow always tags "manual"
// (an operator-requested snapshot); the timer loop in Start tags "scheduled".
const (
	KindScheduled    = "scheduled"
	KindManual       = "manual"
	KindPreDedup     = "pre-dedup"
	KindPostEvaluate = "post-evaluate"
)

// BackupConfig holds backup service configuration.
type BackupConfig struct {
	// DBPath is the path to the SQLite database file to backup
	DBPath string

	// BackupDir is the directory where backups will be stored
	BackupDir string

	// Interval is the duration between automated backups (default: 1 hour)
	Interval time.Duration

	// Retention defines how many snapshots of each kind to keep
	Retention RetentionPolicy

	// VerifyBackups enables integrity checking after each backup (off unless
	// the caller sets it; no default is applied)
	VerifyBackups bool
}

// RetentionPolicy defines how many backups to keep per kind. Unlike an
// age-bucketed policy, a dedup sweep or evaluate pass can happen many times
// within a single hour during a backfill, so keeping "the last N of this
// kind" tracks actual maintenance activity instead of wall-clock time.
type RetentionPolicy struct {
	// Scheduled is the number of timer-triggered snapshots to keep (default: 24)
	Scheduled int

	// Manual is the number of operator-requested snapshots to keep (default: 12)
	Manual int

	// PreDedup is the number of pre-dedup-sweep snapshots to keep (default: 7),
	// so a bad merge pass can be rolled back to the state just before it ran
	PreDedup int

	// PostEvaluate is the number of post-evaluate-pass snapshots to keep
	// (default: 4), covering the auto-pin decisions folded in by that pass
	PostEvaluate int
}

// BackupInfo contains metadata about a backup file.
type BackupInfo struct {
	// Path is the full path to the backup file
	Path string

	// Kind is the maintenance boundary that triggered this snapshot
	Kind string

	// Timestamp is when the backup was created
	Timestamp time.Time

	// Size is the backup file size in bytes
	Size int64

	// Verified indicates if the backup passed integrity check
	Verified bool
}

// BackupResult contains the result of a backup operation.
type BackupResult struct {
	// Path is the path to the created backup file
	Path string

	// Kind is the maintenance boundary that triggered this snapshot
	Kind string

	// Duration is how long the backup took
	Duration time.Duration

	// Size is the backup file size in bytes
	Size int64

	// Verified indicates if the backup was verified successfully
	Verified bool

	// Error is any error that occurred during backup
	Error error
}

// HealthStatus represents the health of the backup service.
type HealthStatus struct {
	// Status is the overall health status: "healthy", "warning", or "error"
	Status string

	// Message provides additional context about the status
	Message string

	// LastBackup is when the last successful backup completed
	LastBackup time.Time

	// NextBackup is when the next backup is scheduled
	NextBackup time.Time

	// TotalBackups is the number of backups currently stored
	TotalBackups int

	// BackupDir is the backup storage directory
	BackupDir string

	// DiskSpaceUsed is total bytes used by all backups
	DiskSpaceUsed int64
}
