package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// backupFilePrefix and the kind segment that follows it let listBackups
// recover which maintenance boundary produced a given snapshot file without
// a separate sidecar index: engrams-backup-<kind>-<timestamp>.db.
const backupFilePrefix = "engrams-backup-"

func backupFileName(kind string, ts string) string {
	return fmt.Sprintf("%s%s-%s.db", backupFilePrefix, kind, ts)
}

// kindFromFileName recovers the kind tag from a snapshot's filename, falling
// back to KindScheduled for any file that predates this naming scheme.
func kindFromFileName(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, backupFilePrefix), ".db")
	for _, k := range []string{KindPreDedup, KindPostEvaluate, KindManual, KindScheduled} {
		if strings.HasPrefix(trimmed, k+"-") {
			return k
		}
	}
	return KindScheduled
}

// listBackups lists all backup files in the backup directory with their metadata.
func listBackups(backupDir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}

		path := filepath.Join(backupDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}

		backups = append(backups, BackupInfo{
			Path:      path,
			Kind:      kindFromFileName(entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
			Verified:  false, // listing does not verify snapshots
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// applyRetention removes old backups according to the retention policy,
// keeping only the most recent N snapshots of each kind rather than
// bucketing by calendar age — a dedup sweep that runs ten times during a
// backfill should still leave its last few pre-dedup snapshots in place,
// even though they're all less than an hour old.
func applyRetention(backupDir string, policy RetentionPolicy) error {
	backups, err := listBackups(backupDir)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return nil
	}

	byKind := map[string][]BackupInfo{}
	for _, b := range backups {
		byKind[b.Kind] = append(byKind[b.Kind], b)
	}

	limits := map[string]int{
		KindScheduled:    policy.Scheduled,
		KindManual:       policy.Manual,
		KindPreDedup:     policy.PreDedup,
		KindPostEvaluate: policy.PostEvaluate,
	}

	var toDelete []string
	for kind, group := range byKind {
		limit := limits[kind]
		if limit <= 0 || len(group) <= limit {
			continue
		}
		// group is already sorted newest-first from listBackups.
		for _, b := range group[limit:] {
			toDelete = append(toDelete, b.Path)
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
			// Continue deleting other backups even if one fails
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return nil
}

// calculateDiskUsage calculates total bytes used by all backups.
func calculateDiskUsage(backupDir string) (int64, error) {
	backups, err := listBackups(backupDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, backup := range backups {
		total += backup.Size
	}

	return total, nil
}
