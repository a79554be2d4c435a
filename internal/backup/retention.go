package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const snapshotExt = ".db"

// listSnapshots returns the snapshot files in dir, newest first.
func listSnapshots(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	snapshots := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Info{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

type tier struct {
	maxAge time.Duration
	keep   int
}

// expired selects the snapshots policy no longer keeps. snapshots must be
// newest first so each tier keeps its most recent entries.
func expired(snapshots []Info, policy RetentionPolicy, now time.Time) []Info {
	tiers := []tier{
		{24 * time.Hour, policy.Hourly},
		{7 * 24 * time.Hour, policy.Daily},
		{30 * 24 * time.Hour, policy.Weekly},
		{365 * 24 * time.Hour, policy.Monthly},
	}
	kept := make([]int, len(tiers))

	var drop []Info
	for _, s := range snapshots {
		age := now.Sub(s.CreatedAt)
		i := sort.Search(len(tiers), func(i int) bool { return age < tiers[i].maxAge })
		if i == len(tiers) || kept[i] >= tiers[i].keep {
			drop = append(drop, s)
			continue
		}
		kept[i]++
	}
	return drop
}

// prune deletes expired snapshots in dir and returns how many were removed.
func prune(dir string, policy RetentionPolicy, now time.Time) (int, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	var lastErr error
	for _, s := range expired(snapshots, policy, now) {
		if err := os.Remove(s.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return removed, nil
}
