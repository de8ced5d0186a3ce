package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RetentionPolicy is how many snapshots to keep per age tier:
// under a day, under a week, under a month and under a year. Older
// snapshots are always removed.
type RetentionPolicy struct {
	Hourly  int // default: 24
	Daily   int // default: 7
	Weekly  int // default: 4
	Monthly int // default: 12
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.Hourly <= 0 {
		p.Hourly = 24
	}
	if p.Daily <= 0 {
		p.Daily = 7
	}
	if p.Weekly <= 0 {
		p.Weekly = 4
	}
	if p.Monthly <= 0 {
		p.Monthly = 12
	}
	return p
}

// snapshotTime reads the timestamp from the file name, falling back to the
// modification time for files not named by this package.
func snapshotTime(name string, info os.FileInfo) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if t, err := time.Parse(stampLayout, stamp); err == nil {
		return t
	}
	return info.ModTime().UTC()
}

func listSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup directory: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{
			Path:      filepath.Join(dir, e.Name()),
			Timestamp: snapshotTime(e.Name(), info),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// applyRetention removes the snapshots that fall outside policy at now.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) error {
	snaps, err := listSnapshots(dir)
	if err != nil {
		return err
	}

	var (
		tiers    [4][]string
		toDelete []string
	)
	for _, s := range snaps {
		switch age := now.Sub(s.Timestamp); {
		case age < 24*time.Hour:
			tiers[0] = append(tiers[0], s.Path)
		case age < 7*24*time.Hour:
			tiers[1] = append(tiers[1], s.Path)
		case age < 30*24*time.Hour:
			tiers[2] = append(tiers[2], s.Path)
		case age < 365*24*time.Hour:
			tiers[3] = append(tiers[3], s.Path)
		default:
			toDelete = append(toDelete, s.Path)
		}
	}

	keep := [4]int{policy.Hourly, policy.Daily, policy.Weekly, policy.Monthly}
	for i, tier := range tiers {
		if len(tier) > keep[i] {
			toDelete = append(toDelete, tier[keep[i]:]...)
		}
	}

	var errs []error
	for _, p := range toDelete {
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
