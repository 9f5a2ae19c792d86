package jobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PurgeStale deletes every record except the newest one in each group
// directory ({slug}/{type} and {slug}/run_solution/{key}) and returns the
// number of records removed.
func (s *Store) PurgeStale() (int, error) {
	var groups []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			groups = append(groups, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to walk job store: %w", err)
	}

	deleted := 0
	for _, dir := range groups {
		stems, err := s.recordStems(dir)
		if err != nil {
			return deleted, err
		}
		if len(stems) < 2 {
			continue
		}
		rel, err := filepath.Rel(s.root, dir)
		if err != nil {
			return deleted, fmt.Errorf("failed to resolve group %s: %w", dir, err)
		}
		for _, stem := range stems[:len(stems)-1] {
			id := filepath.ToSlash(filepath.Join(rel, stem))
			if err := s.remove(id); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	if deleted > 0 {
		s.log.Info("purged stale jobs", "count", deleted)
	}
	return deleted, nil
}

func (s *Store) remove(id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	s.locks.Delete(id)
	return nil
}

