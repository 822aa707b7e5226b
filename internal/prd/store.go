// Package prd persists the project's PRD document, execution progress,
// backups, and the completion archive. All writes are atomic; readers
// only ever observe pre- or post-state.
package prd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

// On-disk layout inside a project directory.
const (
	PRDFileName      = "prd.json"
	ProgressFileName = "ralph-progress.json"
	BackupDirName    = ".ralph-backups"
	ArchiveDirName   = ".archive"
	BackupRetention  = 20
)

// ErrNoPRD indicates the project has no PRD document.
var ErrNoPRD = errors.New("no PRD found in project")

// Store manages the PRD and progress files for one project directory.
type Store struct {
	projectDir string
}

// NewStore creates a store rooted at the project directory.
func NewStore(projectDir string) *Store {
	return &Store{projectDir: projectDir}
}

// PRDPath returns the PRD file location.
func (s *Store) PRDPath() string {
	return filepath.Join(s.projectDir, PRDFileName)
}

// ProgressPath returns the progress file location.
func (s *Store) ProgressPath() string {
	return filepath.Join(s.projectDir, ProgressFileName)
}

// Load reads and validates the PRD.
func (s *Store) Load() (*models.PRD, error) {
	data, err := os.ReadFile(s.PRDPath())
	if os.IsNotExist(err) {
		return nil, ErrNoPRD
	}
	if err != nil {
		return nil, fmt.Errorf("read PRD: %w", err)
	}

	var prd models.PRD
	if err := json.Unmarshal(data, &prd); err != nil {
		return nil, fmt.Errorf("parse PRD: %w", err)
	}

	if prd.Project == "" {
		return nil, fmt.Errorf("invalid PRD: missing project name")
	}
	if prd.BranchName == "" {
		return nil, fmt.Errorf("invalid PRD: missing branch name")
	}
	seen := make(map[string]bool)
	for _, story := range prd.UserStories {
		if story.ID == "" {
			return nil, fmt.Errorf("invalid PRD: story with empty id")
		}
		if seen[story.ID] {
			return nil, fmt.Errorf("invalid PRD: duplicate story id %s", story.ID)
		}
		seen[story.ID] = true
	}

	return &prd, nil
}

// Save writes the PRD atomically, pretty-printed.
func (s *Store) Save(prd *models.PRD) error {
	data, err := json.MarshalIndent(prd, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal PRD: %w", err)
	}
	data = append(data, '\n')
	if err := filelock.ReplaceLocked(s.PRDPath(), data); err != nil {
		return fmt.Errorf("write PRD: %w", err)
	}
	return nil
}

// Backup copies the current PRD into the backup ring, prunes entries past
// the retention bound, and refreshes the prd_latest copy.
func (s *Store) Backup() (string, error) {
	data, err := os.ReadFile(s.PRDPath())
	if os.IsNotExist(err) {
		return "", ErrNoPRD
	}
	if err != nil {
		return "", fmt.Errorf("read PRD for backup: %w", err)
	}

	backupDir := filepath.Join(s.projectDir, BackupDirName)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := "prd_" + time.Now().Format("2006-01-02_15-04-05")
	path := filepath.Join(backupDir, name)
	if err := filelock.Replace(path, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if err := filelock.Replace(filepath.Join(backupDir, "prd_latest"), data); err != nil {
		return "", fmt.Errorf("write latest backup: %w", err)
	}

	if err := s.pruneBackups(backupDir); err != nil {
		return "", err
	}

	return path, nil
}

// ListBackups returns backup names, newest first, excluding prd_latest.
func (s *Store) ListBackups() ([]string, error) {
	backupDir := filepath.Join(s.projectDir, BackupDirName)
	entries, err := os.ReadDir(backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "prd_latest" || !strings.HasPrefix(e.Name(), "prd_") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// RestoreFromBackup replaces the PRD with the named backup's content.
func (s *Store) RestoreFromBackup(name string) error {
	if strings.Contains(name, string(filepath.Separator)) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name %q", name)
	}

	path := filepath.Join(s.projectDir, BackupDirName, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", name, err)
	}

	var prd models.PRD
	if err := json.Unmarshal(data, &prd); err != nil {
		return fmt.Errorf("backup %s is not a valid PRD: %w", name, err)
	}

	return filelock.ReplaceLocked(s.PRDPath(), data)
}

func (s *Store) pruneBackups(backupDir string) error {
	names, err := s.ListBackups()
	if err != nil {
		return err
	}
	for _, name := range namesPast(names, BackupRetention) {
		if err := os.Remove(filepath.Join(backupDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune backup %s: %w", name, err)
		}
	}
	return nil
}

// namesPast returns the names beyond the newest keep entries.
func namesPast(newestFirst []string, keep int) []string {
	if len(newestFirst) <= keep {
		return nil
	}
	return newestFirst[keep:]
}

// Archive copies the completed PRD into the archive directory.
func (s *Store) Archive() (string, error) {
	data, err := os.ReadFile(s.PRDPath())
	if err != nil {
		return "", fmt.Errorf("read PRD for archive: %w", err)
	}

	archiveDir := filepath.Join(s.projectDir, ArchiveDirName)
	name := time.Now().Format("20060102-150405") + "_completed_prd"
	path := filepath.Join(archiveDir, name)
	if err := filelock.Replace(path, data); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	return path, nil
}

// LoadProgress reads the progress file, returning an empty record when
// none exists.
func (s *Store) LoadProgress() (*models.ExecutionProgress, error) {
	data, err := os.ReadFile(s.ProgressPath())
	if os.IsNotExist(err) {
		return &models.ExecutionProgress{StartedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var progress models.ExecutionProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return &progress, nil
}

// SaveProgress writes the progress file atomically.
func (s *Store) SaveProgress(progress *models.ExecutionProgress) error {
	progress.LastUpdated = time.Now()
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	data = append(data, '\n')
	if err := filelock.ReplaceLocked(s.ProgressPath(), data); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}
