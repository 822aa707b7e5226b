package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

// MaxRecentProjects bounds the recent-projects list.
const MaxRecentProjects = 10

// ProjectRef identifies an open project.
type ProjectRef struct {
	Path  string `yaml:"path"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
}

// RecentProject is an entry in the recent-projects list.
type RecentProject struct {
	Path         string    `yaml:"path"`
	Name         string    `yaml:"name"`
	Color        string    `yaml:"color,omitempty"`
	Icon         string    `yaml:"icon,omitempty"`
	LastAccessed time.Time `yaml:"last_accessed"`
}

// StatusCache caches the last remote API status probe.
type StatusCache struct {
	Status    string    `yaml:"status"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Settings holds the user-global options.
type Settings struct {
	Theme                 string               `yaml:"theme,omitempty"`
	NotificationSound     bool                 `yaml:"notification_sound"`
	OpenProjects          []ProjectRef         `yaml:"open_projects,omitempty"`
	ActiveProjectPath     string               `yaml:"active_project_path,omitempty"`
	RecentProjects        []RecentProject      `yaml:"recent_projects,omitempty"`
	PreferredCLI          string               `yaml:"preferred_cli,omitempty"`
	CLIFallbackOrder      []string             `yaml:"cli_fallback_order,omitempty"`
	ExecutionMode         models.ExecutionMode `yaml:"execution_mode,omitempty"`
	AnthropicStatusCache  *StatusCache         `yaml:"anthropic_status_cache,omitempty"`
	EnableOpenCodeRouting bool                 `yaml:"enable_opencode_routing"`
}

// DefaultSettings returns the settings used before any file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Theme:             "default",
		NotificationSound: true,
		ExecutionMode:     models.ModeBalanced,
	}
}

// LoadSettings reads the settings file, returning defaults when absent.
func LoadSettings() (*Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if settings.ExecutionMode == "" {
		settings.ExecutionMode = models.ModeBalanced
	}
	return settings, nil
}

// Save persists the settings atomically.
func (s *Settings) Save() error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return filelock.Replace(path, data)
}

// TouchRecent records access to a project, keeping the list sorted by most
// recent and bounded to MaxRecentProjects.
func (s *Settings) TouchRecent(path, name string) {
	now := time.Now()
	for i := range s.RecentProjects {
		if s.RecentProjects[i].Path == path {
			s.RecentProjects[i].LastAccessed = now
			s.RecentProjects[i].Name = name
			s.sortRecent()
			return
		}
	}

	s.RecentProjects = append(s.RecentProjects, RecentProject{
		Path:         path,
		Name:         name,
		LastAccessed: now,
	})
	s.sortRecent()
	if len(s.RecentProjects) > MaxRecentProjects {
		s.RecentProjects = s.RecentProjects[:MaxRecentProjects]
	}
}

func (s *Settings) sortRecent() {
	sort.SliceStable(s.RecentProjects, func(i, j int) bool {
		return s.RecentProjects[i].LastAccessed.After(s.RecentProjects[j].LastAccessed)
	})
}
