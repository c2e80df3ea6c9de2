// Package conf handles the application configuration: the Settings
// structure, viper-based loading from config files and environment
// variables, defaults, and validation.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MainSettings contains general application settings.
type MainSettings struct {
	Name string // application instance name used in logs
	Log  LogSettings
}

// LogSettings describes the main application log file.
type LogSettings struct {
	Enabled bool   // true to write a rotating log file
	Path    string // path to the log file
	Level   string // trace, debug, info, warn, error
}

// PlayerSettings identifies the player whose replays are analyzed.
type PlayerSettings struct {
	Identifier string // username or numeric user id
	LookupKey  string // "username" or "id"
}

// PathSettings groups the filesystem locations the scanner works with.
type PathSettings struct {
	GameDir    string // osu! installation directory (contains Songs/ and Replays/)
	CacheDir   string // JSON cache documents live here
	MapsDir    string // downloaded .osu files
	ResultsDir string // CSV output directory
}

// APISettings configures the osu! web API client.
type APISettings struct {
	BaseURL                 string
	ClientID                string
	ClientSecret            string
	RequestsPerMinute       int
	PublicRequestsPerMinute int
	RetryCount              int
	RetryDelay              time.Duration
	DownloadTimeout         time.Duration
	PageSize                int // top-score page size
	BatchSize               int // beatmap batch fetch size
}

// AnalysisSettings tunes the scan itself.
type AnalysisSettings struct {
	CutoffDate       int64 // Unix seconds; scores at or after this instant are excluded
	IncludeUnranked  bool
	ResolveMissing   bool // resolve and download beatmaps absent locally
	ParseWorkers     int
	RecomputeWorkers int
	HashWorkers      int
	TopLimit         int
}

// OutputSettings configures the persistent store and CSV outputs.
type OutputSettings struct {
	DatabasePath string
	CSVDir       string
}

// PerformanceSettings configures the external performance calculator.
type PerformanceSettings struct {
	CalculatorCommand string
	CalculatorArgs    []string
}

// Settings is the root configuration structure.
type Settings struct {
	Main        MainSettings
	Player      PlayerSettings
	Paths       PathSettings
	API         APISettings
	Analysis    AnalysisSettings
	Output      OutputSettings
	Performance PerformanceSettings
}

var settingsMutex sync.RWMutex

// Load reads the configuration from disk into a Settings value,
// creating a default config file if none exists.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

func initViper() error {
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetConfigName("config")
	viper.SetEnvPrefix("LOSTSCORES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		configPath, createErr := createDefaultConfig()
		if createErr != nil {
			return createErr
		}
		log.Printf("Created default config file at: %s", configPath)
		return viper.ReadInConfig()
	}

	return nil
}

// GetDefaultConfigPaths returns the list of directories searched for
// config.yaml, in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user directory: %w", err)
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "lostscores"),
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configPaths = append(configPaths, filepath.Join(xdg, "lostscores"))
	}

	return configPaths, nil
}

func createDefaultConfig() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	settings := map[string]any{}
	for _, key := range viper.AllKeys() {
		parts := strings.Split(key, ".")
		node := settings
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = viper.Get(key)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return "", fmt.Errorf("error writing default config file: %w", err)
	}

	return configPath, nil
}

// SongsDir returns the beatmap directory under the configured game dir.
func (s *Settings) SongsDir() string {
	return filepath.Join(s.Paths.GameDir, "Songs")
}

// ReplaysDir returns the replay directory under the configured game dir.
func (s *Settings) ReplaysDir() string {
	return filepath.Join(s.Paths.GameDir, "Replays")
}
