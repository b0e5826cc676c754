package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"habitsync/internal/remote"
	"habitsync/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	_ "embed"
)

var configOnce sync.Once

var globalConfig *Config

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "habitsync"
	CONFIG_FILE_PATH = "config.yaml"
	ENV_FILE_PATH    = ".env"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0644
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Remote   *remote.Config `yaml:"remote,omitempty" json:"remote,omitempty"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Device   DeviceConfig   `yaml:"device" json:"device"`
	UI       UIConfig       `yaml:"ui" json:"ui"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SyncConfig controls when syncs run
type SyncConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	AutoSync    bool          `yaml:"auto_sync" json:"auto_sync"`
	SyncOnStart bool          `yaml:"sync_on_start" json:"sync_on_start"`
	Interval    time.Duration `yaml:"interval" json:"interval" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

type DeviceConfig struct {
	Name      string `yaml:"name" json:"name" validate:"max=64"`
	Simulated bool   `yaml:"simulated" json:"simulated"`
}

type UIConfig struct {
	Color      bool   `yaml:"color" json:"color"`
	DateFormat string `yaml:"date_format,omitempty" json:"date_format,omitempty"`
}

// Defaults returns the values used for keys missing from the file
func Defaults() Config {
	return Config{
		Sync: SyncConfig{
			AutoSync:    true,
			SyncOnStart: true,
			Interval:    15 * time.Minute,
			Timeout:     2 * time.Minute,
		},
		UI: UIConfig{Color: true, DateFormat: "2006-01-02"},
	}
}

func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Remote != nil {
		if err := remote.ValidateFileID(c.Remote.FileID); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
	}

	if c.Sync.Enabled && c.Remote == nil {
		return utils.ErrInvalidConfig("sync.enabled", "sync is enabled but no remote is configured")
	}
	if c.Sync.AutoSync && c.Sync.Interval > 0 && c.Sync.Interval < time.Minute {
		return utils.ErrInvalidConfig("sync.interval", "must be at least 1m")
	}

	return nil
}

// SyncEnabled reports whether a remote is configured and switched on
func (c *Config) SyncEnabled() bool {
	return c.Sync.Enabled && c.Remote != nil
}

func (c *Config) GetDateFormat() string {
	if c.UI.DateFormat == "" {
		return "2006-01-02"
	}
	return c.UI.DateFormat
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is empty or ".", it uses "./habitsync/config.yaml" (current directory).
// If path is a directory, it looks for "config.yaml" inside it.
// This must be called before GetConfig() is called for the first time.
func SetCustomConfigPath(path string) {
	if path == "" || path == "." {
		customConfigPath = filepath.Join(".", CONFIG_DIR_PATH, CONFIG_FILE_PATH)
		return
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
	} else {
		customConfigPath = path
	}
}

// GetConfig loads the configuration once per process, creating it from
// the sample on first run
func GetConfig() *Config {
	configOnce.Do(func() {
		configPath, err := GetConfigPath()
		if err != nil {
			log.Fatal(err)
		}
		config, err := LoadConfig(configPath)
		if err != nil {
			log.Fatal(err)
		}
		globalConfig = config
	})
	return globalConfig
}

// LoadConfig reads the file at configPath. A missing file is created from
// the sample. A .env file next to it is loaded into the environment
// without overriding variables that are already set.
func LoadConfig(configPath string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(configPath), ENV_FILE_PATH)
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Warnf("Failed to load %s: %v", envPath, err)
	}

	configData, err := configDataFromPath(configPath)
	if err != nil {
		return nil, err
	}
	return parseConfig(configData, configPath)
}

func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return customConfigPath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

func createConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM)
}

func WriteConfigFile(configPath string, data []byte) error {
	if err := createConfigDir(configPath); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(configPath, data, CONFIG_FILE_PERM)
}

// Save writes c to configPath
func Save(c *Config, configPath string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return WriteConfigFile(configPath, buf.Bytes())
}

func configDataFromPath(configPath string) ([]byte, error) {
	data, err := os.ReadFile(configPath)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	if err := WriteConfigFile(configPath, sampleConfig); err != nil {
		return nil, fmt.Errorf("failed to create config from sample: %w", err)
	}
	utils.Infof("Created config file %s", configPath)
	return sampleConfig, nil
}

func parseConfig(configData []byte, configPath string) (*Config, error) {
	configObj := Defaults()
	if err := yaml.Unmarshal(configData, &configObj); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file %s: %w", configPath, err)
	}

	if configObj.Database.Path != "" {
		expanded, err := utils.ResolvePath(configObj.Database.Path, filepath.Dir(configPath))
		if err != nil {
			return nil, fmt.Errorf("database.path: %w", err)
		}
		configObj.Database.Path = expanded
	}

	if err := configObj.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return &configObj, nil
}
