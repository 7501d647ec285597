package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AppName is used for the config directory under os.UserConfigDir().
const AppName = "blender-fetcher"

const configFilename = "config.toml"

// Default returns a Config populated with default values. A fresh UUID is
// generated so every install gets a stable instance identifier.
func Default() models.Config {
	homeDir, _ := os.UserHomeDir()
	return models.Config{
		DownloadPath:    filepath.Join(homeDir, "blender", "blender-build"),
		VersionCutoff:   "4.0",
		FetchTimeoutSec: 20,
		HistoryPath:     filepath.Join(homeDir, "blender", "blender-build", ".history"),
		UUID:            uuid.New().String(),
	}
}

// Path returns the full path to the config file.
func Path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(configDir, AppName, configFilename), nil
}

// Load reads the configuration from path, falling back to the default
// location when path is empty. A missing file is not an error: defaults are
// returned and persisted so the next run finds a config file.
func Load(path string) (models.Config, error) {
	var err error
	if path == "" {
		path, err = Path()
		if err != nil {
			return models.Config{}, err
		}
	}

	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Infof("No config file at %s, creating one with defaults", path)
		if saveErr := Save(cfg, path); saveErr != nil {
			log.WithError(saveErr).Warn("Could not write default config file")
		}
		return cfg, nil
	} else if err != nil {
		return models.Config{}, fmt.Errorf("could not stat config file %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", path, err)
	}

	cfg.DownloadPath = expandHome(cfg.DownloadPath)
	cfg.HistoryPath = expandHome(cfg.HistoryPath)
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(cfg.DownloadPath, ".history")
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = 20
	}

	// Older config files predate the uuid field.
	if cfg.UUID == "" {
		cfg.UUID = uuid.New().String()
		if saveErr := Save(cfg, path); saveErr != nil {
			log.WithError(saveErr).Warn("Could not persist generated instance id")
		}
	}

	log.Debugf("Configuration loaded from %s", path)
	return cfg, nil
}

// Save writes the configuration to path, creating the parent directory.
func Save(cfg models.Config, path string) error {
	var err error
	if path == "" {
		path, err = Path()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create config file %s: %w", path, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("could not encode config to %s: %w", path, err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
