// Package config wraps viper with the storyline configuration
// conventions: a .storyline/config.yaml discovered by walking up from
// the working directory, STORY_ environment overrides, and defaults
// for every flag the CLI reads.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/storyline-app/storyline/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .storyline/config.yaml > ~/.config/story/config.yaml
	// > ~/.storyline/config.yaml.
	configFileSet := false

	if root := FindWorkspaceRoot(); root != "" {
		configPath := filepath.Join(root, ".storyline", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "story", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".storyline", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over config file values.
	// E.g. STORY_JSON, STORY_ACTOR, STORY_DB, STORY_NO_DAEMON.
	v.SetEnvPrefix("STORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("no-daemon", false)
	v.SetDefault("db", "")
	v.SetDefault("actor", "")
	v.SetDefault("workspace", "")
	v.SetDefault("team", "")
	v.SetDefault("page-size", 25)
	v.SetDefault("lock-timeout", "30s")
	v.SetDefault("daemon.log-max-size-mb", 10)
	v.SetDefault("daemon.log-max-backups", 3)
	v.SetDefault("daemon.log-max-age-days", 28)
	v.SetDefault("roles.default", "member")
	v.SetDefault("roles.table", map[string]string{})

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debug.Logf("no config.yaml found; using defaults and environment variables")
	}

	return nil
}

// FindWorkspaceRoot walks up from the working directory looking for a
// .storyline directory. Returns "" when none is found.
func FindWorkspaceRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, ".storyline")); err == nil && info.IsDir() {
			return dir
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringMapString retrieves a map[string]string configuration value
func GetStringMapString(key string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v.GetStringMapString(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// GetActor resolves the identity recorded on mutations.
// Priority chain:
//  1. flagValue (from --actor)
//  2. STORY_ACTOR env var / config.yaml actor field (via viper)
//  3. git config user.name
//  4. hostname
func GetActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if actor := GetString("actor"); actor != "" {
		return actor
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
