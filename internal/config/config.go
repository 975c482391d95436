// Package config loads and validates the storage manager's runtime configuration.
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SortKey selects the ordering a folder's directory index is kept in.
type SortKey string

const (
	SortByModTime SortKey = "mtime"
	SortByName    SortKey = "filename"
)

// Config is the complete, validated runtime configuration for one device handle.
type Config struct {
	MountPath         string        `mapstructure:"mount_path"`
	AutoDeleteEnabled bool          `mapstructure:"auto_delete_enabled"`
	FreeLowKiB        int64         `mapstructure:"free_low_kib"`
	FreeHighKiB       int64         `mapstructure:"free_high_kib"`
	Folders           []FolderAttr  `mapstructure:"folders"`
	Audit             AuditConfig   `mapstructure:"audit"`
	Logging           LoggingConfig `mapstructure:"logging"`
}

// FolderAttr configures one application-defined subdirectory under MountPath.
type FolderAttr struct {
	RelativePath string  `mapstructure:"relative_path"`
	SortKey      SortKey `mapstructure:"sort_key"`
	LimitIsCount bool    `mapstructure:"limit_is_count"`
	LimitValue   int     `mapstructure:"limit_value"`
}

// AuditConfig holds settings for the deletion/lifecycle audit log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging-related settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file path, falling back to the
// built-in search path and defaults when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cardkeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/cardkeeper")
		v.AddConfigPath("$HOME/.config/cardkeeper")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("mount_path", def.MountPath)
	v.SetDefault("auto_delete_enabled", def.AutoDeleteEnabled)
	v.SetDefault("free_low_kib", def.FreeLowKiB)
	v.SetDefault("free_high_kib", def.FreeHighKiB)
	v.SetDefault("audit.path", def.Audit.Path)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	folders := make([]map[string]any, 0, len(def.Folders))
	for _, f := range def.Folders {
		folders = append(folders, map[string]any{
			"relative_path":  f.RelativePath,
			"sort_key":       string(f.SortKey),
			"limit_is_count": f.LimitIsCount,
			"limit_value":    f.LimitValue,
		})
	}
	v.SetDefault("folders", folders)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MountPath == "" {
		return fmt.Errorf("mount_path is required")
	}

	if c.FreeLowKiB < 0 || c.FreeHighKiB < 0 {
		return fmt.Errorf("free_low_kib and free_high_kib must be non-negative")
	}

	if c.FreeLowKiB >= c.FreeHighKiB {
		return fmt.Errorf("free_low_kib (%d) must be less than free_high_kib (%d)", c.FreeLowKiB, c.FreeHighKiB)
	}

	seen := make(map[string]bool, len(c.Folders))
	for i, f := range c.Folders {
		if f.RelativePath == "" {
			return fmt.Errorf("folders[%d].relative_path is required", i)
		}
		if seen[f.RelativePath] {
			return fmt.Errorf("folders[%d].relative_path %q is duplicated", i, f.RelativePath)
		}
		seen[f.RelativePath] = true

		if f.SortKey != SortByModTime && f.SortKey != SortByName {
			return fmt.Errorf("folders[%d].sort_key must be %q or %q", i, SortByModTime, SortByName)
		}
		if f.LimitValue < 0 {
			return fmt.Errorf("folders[%d].limit_value must be non-negative", i)
		}
	}

	return nil
}

// Default returns the built-in default configuration, matching the storage
// manager's original no-config-supplied behavior: /mnt/sdcard, auto-delete on,
// a 500-1000 MiB hysteresis band, and two filename-sorted video folders each
// capped at a 50% space share.
func Default() *Config {
	return &Config{
		MountPath:         "/mnt/sdcard",
		AutoDeleteEnabled: true,
		FreeLowKiB:        500 * 1024,
		FreeHighKiB:       1000 * 1024,
		Folders: []FolderAttr{
			{RelativePath: "video_front/", SortKey: SortByName, LimitIsCount: false, LimitValue: 50},
			{RelativePath: "video_back/", SortKey: SortByName, LimitIsCount: false, LimitValue: 50},
		},
		Audit: AuditConfig{
			Path: "/var/lib/cardkeeper/audit.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Mutable is the subset of Config the retention loop owns at runtime and that
// a config reload is allowed to change: hysteresis thresholds and the
// auto-delete toggle. Folder attributes and the mount path are immutable
// after the first Load.
type Mutable struct {
	AutoDeleteEnabled bool
	FreeLowKiB        int64
	FreeHighKiB       int64
}

// Watch installs a Viper config-file watch (backed by fsnotify) and invokes
// onChange with the reloaded mutable fields whenever the file changes on
// disk. A reload that fails to decode or to pass Validate is dropped
// without calling onChange. Folder attributes and the mount path are never
// forwarded, so a change to those in the file takes effect only after a
// restart, matching the "immutable after init" invariant on Configuration.
func Watch(path string, onChange func(Mutable)) error {
	if path == "" {
		return fmt.Errorf("watch requires an explicit config path")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			return
		}
		onChange(Mutable{
			AutoDeleteEnabled: cfg.AutoDeleteEnabled,
			FreeLowKiB:        cfg.FreeLowKiB,
			FreeHighKiB:       cfg.FreeHighKiB,
		})
	})
	v.WatchConfig()

	return nil
}
