// Package config loads darch's own tool configuration: the paths and
// policy knobs the build engine needs before it ever looks at a user's
// declarative system configuration (packages, files, services — see the
// manifest package for that).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds darch's tool-level configuration.
type Config struct {
	// Paths
	ImagePath   string // root of the btrfs filesystem (@images, @var, @home)
	LockPath    string
	ESPPath     string // mounted EFI system partition, for the boot-menu file
	GrubCfgPath string
	CachePath   string // host package-manager cache, bind-mounted into builds
	LedgerPath  string // bbolt build-history database
	LogsPath    string // per-run log files (log.Logger)

	// btrfs / boot-menu identity
	BtrfsUUID string
	ESPUUID   string

	// External tools (invoked via the process runner)
	PackageManager  string // "pacman"
	BootstrapTool   string // "pacstrap"
	InitramfsTool   string // "mkinitcpio"
	BootloaderTool  string // "grub-install"
	LocaleGenTool   string // "locale-gen"

	// Garbage collection policy
	KeepMin    int
	KeepMax    int
	MinAge     time.Duration
	MaxAge     time.Duration

	Profile string
}

// Default returns the built-in defaults, used when no config file is found
// and as the base that a file or profile section overrides.
func Default() *Config {
	return &Config{
		ImagePath:      "/",
		LockPath:       "/var/lock/darch.lock",
		ESPPath:        "/efi",
		GrubCfgPath:    "/efi/grub/grub.cfg",
		CachePath:      "/var/cache/pacman/pkg",
		LedgerPath:     "/var/lib/darch/ledger.db",
		LogsPath:       "/var/log/darch",
		PackageManager: "pacman",
		BootstrapTool:  "pacstrap",
		InitramfsTool:  "mkinitcpio",
		BootloaderTool: "grub-install",
		LocaleGenTool:  "locale-gen",
		KeepMin:        3,
		KeepMax:        10,
		MinAge:         7 * 24 * time.Hour,
		MaxAge:         30 * 24 * time.Hour,
	}
}

// Load reads darch.ini (if present) and layers it over Default(). profile
// selects an optional "[profile-name]" section whose keys override the
// "[default]"/un-sectioned ones; an empty profile only reads the
// unsectioned keys.
//
// A missing config file is not an error: Load returns the defaults.
func Load(path, profile string) (*Config, error) {
	cfg := Default()
	cfg.Profile = profile

	if path == "" {
		path = "/etc/darch/darch.ini"
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applySection(cfg, file.Section(ini.DefaultSection))
	if profile != "" {
		if file.HasSection(profile) {
			applySection(cfg, file.Section(profile))
		}
	}

	return cfg, nil
}

func applySection(cfg *Config, sec *ini.Section) {
	strField := func(key string, dst *string) {
		if sec.HasKey(key) {
			*dst = sec.Key(key).String()
		}
	}
	intField := func(key string, dst *int) {
		if sec.HasKey(key) {
			if v, err := sec.Key(key).Int(); err == nil {
				*dst = v
			}
		}
	}
	daysField := func(key string, dst *time.Duration) {
		if sec.HasKey(key) {
			if v, err := sec.Key(key).Int(); err == nil {
				*dst = time.Duration(v) * 24 * time.Hour
			}
		}
	}

	strField("image_path", &cfg.ImagePath)
	strField("lock_path", &cfg.LockPath)
	strField("esp_path", &cfg.ESPPath)
	strField("grub_cfg_path", &cfg.GrubCfgPath)
	strField("cache_path", &cfg.CachePath)
	strField("ledger_path", &cfg.LedgerPath)
	strField("logs_path", &cfg.LogsPath)
	strField("btrfs_uuid", &cfg.BtrfsUUID)
	strField("esp_uuid", &cfg.ESPUUID)
	strField("package_manager", &cfg.PackageManager)
	strField("bootstrap_tool", &cfg.BootstrapTool)
	strField("initramfs_tool", &cfg.InitramfsTool)
	strField("bootloader_tool", &cfg.BootloaderTool)
	strField("locale_gen_tool", &cfg.LocaleGenTool)

	intField("keep_min", &cfg.KeepMin)
	intField("keep_max", &cfg.KeepMax)
	daysField("min_age_days", &cfg.MinAge)
	daysField("max_age_days", &cfg.MaxAge)
}

// Validate checks that the configuration is internally consistent enough
// to attempt a build. It does not touch the filesystem beyond stat calls.
func (c *Config) Validate() error {
	if c.ImagePath == "" {
		return fmt.Errorf("config: image_path is not configured")
	}
	if info, err := os.Stat(c.ImagePath); err != nil {
		return fmt.Errorf("config: image_path %s: %w", c.ImagePath, err)
	} else if !info.IsDir() {
		return fmt.Errorf("config: image_path %s is not a directory", c.ImagePath)
	}
	if c.KeepMin < 0 {
		return fmt.Errorf("config: keep_min must be >= 0")
	}
	if c.KeepMax < c.KeepMin {
		return fmt.Errorf("config: keep_max (%d) must be >= keep_min (%d)", c.KeepMax, c.KeepMin)
	}
	return nil
}

// ImagesDir is the @images subvolume root holding gen-N subvolumes.
func (c *Config) ImagesDir() string {
	return c.ImagePath + "/@images"
}

// VarDir is the persistent @var subvolume, bind-mounted into each build.
func (c *Config) VarDir() string {
	return c.ImagePath + "/@var"
}

// HomeDir is the persistent @home subvolume.
func (c *Config) HomeDir() string {
	return c.ImagePath + "/@home"
}
