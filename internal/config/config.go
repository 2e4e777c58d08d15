package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for a harvest run.
type Config struct {
	// Source table columns.
	IDColumn          string `yaml:"id_column"`
	PrimaryURLColumn  string `yaml:"primary_url_column"`
	FallbackURLColumn string `yaml:"fallback_url_column"`
	DownloadedColumn  string `yaml:"downloaded_column"`

	// Paths.
	SourcePath   string `yaml:"source_path"`
	MetadataPath string `yaml:"metadata_path"`
	DownloadDir  string `yaml:"download_dir"`
	OutputDir    string `yaml:"output_dir"`
	StatusFile   string `yaml:"status_file"`
	Extension    string `yaml:"extension"`

	// Download behaviour.
	MaxDownloads       int           `yaml:"max_downloads"`
	Concurrency        int           `yaml:"concurrency"`
	Timeout            time.Duration `yaml:"-"` // parsed from a duration string, see yamlConfig
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	UserAgent          string        `yaml:"user_agent"`

	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig defines where downloaded files are mirrored.
// An empty BucketURL disables mirroring.
type MirrorConfig struct {
	BucketURL string `yaml:"bucket_url"`
	Prefix    string `yaml:"prefix"`
}

// Default returns a Config with the defaults of the reporting corpus.
func Default() Config {
	dataDir := "Data"
	return Config{
		IDColumn:          "BRnum",
		PrimaryURLColumn:  "Pdf_URL",
		FallbackURLColumn: "Report Html Address",
		DownloadedColumn:  "pdf_downloaded",
		SourcePath:        filepath.Join(dataDir, "GRI_2017_2020 (1).xlsx"),
		MetadataPath:      filepath.Join(dataDir, "Metadata2006_2016.xlsx"),
		DownloadDir:       filepath.Join(dataDir, "Downloads"),
		OutputDir:         filepath.Join(dataDir, "Output"),
		StatusFile:        "Download_Status.xlsx",
		Extension:         ".pdf",
		MaxDownloads:      10,
		Concurrency:       5,
		Timeout:           30 * time.Second,
		Mirror: MirrorConfig{
			Prefix: "PDF-Downloader-Uploads/",
		},
	}
}

// StatusPath returns the full path of the status report.
func (c Config) StatusPath() string {
	return filepath.Join(c.OutputDir, c.StatusFile)
}

// MetadataBackupPath returns where the pre-update metadata table is copied,
// e.g. Data/Output/Metadata2006_2016_Backup.xlsx.
func (c Config) MetadataBackupPath() string {
	base := filepath.Base(c.MetadataPath)
	ext := filepath.Ext(base)
	return filepath.Join(c.OutputDir, strings.TrimSuffix(base, ext)+"_Backup"+ext)
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Config  `yaml:",inline"`
	Timeout string `yaml:"timeout"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := yc.Config
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		override.Timeout = d
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HARVEST_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"HARVEST_ID_COLUMN":           &c.IDColumn,
		"HARVEST_PRIMARY_URL_COLUMN":  &c.PrimaryURLColumn,
		"HARVEST_FALLBACK_URL_COLUMN": &c.FallbackURLColumn,
		"HARVEST_SOURCE_PATH":         &c.SourcePath,
		"HARVEST_METADATA_PATH":       &c.MetadataPath,
		"HARVEST_DOWNLOAD_DIR":        &c.DownloadDir,
		"HARVEST_OUTPUT_DIR":          &c.OutputDir,
		"HARVEST_USER_AGENT":          &c.UserAgent,
		"HARVEST_MIRROR_BUCKET":       &c.Mirror.BucketURL,
		"HARVEST_MIRROR_PREFIX":       &c.Mirror.Prefix,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("HARVEST_MAX_DOWNLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HARVEST_MAX_DOWNLOADS: %w", err)
		}
		c.MaxDownloads = n
	}
	if v := os.Getenv("HARVEST_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HARVEST_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("HARVEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HARVEST_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("HARVEST_INSECURE"); v != "" {
		c.InsecureSkipVerify = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.IDColumn == "" {
		return errors.New("config: id column is required")
	}
	if c.PrimaryURLColumn == "" && c.FallbackURLColumn == "" {
		return errors.New("config: at least one URL column is required")
	}
	if c.SourcePath == "" {
		return errors.New("config: source path is required")
	}
	if c.DownloadDir == "" || c.OutputDir == "" {
		return errors.New("config: download and output directories are required")
	}
	if c.MaxDownloads <= 0 {
		return errors.New("config: max_downloads must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	mergeStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	mergeStr(&c.IDColumn, override.IDColumn)
	mergeStr(&c.PrimaryURLColumn, override.PrimaryURLColumn)
	mergeStr(&c.FallbackURLColumn, override.FallbackURLColumn)
	mergeStr(&c.DownloadedColumn, override.DownloadedColumn)
	mergeStr(&c.SourcePath, override.SourcePath)
	mergeStr(&c.MetadataPath, override.MetadataPath)
	mergeStr(&c.DownloadDir, override.DownloadDir)
	mergeStr(&c.OutputDir, override.OutputDir)
	mergeStr(&c.StatusFile, override.StatusFile)
	mergeStr(&c.Extension, override.Extension)
	mergeStr(&c.UserAgent, override.UserAgent)
	mergeStr(&c.Mirror.BucketURL, override.Mirror.BucketURL)
	mergeStr(&c.Mirror.Prefix, override.Mirror.Prefix)

	if override.MaxDownloads != 0 {
		c.MaxDownloads = override.MaxDownloads
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.InsecureSkipVerify {
		c.InsecureSkipVerify = true
	}
	return c
}
