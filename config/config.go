package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	ArchiveZip    = "zip"
	ArchiveTarLZ4 = "tar.lz4"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Port              int           `mapstructure:"port"`
	Host              string        `mapstructure:"host"`
	UploadBaseDir     string        `mapstructure:"upload_base_dir"`
	AutoStop          bool          `mapstructure:"auto_stop"`
	GraceDelay        time.Duration `mapstructure:"grace_delay"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size"`
	TokenBytes        int           `mapstructure:"token_bytes"`
	ArchiveFormat     string        `mapstructure:"archive_format"`
	HistoryPath       string        `mapstructure:"history_path"`
	Debug             bool          `mapstructure:"debug"`
}

// LoadConfig reads dhara.yaml from path, then DHARA_* environment
// variables. A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("dhara")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("dhara")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 3000)
	v.SetDefault("host", "")
	v.SetDefault("upload_base_dir", "")
	v.SetDefault("auto_stop", true)
	v.SetDefault("grace_delay", time.Second)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("read_header_timeout", 10*time.Second)
	v.SetDefault("max_upload_size", 0)
	v.SetDefault("token_bytes", 4)
	v.SetDefault("archive_format", ArchiveZip)
	v.SetDefault("history_path", defaultHistoryPath())
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.Debugf("No config file in %s, using defaults", path)
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return &appConfig, nil
}

func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.TokenBytes < 4 {
		return fmt.Errorf("token_bytes must be at least 4, got %d", c.TokenBytes)
	}
	switch c.ArchiveFormat {
	case ArchiveZip, ArchiveTarLZ4:
	default:
		return fmt.Errorf("unknown archive_format %q", c.ArchiveFormat)
	}
	if c.GraceDelay < 0 || c.ShutdownTimeout < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}

// UploadDir returns the base directory for upload sessions, defaulting
// to the working directory.
func (c *AppConfig) UploadDir() (string, error) {
	if c.UploadBaseDir != "" {
		return filepath.Abs(c.UploadBaseDir)
	}
	return os.Getwd()
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dhara", "history")
}
