package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvAddr      = "VQA_BUILDER_ADDR"
	EnvAssistURL = "VQA_BUILDER_ASSIST_URL"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Display    DisplayConfig    `json:"display" yaml:"display"`
	Annotation AnnotationConfig `json:"annotation" yaml:"annotation"`
	Dataset    DatasetConfig    `json:"dataset" yaml:"dataset"`
	Assist     AssistConfig     `json:"assist" yaml:"assist"`
}

// ServerConfig holds configuration for the HTTP adapter
type ServerConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Debug    bool   `json:"debug" yaml:"debug"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DisplayConfig holds the display bound and bitmap encoding
type DisplayConfig struct {
	MaxWidth  int    `json:"max_width" yaml:"max_width"`
	MaxHeight int    `json:"max_height" yaml:"max_height"`
	Format    string `json:"format" yaml:"format"`
	Quality   int    `json:"quality" yaml:"quality"`
	// MaxDownloadMB bounds remote images opened by URL
	MaxDownloadMB int `json:"max_download_mb" yaml:"max_download_mb"`
}

// AnnotationConfig holds configuration for box drawing
type AnnotationConfig struct {
	MinBoxSize    float64 `json:"min_box_size" yaml:"min_box_size"`
	MapToOriginal bool    `json:"map_to_original" yaml:"map_to_original"`
}

// DatasetConfig holds configuration for the dataset file
type DatasetConfig struct {
	DefaultFile string `json:"default_file" yaml:"default_file"`
}

// AssistConfig selects the optional vision model backend
type AssistConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	URL         string `json:"url" yaml:"url"`
	Model       string `json:"model" yaml:"model"`
	SendSize    int    `json:"send_size" yaml:"send_size"`
	SendQuality int    `json:"send_quality" yaml:"send_quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			Debug:    false,
			LogLevel: "info",
		},
		Display: DisplayConfig{
			MaxWidth:      800,
			MaxHeight:     600,
			Format:        "png",
			Quality:       90,
			MaxDownloadMB: 50,
		},
		Annotation: AnnotationConfig{
			MinBoxSize:    5,
			MapToOriginal: false,
		},
		Assist: AssistConfig{
			Backend:     "",
			Model:       "openbmb/minicpm-v4.5",
			SendSize:    1536,
			SendQuality: 85,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvAssistURL); v != "" {
		c.Assist.URL = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("server.log_level %q is not a known level", c.Server.LogLevel)
	}

	if c.Display.MaxWidth < 1 || c.Display.MaxHeight < 1 {
		return fmt.Errorf("display.max_width and display.max_height must be positive")
	}

	switch strings.ToLower(c.Display.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("display.format must be png, jpg or webp")
	}

	if c.Display.Quality < 1 || c.Display.Quality > 100 {
		return fmt.Errorf("display.quality must be between 1 and 100")
	}

	if c.Display.MaxDownloadMB < 1 {
		return fmt.Errorf("display.max_download_mb must be positive")
	}

	if c.Annotation.MinBoxSize <= 0 {
		return fmt.Errorf("annotation.min_box_size must be positive")
	}

	switch c.Assist.Backend {
	case "", "none", "ollama", "llamacpp":
	default:
		return fmt.Errorf("assist.backend must be ollama, llamacpp or empty")
	}

	if c.Assist.SendQuality < 1 || c.Assist.SendQuality > 100 {
		return fmt.Errorf("assist.send_quality must be between 1 and 100")
	}

	if c.Assist.SendSize < 0 {
		return fmt.Errorf("assist.send_size cannot be negative")
	}

	return nil
}

// AssistEnabled reports whether a vision backend is configured
func (c *Config) AssistEnabled() bool {
	return c.Assist.Backend != "" && c.Assist.Backend != "none"
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "vqa-builder", "config.json")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
