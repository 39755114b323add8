package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// DataDir holds the SQLite database (default: "data")
	DataDir string `yaml:"data_dir"`

	// OutputDir is where transcoded files are written.
	// If empty, output goes next to the first source recording.
	OutputDir string `yaml:"output_dir"`

	// ManifestDir is where concat manifests for merge jobs are staged.
	// If empty, manifests go next to the first source recording.
	ManifestDir string `yaml:"manifest_dir"`

	// Workers is the number of concurrent ffmpeg processes (default 2, max 8)
	Workers int `yaml:"workers"`

	// QueueSize caps the number of queued jobs waiting for a worker (0 = unbounded)
	QueueSize int `yaml:"queue_size"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"log_format"`

	// Port is the HTTP listen port
	Port int `yaml:"port"`

	// EventHistory is how many notifications are kept for SSE replay
	EventHistory int `yaml:"event_history"`

	// PersistAttempts is how many times a terminal job update is tried
	PersistAttempts int `yaml:"persist_attempts"`

	// PersistBackoff is the base delay between terminal update attempts
	PersistBackoff time.Duration `yaml:"persist_backoff"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "data",
		Workers:         2,
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		LogLevel:        "info",
		LogFormat:       "text",
		Port:            8080,
		EventHistory:    500,
		PersistAttempts: 3,
		PersistBackoff:  200 * time.Millisecond,
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = def.FFprobePath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.EventHistory <= 0 {
		c.EventHistory = def.EventHistory
	}
	if c.PersistAttempts < 1 {
		c.PersistAttempts = def.PersistAttempts
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = def.PersistBackoff
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.Workers < 1 {
		c.Workers = def.Workers
	}
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DBPath returns the SQLite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "clipshrink.db")
}
