package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Directories DirectoriesConfig `yaml:"directories"`
	Diarizer    DiarizerConfig    `yaml:"diarizer"`
	Whisper     WhisperConfig     `yaml:"whisper"`
	Assignment  AssignmentConfig  `yaml:"assignment"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	GoogleDrive GoogleDriveConfig `yaml:"google_drive"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
}

// DirectoriesConfig locates the on-disk pipeline state.
type DirectoriesConfig struct {
	Input    string `yaml:"input"`
	Sessions string `yaml:"sessions"`
	Archive  string `yaml:"archive"`
	Corpus   string `yaml:"corpus"`
	Scratch  string `yaml:"scratch"`
}

// DiarizerConfig configures the external diarization model invocation.
type DiarizerConfig struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	TokenEnv          string   `yaml:"token_env"`
	MinSegmentSeconds float64  `yaml:"min_segment_seconds"`
}

// WhisperConfig configures the external speech-to-text model invocation.
type WhisperConfig struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// AssignmentConfig tunes the human review step.
type AssignmentConfig struct {
	SamplesPerSpeaker int `yaml:"samples_per_speaker"`
}

// CorpusConfig tunes corpus aggregation. Sentinels are identity strings that
// mark low-quality groups (e.g. "unclear"); Aliases declares operator-known
// equivalences between identity spellings (alias -> canonical name).
type CorpusConfig struct {
	MinTotalSeconds float64           `yaml:"min_total_seconds"`
	Sentinels       []string          `yaml:"sentinels"`
	Aliases         map[string]string `yaml:"aliases"`
}

// StorageConfig locates the session index database.
type StorageConfig struct {
	Database string `yaml:"database"`
}

// ServerConfig configures the review API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GoogleDriveConfig configures optional transcript export. Export is disabled
// when the credentials file is absent.
type GoogleDriveConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderName      string `yaml:"folder_name"`
}

// CleanupConfig tunes the scratch directory janitor.
type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	MaxAgeHours     int `yaml:"max_age_hours"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Directories: DirectoriesConfig{
			Input:    "audio_in",
			Sessions: "sessions",
			Archive:  "audio_processed",
			Corpus:   "corpus",
			Scratch:  "scratch",
		},
		Diarizer: DiarizerConfig{
			Command:           "pyannote-diarize",
			TokenEnv:          "HUGGINGFACE_TOKEN",
			MinSegmentSeconds: 1.0,
		},
		Whisper: WhisperConfig{
			Model:    "small",
			Language: "en",
		},
		Assignment: AssignmentConfig{
			SamplesPerSpeaker: 3,
		},
		Corpus: CorpusConfig{
			MinTotalSeconds: 30,
			Sentinels:       []string{"unclear", "mixed", "unknown"},
		},
		Storage: StorageConfig{
			Database: "sessions/index.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 30,
			MaxAgeHours:     24,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values. Directory existence is
// checked separately by EnsureDirectories since serve/organize runs may
// legitimately start before the input queue exists.
func (c *Config) Validate() error {
	if c.Directories.Input == "" {
		return fmt.Errorf("directories.input must not be empty")
	}
	if c.Directories.Sessions == "" {
		return fmt.Errorf("directories.sessions must not be empty")
	}
	if c.Directories.Archive == "" {
		return fmt.Errorf("directories.archive must not be empty")
	}
	if c.Directories.Corpus == "" {
		return fmt.Errorf("directories.corpus must not be empty")
	}
	if c.Diarizer.Command == "" {
		return fmt.Errorf("diarizer.command must not be empty")
	}
	if c.Diarizer.MinSegmentSeconds <= 0 {
		return fmt.Errorf("diarizer.min_segment_seconds must be > 0, got %v", c.Diarizer.MinSegmentSeconds)
	}
	if c.Whisper.Model == "" {
		return fmt.Errorf("whisper.model must not be empty")
	}
	if c.Assignment.SamplesPerSpeaker <= 0 {
		return fmt.Errorf("assignment.samples_per_speaker must be > 0, got %d", c.Assignment.SamplesPerSpeaker)
	}
	if c.Corpus.MinTotalSeconds < 0 {
		return fmt.Errorf("corpus.min_total_seconds must not be negative, got %v", c.Corpus.MinTotalSeconds)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}

// RequireToken fails fast when the diarizer's access token is not set,
// before any session is touched.
func (c *Config) RequireToken() (string, error) {
	if c.Diarizer.TokenEnv == "" {
		return "", nil
	}
	token := os.Getenv(c.Diarizer.TokenEnv)
	if token == "" {
		return "", fmt.Errorf("%s environment variable not set", c.Diarizer.TokenEnv)
	}
	return token, nil
}

// EnsureDirectories creates the writable pipeline directories and verifies
// the input queue exists. A missing queue is a configuration error.
func (c *Config) EnsureDirectories() error {
	if fi, err := os.Stat(c.Directories.Input); err != nil || !fi.IsDir() {
		return fmt.Errorf("input directory %q not found", c.Directories.Input)
	}
	for _, dir := range []string{c.Directories.Sessions, c.Directories.Archive, c.Directories.Corpus, c.Directories.Scratch} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %q: %w", dir, err)
		}
	}
	return nil
}
