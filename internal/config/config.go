package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"gopkg.in/yaml.v3"
)

const (
	PathEnv    = "INSPECTA_CONFIG"
	DataDirEnv = "INSPECTA_DATA_DIR"
	GroqKeyEnv = "GROQ_API_KEY"
	OpenAIEnv  = "OPENAI_API_KEY"
	FileName   = "config.yaml"
)

const (
	ProviderGroq    = "groq"
	ProviderOpenAI  = "openai"
	ProviderWhisper = "whisper"
)

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Transcription struct {
	// Provider is groq, openai or whisper (local whisper.cpp).
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// WhisperModel is the ggml model file for the whisper provider.
	WhisperModel string `yaml:"whisper_model"`

	Language  string `yaml:"language"`
	Prompt    string `yaml:"prompt"`
	Translate bool   `yaml:"translate"`

	MaxChunkBytes        int64         `yaml:"max_chunk_bytes"`
	Overlap              time.Duration `yaml:"overlap"`
	Concurrency          int           `yaml:"concurrency"`
	RequestsPerMinute    int           `yaml:"requests_per_minute"`
	SkipSilence          bool          `yaml:"skip_silence"`
	SilenceThresholdDBFS float64       `yaml:"silence_threshold_dbfs"`
}

type Tasks struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type Tools struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
}

type Node struct {
	workflow.RetryPolicy `yaml:",inline"`
	Timeout              time.Duration `yaml:"timeout"`
}

type Config struct {
	DataDir       string          `yaml:"data_dir"`
	Log           Log             `yaml:"log"`
	Transcription Transcription   `yaml:"transcription"`
	Tasks         Tasks           `yaml:"tasks"`
	Tools         Tools           `yaml:"tools"`
	// Nodes tunes workflow nodes by name. A node listed in the file replaces
	// its default settings as a whole.
	Nodes         map[string]Node `yaml:"nodes"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `yaml:"-"`
}

func Default() Config {
	retry := workflow.RetryPolicy{MaxAttempts: 3, BackoffBase: 2}
	return Config{
		Log: Log{Level: "info"},
		Transcription: Transcription{
			Provider:             ProviderGroq,
			Model:                "whisper-large-v3",
			MaxChunkBytes:        25 * 1024 * 1024,
			Overlap:              5 * time.Second,
			Concurrency:          4,
			SkipSilence:          true,
			SilenceThresholdDBFS: -50,
		},
		Tasks: Tasks{Model: "gpt-4o-mini"},
		Tools: Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		Nodes: map[string]Node{
			"extract_audio":  {RetryPolicy: retry, Timeout: 30 * time.Minute},
			"transcribe":     {RetryPolicy: retry, Timeout: time.Hour},
			"generate_tasks": {RetryPolicy: retry, Timeout: 5 * time.Minute},
		},
	}
}

// Load reads the config file at path, or the one named by INSPECTA_CONFIG,
// or config.yaml in dataDir when it exists, over Default(). Environment
// overrides are applied last.
func Load(path, dataDir string) (Config, error) {
	return load(path, dataDir, os.Getenv)
}

func load(path, dataDir string, getenv func(string) string) (Config, error) {
	cfg := Default()

	required := true
	if path == "" {
		path = strings.TrimSpace(getenv(PathEnv))
	}
	if path == "" && dataDir != "" {
		path = filepath.Join(dataDir, FileName)
		required = false
	}

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			dec := yaml.NewDecoder(f)
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.Source = path
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("open config: %w", err)
		}
	}

	applyEnv(&cfg, getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if dir := strings.TrimSpace(getenv(DataDirEnv)); dir != "" {
		cfg.DataDir = dir
	}

	openAI := strings.TrimSpace(getenv(OpenAIEnv))
	if cfg.Tasks.APIKey == "" {
		cfg.Tasks.APIKey = openAI
	}
	if cfg.Transcription.APIKey == "" {
		switch cfg.Transcription.Provider {
		case ProviderGroq:
			cfg.Transcription.APIKey = strings.TrimSpace(getenv(GroqKeyEnv))
		case ProviderOpenAI:
			cfg.Transcription.APIKey = openAI
		}
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	t := c.Transcription
	switch t.Provider {
	case ProviderGroq, ProviderOpenAI:
	case ProviderWhisper:
		if t.WhisperModel == "" {
			errs = append(errs, errors.New("transcription.whisper_model is required for the whisper provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription.provider must be groq, openai or whisper, got %q", t.Provider))
	}
	if t.MaxChunkBytes <= 0 {
		errs = append(errs, errors.New("transcription.max_chunk_bytes must be positive"))
	}
	if t.Overlap < 0 {
		errs = append(errs, errors.New("transcription.overlap must not be negative"))
	}
	if t.Concurrency < 1 {
		errs = append(errs, errors.New("transcription.concurrency must be at least 1"))
	}
	if t.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("transcription.requests_per_minute must not be negative"))
	}

	for name, n := range c.Nodes {
		if n.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("nodes.%s.max_attempts must be at least 1", name))
		}
		if n.BackoffBase < 0 {
			errs = append(errs, fmt.Errorf("nodes.%s.backoff_base must not be negative", name))
		}
		if n.Timeout < 0 {
			errs = append(errs, fmt.Errorf("nodes.%s.timeout must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// RequireKeys checks the credentials the remote providers need.
func (c Config) RequireKeys() error {
	var errs []error
	if c.Transcription.Provider != ProviderWhisper && c.Transcription.APIKey == "" {
		env := GroqKeyEnv
		if c.Transcription.Provider == ProviderOpenAI {
			env = OpenAIEnv
		}
		errs = append(errs, fmt.Errorf("no %s transcription key: set %s or transcription.api_key", c.Transcription.Provider, env))
	}
	if c.Tasks.APIKey == "" {
		errs = append(errs, fmt.Errorf("no task generation key: set %s or tasks.api_key", OpenAIEnv))
	}
	return errors.Join(errs...)
}
