package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources       []Feed        `yaml:"sources"`
	Fetch         Fetch         `yaml:"fetch"`
	Images        Images        `yaml:"images"`
	Summarization Summarization `yaml:"summarization"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

// Feed is a seed entry for the source registry.
type Feed struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

type Fetch struct {
	Interval      Duration `yaml:"interval"`
	Concurrency   int      `yaml:"concurrency"`
	Timeout       Duration `yaml:"timeout"`
	SlowThreshold Duration `yaml:"slow_threshold"`
	MaxPerFeed    int      `yaml:"max_per_feed"`
	UserAgent     string   `yaml:"user_agent"`
}

type Images struct {
	PlaceholderURL string   `yaml:"placeholder_url"`
	BrandLookupURL string   `yaml:"brand_lookup_url"`
	BrandTimeout   Duration `yaml:"brand_timeout"`
	ExtractPages   bool     `yaml:"extract_pages"`
}

type Summarization struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	OllamaURL         string   `yaml:"ollama_url"`
	OpenAIModel       string   `yaml:"openai_model"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	GroqAPIKeyEnv     string   `yaml:"groq_api_key_env"`
	MaxTokens         int      `yaml:"max_tokens"`
	ChunkSize         int      `yaml:"chunk_size"`
	ChunkOverlap      int      `yaml:"chunk_overlap"`
	Concurrency       int      `yaml:"concurrency"`
	RateLimitBackoff  Duration `yaml:"rate_limit_backoff"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`

	// EmbeddingModel is the Ollama model behind semantic search. Empty
	// disables search.
	EmbeddingModel string `yaml:"embedding_model"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from strings like "12m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ConfigDir returns the XDG config directory for feedwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "feedwatch")
}

// DataDir returns the XDG data directory for feedwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "feedwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/feedwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'feedwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with every default applied and no seed sources.
func Default() *Config {
	return &Config{
		Fetch: Fetch{
			Interval:      Duration{12 * time.Minute},
			Concurrency:   10,
			Timeout:       Duration{10 * time.Second},
			SlowThreshold: Duration{5 * time.Second},
			MaxPerFeed:    20,
			UserAgent:     "feedwatch/1.0 (news aggregator)",
		},
		Images: Images{
			PlaceholderURL: "https://placehold.co/600x400?text=No+Image",
			BrandLookupURL: "https://logo.clearbit.com/%s",
			BrandTimeout:   Duration{5 * time.Second},
			ExtractPages:   true,
		},
		Summarization: Summarization{
			Provider:         "ollama",
			Model:            "qwen2.5:7b",
			OllamaURL:        "http://localhost:11434",
			OpenAIModel:      "gpt-4o-mini",
			APIKeyEnv:        "OPENAI_API_KEY",
			GroqAPIKeyEnv:    "GROQ_API_KEY",
			MaxTokens:        1024,
			ChunkSize:        1000,
			ChunkOverlap:     0,
			Concurrency:      4,
			RateLimitBackoff: Duration{15 * time.Second},
			EmbeddingModel:   "nomic-embed-text",
		},
		Server:  Server{Port: 8090},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if c.Fetch.Interval.Duration <= 0 {
		return fmt.Errorf("fetch.interval must be positive")
	}
	if c.Summarization.ChunkSize < 1 {
		return fmt.Errorf("summarization.chunk_size must be at least 1, got %d", c.Summarization.ChunkSize)
	}
	if c.Summarization.ChunkOverlap < 0 || c.Summarization.ChunkOverlap >= c.Summarization.ChunkSize {
		return fmt.Errorf("summarization.chunk_overlap must be in [0, chunk_size), got %d", c.Summarization.ChunkOverlap)
	}
	if c.Summarization.Concurrency < 1 {
		return fmt.Errorf("summarization.concurrency must be at least 1, got %d", c.Summarization.Concurrency)
	}
	for i, f := range c.Sources {
		if f.URL == "" {
			return fmt.Errorf("sources[%d]: url is required", i)
		}
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
