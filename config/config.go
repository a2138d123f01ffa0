package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider families understood by the relay.
const (
	FamilyOpenAI   = "openai"
	FamilyDeepgram = "deepgram"
	FamilyGemini   = "gemini"
)

// ModelSpec names one configured backend: a stable platform id plus the
// provider family that owns it.
type ModelSpec struct {
	ID     string
	Family string
}

// Config holds all server configuration. Credentials are read once at
// startup and passed down as opaque values.
type Config struct {
	Port           int
	StaticDir      string
	AllowedOrigins []string

	OpenAIKey   string
	DeepgramKey string
	GeminiKey   string

	OpenAIModels   []string
	DeepgramModels []string
	GeminiModels   []string

	MaxSessions    int
	SessionTimeout time.Duration

	RedisURL      string
	RedisPassword string

	LogLevel string
}

// Reference deployment model set, matching the comparison UI columns.
var (
	defaultOpenAIModels   = []string{"gpt-4o-mini-transcribe", "gpt-4o-transcribe"}
	defaultDeepgramModels = []string{"deepgram-nova-2", "deepgram-nova-3"}
)

// Load reads configuration from environment variables with defaults.
// A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Port:           3001,
		AllowedOrigins: []string{"*"},
		MaxSessions:    100,
		SessionTimeout: 30 * time.Minute,
		RedisURL:       "localhost:6379",
		LogLevel:       "info",
	}

	config.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	config.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
	config.GeminiKey = os.Getenv("GEMINI_API_KEY")
	if config.OpenAIKey == "" && config.DeepgramKey == "" && config.GeminiKey == "" {
		return nil, fmt.Errorf("at least one of OPENAI_API_KEY, DEEPGRAM_API_KEY or GEMINI_API_KEY is required")
	}

	if config.OpenAIKey != "" {
		config.OpenAIModels = defaultOpenAIModels
	}
	if config.DeepgramKey != "" {
		config.DeepgramModels = defaultDeepgramModels
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		config.StaticDir = dir
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if models := os.Getenv("OPENAI_MODELS"); models != "" {
		config.OpenAIModels = splitModels(models)
	}
	if models := os.Getenv("DEEPGRAM_MODELS"); models != "" {
		config.DeepgramModels = splitModels(models)
	}
	if models := os.Getenv("GEMINI_MODELS"); models != "" {
		config.GeminiModels = splitModels(models)
	}

	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// SESSION_TIMEOUT is in minutes.
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d out of range", c.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}
	for _, id := range c.DeepgramModels {
		if !strings.HasPrefix(id, "deepgram-") {
			return fmt.Errorf("invalid DEEPGRAM_MODELS: %q must carry the deepgram- prefix", id)
		}
	}
	if len(c.ModelSpecs()) == 0 {
		return fmt.Errorf("no transcription models configured")
	}
	return nil
}

// ModelSpecs returns the ordered, statically configured set of backends the
// relay opens for every client session. A family appears only when its
// credential is present.
func (c *Config) ModelSpecs() []ModelSpec {
	var specs []ModelSpec
	if c.OpenAIKey != "" {
		for _, id := range c.OpenAIModels {
			specs = append(specs, ModelSpec{ID: id, Family: FamilyOpenAI})
		}
	}
	if c.DeepgramKey != "" {
		for _, id := range c.DeepgramModels {
			specs = append(specs, ModelSpec{ID: id, Family: FamilyDeepgram})
		}
	}
	if c.GeminiKey != "" {
		for _, id := range c.GeminiModels {
			specs = append(specs, ModelSpec{ID: id, Family: FamilyGemini})
		}
	}
	return specs
}

func splitModels(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
