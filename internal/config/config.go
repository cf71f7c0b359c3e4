// Package config loads server configuration from the environment, with a
// .env file picked up for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Generator backends selectable via VOICE_GENERATOR_BACKEND.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port string

	// Audio handed to the recognizer. LINEAR16 PCM throughout; the
	// byte rate derives from the sample rate at 2 bytes per sample.
	SampleRate int
	Encoding   string
	Language   string

	// Recognition model when the session does not pick one.
	DefaultTranscriptionModel string

	// Silence window bounds. Session requests outside the bounds are
	// clamped, not rejected.
	MinPhraseTimeout     time.Duration
	MaxPhraseTimeout     time.Duration
	DefaultPhraseTimeout time.Duration

	GeneratorBackend string
	GeminiModel      string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIAPIKey     string
	SystemPrompt     string
	OpeningPrompt    string

	// Directory for finished session transcripts.
	ArchiveDir string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		SampleRate:                16000,
		Encoding:                  getEnv("VOICE_AUDIO_ENCODING", "LINEAR16"),
		Language:                  getEnv("VOICE_LANGUAGE", "en-US"),
		DefaultTranscriptionModel: getEnv("VOICE_TRANSCRIPTION_MODEL", "latest_short"),
		GeneratorBackend:          getEnv("VOICE_GENERATOR_BACKEND", BackendGemini),
		GeminiModel:               getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIBaseURL:             getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		SystemPrompt:              getEnv("VOICE_SYSTEM_PROMPT", defaultSystemPrompt),
		OpeningPrompt:             getEnv("VOICE_OPENING_PROMPT", ""),
		ArchiveDir:                getEnv("VOICE_ARCHIVE_DIR", "transcripts"),
	}

	var err error
	if cfg.SampleRate, err = getEnvInt("VOICE_SAMPLE_RATE", 16000); err != nil {
		return nil, err
	}
	if cfg.MinPhraseTimeout, err = getEnvSeconds("VOICE_MIN_PHRASE_TIMEOUT", 1*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxPhraseTimeout, err = getEnvSeconds("VOICE_MAX_PHRASE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DefaultPhraseTimeout, err = getEnvSeconds("VOICE_PHRASE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("VOICE_SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}
	if cfg.MinPhraseTimeout <= 0 || cfg.MaxPhraseTimeout < cfg.MinPhraseTimeout {
		return nil, fmt.Errorf("phrase timeout bounds are invalid: min %s, max %s",
			cfg.MinPhraseTimeout, cfg.MaxPhraseTimeout)
	}

	switch cfg.GeneratorBackend {
	case BackendGemini, BackendOpenAI, BackendMock:
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.GeneratorBackend)
	}

	return cfg, nil
}

// BytesPerSecond is the PCM byte rate for the configured audio format.
func (c *Config) BytesPerSecond() int {
	return c.SampleRate * 2
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

const defaultSystemPrompt = "You are a patient tutor practicing the Socratic method. " +
	"Respond to the student with short, probing questions that guide them toward " +
	"their own answer instead of stating it outright."
