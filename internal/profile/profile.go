package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, openrouter, ollama) use the same config.
	LLMProvider string // Provider identifier
	LLMAPIKey   string // Unified LLM API key
	LLMBaseURL  string // Unified LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: gpt-4o, deepseek-chat, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Speech configuration. Synthesis and transcription go through the same
	// OpenAI-compatible endpoint as the LLM unless overridden.
	SpeechModel     string // TTS model (default: tts-1)
	TranscribeModel string // STT model (default: whisper-1)
	SpeechEnabled   bool

	// Default persona for coaching replies.
	DefaultPersona string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for the LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("REPNOTE_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("REPNOTE_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("REPNOTE_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("REPNOTE_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("REPNOTE_AI_LLM_TIMEOUT_SECONDS", 120)

	p.SpeechModel = getEnvOrDefault("REPNOTE_AI_SPEECH_MODEL", "tts-1")
	p.TranscribeModel = getEnvOrDefault("REPNOTE_AI_TRANSCRIBE_MODEL", "whisper-1")
	p.SpeechEnabled = getEnvOrDefault("REPNOTE_AI_SPEECH_ENABLED", "true") == "true"

	p.DefaultPersona = getEnvOrDefault("REPNOTE_DEFAULT_PERSONA", "")

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "repnote")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/repnote"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("repnote_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	return nil
}
