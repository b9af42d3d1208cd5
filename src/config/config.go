package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

const (
	APIKeyPathEnvVar = "OPENAI_API_KEY_FILE"
	ConfigPathEnvVar = "PAGE_OCR_TRANSLATE"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-1.5-flash"
)

type LoadOptions struct {
	APIKeyPathOverride string
	StoreDSNOverride   string
}

type Config struct {
	// APIKey seeds the persisted credential when none is stored yet.
	APIKey              string
	APIKeyPath          string
	Provider            string
	Model               string
	BaseURL             string
	TargetLanguage      language.Tag
	OCRLanguage         string
	TessdataPrefix      string
	StoreDriver         string
	StoreDSN            string
	AutosaveInterval    time.Duration
	SurfaceReadyTimeout time.Duration
	EnableFileLogging   bool
	HTTPAddr            string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) .env next to the executable
	// 2) the file named by PAGE_OCR_TRANSLATE
	// Process env always wins over .env values (godotenv.Load never overrides).
	if envPath := resolveEnvPath(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	target, err := language.Parse(getEnvWithDefault("TARGET_LANGUAGE", "en"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_LANGUAGE: %w", err)
	}

	provider := resolveProvider(os.Getenv("TRANSLATE_PROVIDER"))
	model := strings.TrimSpace(os.Getenv("MODEL"))
	if model == "" {
		model = defaultModel(provider)
	}

	driver := resolveStoreDriver(os.Getenv("STORE_DRIVER"))
	dsn := strings.TrimSpace(os.Getenv("STORE_DSN"))
	if override := strings.TrimSpace(opts.StoreDSNOverride); override != "" {
		dsn = override
	}
	if dsn == "" && driver == StoreSQLite {
		dsn = defaultSQLitePath()
	}
	if dsn == "" && driver == StorePostgres {
		return nil, fmt.Errorf("STORE_DSN is required for the postgres store")
	}

	apiKeyPath := resolveAPIKeyPath(opts)

	cfg := &Config{
		APIKey:              resolveAPIKey(apiKeyPath),
		APIKeyPath:          apiKeyPath,
		Provider:            provider,
		Model:               model,
		BaseURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("TRANSLATE_BASE_URL")), "/"),
		TargetLanguage:      target,
		OCRLanguage:         getEnvWithDefault("OCR_LANGUAGE", "kor"),
		TessdataPrefix:      os.Getenv("TESSDATA_PREFIX"),
		StoreDriver:         driver,
		StoreDSN:            dsn,
		AutosaveInterval:    time.Duration(positiveInt("AUTOSAVE_INTERVAL_SEC", 10)) * time.Second,
		SurfaceReadyTimeout: time.Duration(positiveInt("SURFACE_READY_TIMEOUT_MS", 2000)) * time.Millisecond,
		EnableFileLogging:   strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		HTTPAddr:            getEnvWithDefault("HTTP_ADDR", "127.0.0.1:8765"),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(ConfigPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func resolveAPIKeyPath(opts LoadOptions) string {
	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		return overridePath
	}
	return strings.TrimSpace(os.Getenv(APIKeyPathEnvVar))
}

func resolveAPIKey(keyPath string) string {
	if keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
				return fileKey
			}
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func resolveProvider(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ProviderGemini:
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

func defaultModel(provider string) string {
	if provider == ProviderGemini {
		return defaultGeminiModel
	}
	return defaultOpenAIModel
}

func resolveStoreDriver(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case StorePostgres, "pgx", "postgresql":
		return StorePostgres
	case StoreMemory:
		return StoreMemory
	default:
		return StoreSQLite
	}
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "page-ocr-translate.db"
	}
	return filepath.Join(dir, "page-ocr-translate", "storage.db")
}

func positiveInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
