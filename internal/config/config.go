package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPReviewQueue string
	AMQPEventsQueue string

	// Logging
	LogLevel  string
	LogFormat string

	// Categorization policy
	ReviewThreshold     float64
	AutoRuleThreshold   float64
	RetirementThreshold float64
	EscalationBatchSize int
	ClassifierTimeout   time.Duration

	// Ingestion
	IngestParallelism int

	// Worker
	VocabRefreshInterval time.Duration

	// Classifier selection
	Classifier    string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	ContextNotes  string

	// Category vocabulary
	CategoriesFile string

	// Google Sheets (category vocabulary)
	GoogleSpreadsheetID      string
	GoogleCategoriesSheet    string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
}

func Load() *Config {
	policy := core.DefaultPolicy()
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		SQLiteDBPath:       getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPReviewQueue: getEnv("AMQP_REVIEW_QUEUE", "review_decisions"),
		AMQPEventsQueue: getEnv("AMQP_EVENTS_QUEUE", "run_events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ReviewThreshold:     getEnvFloat("REVIEW_THRESHOLD", policy.ReviewThreshold),
		AutoRuleThreshold:   getEnvFloat("AUTO_RULE_THRESHOLD", policy.AutoRuleThreshold),
		RetirementThreshold: getEnvFloat("RETIREMENT_THRESHOLD", policy.RetirementThreshold),
		EscalationBatchSize: getEnvInt("ESCALATION_BATCH_SIZE", policy.EscalationBatchSize),
		ClassifierTimeout:   getEnvDuration("CLASSIFIER_TIMEOUT", policy.ClassifierTimeout),

		IngestParallelism: getEnvInt("INGEST_PARALLELISM", 4),

		VocabRefreshInterval: getEnvDuration("VOCAB_REFRESH_INTERVAL", 24*time.Hour),

		Classifier:    getEnv("CLASSIFIER", "keyword"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ContextNotes:  getEnv("CONTEXT_NOTES", ""),

		CategoriesFile: getEnv("CATEGORIES_FILE", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleCategoriesSheet:    getEnv("GOOGLE_CATEGORIES_SHEET", "Categories"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
	}

	return cfg
}

// Policy returns the categorization constants as configured.
func (c *Config) Policy() core.Policy {
	return core.Policy{
		ReviewThreshold:     c.ReviewThreshold,
		AutoRuleThreshold:   c.AutoRuleThreshold,
		RetirementThreshold: c.RetirementThreshold,
		EscalationBatchSize: c.EscalationBatchSize,
		ClassifierTimeout:   c.ClassifierTimeout,
	}
}

// SheetsEnabled reports whether a Google Sheets vocabulary source is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPReviewQueue == "" || c.AMQPEventsQueue == "" {
			errors = append(errors, "AMQP queue names cannot be empty when AMQP URL is provided")
		}
	}

	// Validate logging
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Validate thresholds
	for name, v := range map[string]float64{
		"review threshold":     c.ReviewThreshold,
		"auto-rule threshold":  c.AutoRuleThreshold,
		"retirement threshold": c.RetirementThreshold,
	} {
		if v < 0 || v > 1 {
			errors = append(errors, fmt.Sprintf("invalid %s %v: must be within [0,1]", name, v))
		}
	}
	if c.AutoRuleThreshold < c.ReviewThreshold {
		errors = append(errors, fmt.Sprintf("auto-rule threshold %v must not be below review threshold %v", c.AutoRuleThreshold, c.ReviewThreshold))
	}

	// Validate batching
	if c.EscalationBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid escalation batch size %d: must be at least 1", c.EscalationBatchSize))
	} else if c.EscalationBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid escalation batch size %d: must be at most 1000", c.EscalationBatchSize))
	}
	if c.ClassifierTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid classifier timeout %v: must be at least 1 second", c.ClassifierTimeout))
	} else if c.ClassifierTimeout > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid classifier timeout %v: must be at most 1 hour", c.ClassifierTimeout))
	}
	if c.IngestParallelism < 1 || c.IngestParallelism > 64 {
		errors = append(errors, fmt.Sprintf("invalid ingest parallelism %d: must be between 1 and 64", c.IngestParallelism))
	}
	if c.VocabRefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid vocabulary refresh interval %v: must be at least 1 minute", c.VocabRefreshInterval))
	}

	// Validate classifier selection
	switch c.Classifier {
	case "keyword", "none":
	case "gemini":
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when CLASSIFIER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errors = append(errors, "OPENAI_API_KEY is required when CLASSIFIER=openai")
		}
		if _, err := url.Parse(c.OpenAIBaseURL); err != nil || c.OpenAIBaseURL == "" {
			errors = append(errors, fmt.Sprintf("invalid OpenAI base URL '%s'", c.OpenAIBaseURL))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid classifier '%s': must be one of keyword, gemini, openai, none", c.Classifier))
	}

	// Check the vocabulary file if specified
	if c.CategoriesFile != "" {
		if _, err := os.Stat(c.CategoriesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("categories file does not exist: %s", c.CategoriesFile))
		}
	}

	// Validate Google Sheets configuration if a spreadsheet is set
	if c.SheetsEnabled() {
		if c.GoogleCategoriesSheet == "" {
			errors = append(errors, "Google categories sheet name is required when a spreadsheet ID is set")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		hasJSON := c.GoogleServiceAccountJSON != ""
		if !hasFile && !hasJSON {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for Google Sheets")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
