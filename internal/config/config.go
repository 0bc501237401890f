package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jira-reporter/internal/jira"
	"jira-reporter/internal/logstore"
	"jira-reporter/internal/reporter"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Jira     jira.Config
	Reporter reporter.Config
	Logstore logstore.Config

	KibanaURL      string
	AnemometerURL  string
	PushgatewayURL string

	// LookbackPeriod is the window every source query covers.
	LookbackPeriod time.Duration
	// ReportInterval paces successive ticket creations.
	ReportInterval time.Duration

	// ConfigDir holds fields.yaml and the classifier tables.
	ConfigDir string
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Try to load from the executable's directory
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory (useful for development/go run)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	cfg := &AppConfig{
		Jira: jira.Config{
			BaseURL:      getEnv("JIRA_URL", ""),
			User:         getEnv("JIRA_USER", ""),
			Token:        getEnv("JIRA_TOKEN", ""),
			RequestDelay: time.Duration(getEnvInt("JIRA_REQUEST_DELAY_MS", 250)) * time.Millisecond,
		},
		Reporter: reporter.Config{
			Project:             getEnv("JIRA_PROJECT", "ER"),
			UniqueIDField:       getEnv("JIRA_FIELD_UNIQUE_ID", "customfield_13200"),
			URLField:            getEnv("JIRA_FIELD_URL", "customfield_11405"),
			LastSeenField:       getEnv("JIRA_FIELD_LAST_SEEN", "customfield_16900"),
			ReopenAfterDays:     getEnvInt("JIRA_REOPEN_AFTER_DAYS", 14),
			ReopenTransition:    getEnv("JIRA_REOPEN_TRANSITION", "Reopen"),
			ExcludedResolutions: getEnvList("JIRA_EXCLUDED_RESOLUTIONS", []string{"Won't Fix", "Duplicate", "Won't Do", "Cannot Reproduce"}),
			SuppressedProjects:  getEnvList("JIRA_SUPPRESSED_PROJECTS", nil),
		},
		Logstore: logstore.Config{
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			User:     getEnv("ELASTICSEARCH_USER", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		KibanaURL:      getEnv("KIBANA_URL", ""),
		AnemometerURL:  getEnv("ANEMOMETER_URL", ""),
		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
		ConfigDir:      getEnv("CONFIG_DIR", "config"),
	}

	if cfg.LookbackPeriod, err = getEnvDuration("LOOKBACK_PERIOD", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReportInterval, err = getEnvDuration("REPORT_INTERVAL", time.Second); err != nil {
		return nil, err
	}

	fields, err := LoadFields(filepath.Join(cfg.ConfigDir, "fields.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Reporter.Fields = fields

	return cfg, nil
}

// Validate checks the settings a check run cannot do without. Jira and
// Elasticsearch are optional in dry runs.
func (c *AppConfig) Validate(dryRun bool) error {
	var problems []string
	if !dryRun && c.Jira.BaseURL == "" {
		problems = append(problems, "JIRA_URL is not set")
	}
	if !dryRun && c.Logstore.URL == "" {
		problems = append(problems, "ELASTICSEARCH_URL is not set")
	}
	if c.Reporter.ReopenAfterDays <= 0 {
		problems = append(problems, "JIRA_REOPEN_AFTER_DAYS must be positive")
	}
	if c.LookbackPeriod <= 0 {
		problems = append(problems, "LOOKBACK_PERIOD must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, ", "))
	}
	return nil
}

// DefaultFields are used when there is no fields.yaml.
func DefaultFields() reporter.Fields {
	return reporter.Fields{
		Default: map[string]any{
			"issuetype": map[string]any{"name": "Defect"},
			"priority":  map[string]any{"id": "8"},
		},
		Projects: map[string]map[string]any{
			"CT": {"issuetype": map[string]any{"name": "Task"}},
		},
	}
}

// LoadFields overlays the ticket fields read from path on DefaultFields, key
// by key. The "default" section applies to every ticket, the other sections
// are keyed by project. A missing file yields DefaultFields.
func LoadFields(path string) (reporter.Fields, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No fields file found, using built-in ticket fields")
		return DefaultFields(), nil
	}
	if err != nil {
		return reporter.Fields{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var sections map[string]map[string]any
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return reporter.Fields{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	fields := DefaultFields()
	for name, section := range sections {
		if name == "default" {
			maps.Copy(fields.Default, section)
			continue
		}
		if fields.Projects[name] == nil {
			fields.Projects[name] = make(map[string]any, len(section))
		}
		maps.Copy(fields.Projects[name], section)
	}
	log.Debug().Str("path", path).Int("projects", len(fields.Projects)).Msg("Loaded ticket fields")
	return fields, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-numeric setting")
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

// getEnvList splits a comma separated setting. An empty value gives an empty list.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
