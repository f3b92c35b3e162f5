// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional per-environment overlay

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from well-known environment variables when
// the YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	if len(cfg.AI.APIKeys) == 0 {
		if val := os.Getenv("AI_API_KEYS"); val != "" {
			cfg.AI.APIKeys = splitList(val)
		} else if val := os.Getenv("GEMINI_API_KEY"); val != "" {
			cfg.AI.APIKeys = []string{val}
		}
	}

	if cfg.Messenger.PageAccessToken == "" {
		cfg.Messenger.PageAccessToken = os.Getenv("MESSENGER_PAGE_ACCESS_TOKEN")
	}
	if cfg.Messenger.VerifyToken == "" {
		cfg.Messenger.VerifyToken = os.Getenv("MESSENGER_VERIFY_TOKEN")
	}
	if cfg.Messenger.AppSecret == "" {
		cfg.Messenger.AppSecret = os.Getenv("MESSENGER_APP_SECRET")
	}

	if cfg.Carrier.Username == "" {
		cfg.Carrier.Username = os.Getenv("CARRIER_USERNAME")
	}
	if cfg.Carrier.Password == "" {
		cfg.Carrier.Password = os.Getenv("CARRIER_PASSWORD")
	}

	if cfg.Sheets.CredentialsFile == "" {
		cfg.Sheets.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shopdesk"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.ArchiveIndex == "" {
		cfg.Database.Elasticsearch.ArchiveIndex = "conversations"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	applyAIDefaults(&cfg.AI)

	if cfg.Messenger.GraphBaseURL == "" {
		cfg.Messenger.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.Messenger.APIVersion == "" {
		cfg.Messenger.APIVersion = "v19.0"
	}
	if cfg.Messenger.Timeout == 0 {
		cfg.Messenger.Timeout = 10000
	}

	if cfg.Carrier.Timeout == 0 {
		cfg.Carrier.Timeout = 15000
	}

	if cfg.Sheets.OrdersRange == "" {
		cfg.Sheets.OrdersRange = "Orders!A:H"
	}

	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "ap-southeast-1"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}
}

func applyAIDefaults(ai *AIConfig) {
	if ai.Provider == "" {
		ai.Provider = "gemini"
	}
	if ai.Model == "" {
		ai.Model = "gemini-2.5-flash"
	}
	if ai.Timeout == 0 {
		ai.Timeout = 30000
	}
	if ai.Retry.MaxRetries == 0 {
		ai.Retry.MaxRetries = 3
	}
	if ai.Retry.InitialDelay == 0 {
		ai.Retry.InitialDelay = 1000
	}
	if ai.Prompt.TrainingPairs == 0 {
		ai.Prompt.TrainingPairs = 10
	}
	if ai.Prompt.Products == 0 {
		ai.Prompt.Products = 20
	}
	if ai.Prompt.HistoryTurns == 0 {
		ai.Prompt.HistoryTurns = 5
	}

	an := &ai.Analyzer
	defaultValue(&an.BaseConfidence, 0.8)
	defaultValue(&an.MinLength, 10)
	defaultValue(&an.MaxLength, 500)
	defaultValue(&an.ShortPenalty, 0.2)
	defaultValue(&an.LongPenalty, 0.1)
	defaultValue(&an.UncertaintyPenalty, 0.2)
}

func defaultValue[T any](field **T, v T) {
	if *field == nil {
		*field = &v
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	switch cfg.AI.Provider {
	case "gemini", "openai", "mock":
	default:
		return fmt.Errorf("ai.provider must be one of gemini, openai, mock (got %q)", cfg.AI.Provider)
	}

	an := cfg.AI.Analyzer
	if an.BaseConfidence != nil && (*an.BaseConfidence < 0 || *an.BaseConfidence > 1) {
		return fmt.Errorf("ai.analyzer.base_confidence must be within [0,1]")
	}
	for name, penalty := range map[string]*float64{
		"short_penalty":       an.ShortPenalty,
		"long_penalty":        an.LongPenalty,
		"uncertainty_penalty": an.UncertaintyPenalty,
	} {
		if penalty != nil && (*penalty < 0 || *penalty > 1) {
			return fmt.Errorf("ai.analyzer.%s must be within [0,1]", name)
		}
	}
	if an.MinLength != nil && an.MaxLength != nil && *an.MinLength > *an.MaxLength {
		return fmt.Errorf("ai.analyzer.min_length must not exceed max_length")
	}

	if cfg.Sheets.Enabled && cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required when sheets sync is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}
