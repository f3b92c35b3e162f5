// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	AI            AIConfig                `mapstructure:"ai"`
	Messenger     MessengerConfig         `mapstructure:"messenger"`
	Carrier       CarrierConfig           `mapstructure:"carrier"`
	Sheets        SheetsConfig            `mapstructure:"sheets"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	ArchiveIndex string   `mapstructure:"archive_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- AI assistant ---

// AIConfig drives the auto-reply pipeline: which provider to call, the
// credential pool, prompt caps and the confidence policy.
type AIConfig struct {
	Provider        string   `mapstructure:"provider"` // gemini | openai | mock
	Model           string   `mapstructure:"model"`
	BaseURL         string   `mapstructure:"base_url"` // empty uses the provider's public endpoint
	APIKeys         []string `mapstructure:"api_keys"`
	Timeout         int      `mapstructure:"timeout"` // milliseconds
	ThinkingBudget  int      `mapstructure:"thinking_budget"`
	FallbackMessage string   `mapstructure:"fallback_message"`
	// ClassifyTraining lets the crawl-training worker ask the model (JSON
	// mode) for a category when the keyword rules do not match.
	ClassifyTraining bool `mapstructure:"classify_training"`

	Retry    AIRetryConfig    `mapstructure:"retry"`
	Prompt   AIPromptConfig   `mapstructure:"prompt"`
	Analyzer AIAnalyzerConfig `mapstructure:"analyzer"`
	Shop     ShopInfoConfig   `mapstructure:"shop"`
}

type AIRetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxRetries   int  `mapstructure:"max_retries"`
	InitialDelay int  `mapstructure:"initial_delay"` // milliseconds
}

type AIPromptConfig struct {
	TrainingPairs int               `mapstructure:"training_pairs"`
	Products      int               `mapstructure:"products"`
	HistoryTurns  int               `mapstructure:"history_turns"`
	Glossary      map[string]string `mapstructure:"glossary"`
}

// AIAnalyzerConfig fields are pointers so an explicit 0 (e.g. a disabled
// penalty) is distinguishable from an omitted key.
type AIAnalyzerConfig struct {
	BaseConfidence     *float64 `mapstructure:"base_confidence"`
	MinLength          *int     `mapstructure:"min_length"`
	MaxLength          *int     `mapstructure:"max_length"`
	ShortPenalty       *float64 `mapstructure:"short_penalty"`
	LongPenalty        *float64 `mapstructure:"long_penalty"`
	UncertaintyPenalty *float64 `mapstructure:"uncertainty_penalty"`
	UncertaintyPattern string   `mapstructure:"uncertainty_pattern"`
}

type ShopInfoConfig struct {
	Name    string `mapstructure:"name"`
	Hotline string `mapstructure:"hotline"`
	Address string `mapstructure:"address"`
	Hours   string `mapstructure:"hours"`
	Policy  string `mapstructure:"policy"`
}

// --- Integrations ---

type MessengerConfig struct {
	GraphBaseURL    string `mapstructure:"graph_base_url"`
	APIVersion      string `mapstructure:"api_version"`
	PageID          string `mapstructure:"page_id"`
	PageAccessToken string `mapstructure:"page_access_token"`
	VerifyToken     string `mapstructure:"verify_token"`
	AppSecret       string `mapstructure:"app_secret"`
	// SkipSignature accepts unsigned webhook deliveries. Local development
	// only; without it an empty app_secret rejects every delivery.
	SkipSignature bool `mapstructure:"skip_signature"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
}

type CarrierConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ShopID   string `mapstructure:"shop_id"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type SheetsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	OrdersRange     string `mapstructure:"orders_range"`
}

// NotificationConfig holds the staff alerting settings used on handoff.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled    bool     `mapstructure:"enabled"`
		FromEmail  string   `mapstructure:"from_email"`
		Recipients []string `mapstructure:"recipients"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled    bool     `mapstructure:"enabled"`
		Recipients []string `mapstructure:"recipients"`
		SenderID   string   `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
