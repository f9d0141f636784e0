package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	// Company is the subject every pipeline researches, e.g. "Microsoft".
	Company string `mapstructure:"company"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LLMConfig contains the completion/embedding provider settings.
type LLMConfig struct {
	Provider string `mapstructure:"provider"` // only "openai" is shipped
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	// ChatModel answers questions inside pipelines; RoutingModel drives the
	// controller/grader/report calls (the original setup used a stronger
	// model for routing than for answering).
	ChatModel      string        `mapstructure:"chat_model"`
	RoutingModel   string        `mapstructure:"routing_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Encoding       string        `mapstructure:"encoding"` // tokenizer encoding name
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key required (or ROUNDTABLE_LLM_API_KEY)")
	}
	if strings.TrimSpace(l.ChatModel) == "" {
		return fmt.Errorf("llm.chat_model required")
	}
	return nil
}

// SearchConfig contains web search source settings.
type SearchConfig struct {
	// Primary and Secondary name the two sources aggregated per query,
	// in that order. Supported: "brave", "serper".
	Primary      string        `mapstructure:"primary"`
	Secondary    string        `mapstructure:"secondary"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// FetchTop is how many top primary hits get rendered with the headless
	// fetcher to enrich the search context. 0 disables fetching.
	FetchTop int `mapstructure:"fetch_top"`
}

// RetrievalConfig controls the document corpus and similarity retrieval.
type RetrievalConfig struct {
	DocsDir           string `mapstructure:"docs_dir"`
	SnapshotPath      string `mapstructure:"snapshot_path"`
	TopK              int    `mapstructure:"top_k"`
	ContextTokenLimit int    `mapstructure:"context_token_limit"`
	ChunkTokens       int    `mapstructure:"chunk_tokens"`
	ChunkOverlap      int    `mapstructure:"chunk_overlap"`
	// Hybrid fuses BM25 hits with vector hits via reciprocal rank fusion
	// instead of using cosine similarity alone.
	Hybrid        bool `mapstructure:"hybrid"`
	IngestWorkers int  `mapstructure:"ingest_workers"`
}

// Normalize applies the deployment defaults for unset retrieval values.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 50
	}
	if r.ContextTokenLimit <= 0 {
		r.ContextTokenLimit = 3000
	}
	if r.ChunkTokens <= 0 {
		r.ChunkTokens = 256
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkTokens {
		r.ChunkOverlap = 20
	}
	if r.IngestWorkers <= 0 {
		r.IngestWorkers = 4
	}
	return r
}

// MarketDataConfig locates the quote table for the tabular pipeline.
type MarketDataConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	Symbol  string `mapstructure:"symbol"`
}

// BudgetConfig bounds the work one question may spend.
type BudgetConfig struct {
	// Units is the root allowance per question; every pipeline launch
	// consumes PipelineCost units from it.
	Units        float64       `mapstructure:"units"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PipelineCost float64       `mapstructure:"pipeline_cost"`
	// MaxIterations > 1 lets the filter send the loop back to routing.
	MaxIterations int `mapstructure:"max_iterations"`
}

func (b BudgetConfig) Normalize() BudgetConfig {
	if b.Units <= 0 {
		b.Units = 600
	}
	if b.PipelineCost <= 0 {
		b.PipelineCost = 1
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = 1
	}
	return b
}

// EngineConfig selects the routing/scoring/selection policies.
type EngineConfig struct {
	Controller string `mapstructure:"controller"` // "baseline" or "llm"
	Evaluator  string `mapstructure:"evaluator"`  // "heuristic" or "llm"
	Filter     string `mapstructure:"filter"`     // "top", "threshold" or "report"
	// Threshold is on the controller's 0-10 routing scale; the threshold
	// filter applies it divided by 10 against normalized candidate scores.
	Threshold     float64 `mapstructure:"threshold"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	HistoryTurns  int     `mapstructure:"history_turns"`
}

func (e EngineConfig) Normalize() EngineConfig {
	if e.Controller == "" {
		e.Controller = "baseline"
	}
	if e.Evaluator == "" {
		e.Evaluator = "heuristic"
	}
	if e.Filter == "" {
		e.Filter = "top"
	}
	if e.MaxConcurrent <= 0 {
		e.MaxConcurrent = 3
	}
	if e.HistoryTurns <= 0 {
		e.HistoryTurns = 4
	}
	return e
}

func (e EngineConfig) Validate() error {
	switch e.Controller {
	case "baseline", "llm":
	default:
		return fmt.Errorf("engine.controller must be baseline or llm, got %q", e.Controller)
	}
	switch e.Evaluator {
	case "heuristic", "llm":
	default:
		return fmt.Errorf("engine.evaluator must be heuristic or llm, got %q", e.Evaluator)
	}
	switch e.Filter {
	case "top", "threshold", "report":
	default:
		return fmt.Errorf("engine.filter must be top, threshold or report, got %q", e.Filter)
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// HistoryTTL bounds how long conversation turns are kept.
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a postgres URL from the individual fields when url is unset.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from file, with ROUNDTABLE_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.company", "Microsoft")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("server.allow_origins", []string{"*"})
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.routing_model", "gpt-4o")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.encoding", "cl100k_base")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("search.primary", "brave")
	viper.SetDefault("search.secondary", "serper")
	viper.SetDefault("search.max_results", 8)
	viper.SetDefault("search.timeout", "15s")
	viper.SetDefault("retrieval.top_k", 50)
	viper.SetDefault("retrieval.context_token_limit", 3000)
	viper.SetDefault("retrieval.chunk_tokens", 256)
	viper.SetDefault("retrieval.chunk_overlap", 20)
	viper.SetDefault("budget.units", 600)
	viper.SetDefault("budget.pipeline_cost", 1)
	viper.SetDefault("budget.max_iterations", 1)
	viper.SetDefault("engine.controller", "baseline")
	viper.SetDefault("engine.evaluator", "heuristic")
	viper.SetDefault("engine.filter", "top")
	viper.SetDefault("engine.threshold", 5)
	viper.SetDefault("engine.max_concurrent", 3)
	viper.SetDefault("engine.history_turns", 4)
	viper.SetDefault("storage.redis.history_ttl", "168h")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ROUNDTABLE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Retrieval = config.Retrieval.Normalize()
	config.Budget = config.Budget.Normalize()
	config.Engine = config.Engine.Normalize()

	if err := config.Engine.Validate(); err != nil {
		panic(err)
	}
	return &config
}
