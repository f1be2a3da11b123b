package config

import (
	"fmt"
	"slices"
)

// Config holds the hybridcoord service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Index       IndexConfig       `yaml:"index"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Inference   InferenceConfig   `yaml:"inference"`
	Validation  ValidationConfig  `yaml:"validation"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Routing     RoutingConfig     `yaml:"routing"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	GC          GCConfig          `yaml:"gc"`
	Health      HealthConfig      `yaml:"health"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys means auth is off.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the vector index (Redis 8 / valkey-search) connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// MetadataConfig holds the relational store settings.
type MetadataConfig struct {
	DataDir string `yaml:"data_dir"` // ":memory:" for an ephemeral store
}

// IndexConfig holds HNSW index settings.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding settings. An empty base_url reuses the local inference endpoint.
type EmbeddingConfig struct {
	Provider            string      `yaml:"provider"`
	APIKey              string      `yaml:"api_key"`
	BaseURL             string      `yaml:"base_url"`
	Model               string      `yaml:"model"`
	Dimensions          int         `yaml:"dimensions"`
	DocumentInstruction string      `yaml:"document_instruction"`
	QueryInstruction    string      `yaml:"query_instruction"`
	MaxConcurrent       int         `yaml:"max_concurrent"`
	Cache               CacheConfig `yaml:"cache"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Disabled bool `yaml:"disabled"`
	TTLHours int  `yaml:"ttl_hours"`
}

// InferenceConfig holds both inference backends.
type InferenceConfig struct {
	Local  BackendConfig `yaml:"local"`
	Remote BackendConfig `yaml:"remote"`
}

// BackendConfig holds one OpenAI-compatible inference backend.
type BackendConfig struct {
	BaseURL           string       `yaml:"base_url"`
	APIKey            string       `yaml:"api_key"`
	Model             string       `yaml:"model"`
	TimeoutSec        int          `yaml:"timeout_sec"`
	MaxTokens         int          `yaml:"max_tokens"`
	Temperature       float32      `yaml:"temperature"`
	RequestsPerSecond float64      `yaml:"requests_per_second"` // 0 = unthrottled
	Burst             int          `yaml:"burst"`
	Budget            BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ValidationConfig holds query validator bounds and the collection allow-list.
type ValidationConfig struct {
	Collections       []string `yaml:"collections"`
	DefaultCollection string   `yaml:"default_collection"`
	MaxQueryBytes     int      `yaml:"max_query_bytes"`
	MaxLimit          int      `yaml:"max_limit"`
	MaxOffset         int      `yaml:"max_offset"`
}

// RateLimitConfig holds per-client limits. An unset quota takes its default; an explicit 0
// disables that window.
type RateLimitConfig struct {
	Disabled          bool `yaml:"disabled"`
	RequestsPerMinute *int `yaml:"requests_per_minute"`
	RequestsPerHour   *int `yaml:"requests_per_hour"`
}

// RoutingConfig holds routing decision settings.
type RoutingConfig struct {
	SimilarityThreshold float64          `yaml:"similarity_threshold"`
	TopK                int              `yaml:"top_k"`
	ContextTokenBudget  int              `yaml:"context_token_budget"`
	Classifier          ClassifierConfig `yaml:"classifier"`
}

// ClassifierConfig tunes the heuristic simple-query classifier.
type ClassifierConfig struct {
	MaxChars         int      `yaml:"max_chars"`
	MaxWords         int      `yaml:"max_words"`
	MultiStepMarkers []string `yaml:"multi_step_markers"`
}

// ScoringConfig holds value scorer settings.
type ScoringConfig struct {
	PromotionThreshold float64 `yaml:"promotion_threshold"`
}

// GCConfig holds knowledge garbage collector settings.
type GCConfig struct {
	Disabled              bool     `yaml:"disabled"`
	Schedule              string   `yaml:"schedule"`
	MaxAgeDays            int      `yaml:"max_age_days"`
	MinValueScore         *float64 `yaml:"min_value_score"` // 0 turns off low-value eviction
	MaxSolutions          int      `yaml:"max_solutions"`
	DeduplicateSimilarity float64  `yaml:"deduplicate_similarity"`
	DedupNeighbors        int      `yaml:"dedup_neighbors"`
	GraceHours            int      `yaml:"grace_hours"`
	OrphanWindowHours     int      `yaml:"orphan_window_hours"`
	PassTimeoutMin        int      `yaml:"pass_timeout_min"`
}

// HealthConfig holds health aggregator settings.
type HealthConfig struct {
	CheckTimeoutSec int `yaml:"check_timeout_sec"`
}

// PersistenceConfig holds the async interaction persistence queue settings.
type PersistenceConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// DefaultCollections is the closed set of knowledge collections.
var DefaultCollections = []string{
	"codebase-context",
	"skills-patterns",
	"error-solutions",
	"interaction-history",
	"best-practices",
}

// DefaultMultiStepMarkers flag chained reasoning in a query.
var DefaultMultiStepMarkers = []string{
	"step by step", "first,", "then ", "after that", "and then", "finally",
	"compare", "design", "architecture", "refactor", "explain why", "trade-off", "tradeoff",
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	c.applyServerDefaults()
	c.applyInferenceDefaults()
	c.applyCoreDefaults()
	c.applyGCDefaults()
}

func (c *Config) applyServerDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 180 // covers the slowest inference backend
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 15
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Metadata.DataDir == "" {
		c.Metadata.DataDir = "data"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Health.CheckTimeoutSec <= 0 {
		c.Health.CheckTimeoutSec = 5
	}
	if c.Persistence.QueueSize <= 0 {
		c.Persistence.QueueSize = 256
	}
	if c.Persistence.Workers <= 0 {
		c.Persistence.Workers = 2
	}
}

func (c *Config) applyInferenceDefaults() {
	l := &c.Inference.Local
	if l.BaseURL == "" {
		l.BaseURL = "http://localhost:11434/v1"
	}
	if l.APIKey == "" {
		l.APIKey = "ollama" // Ollama ignores the key, go-openai requires one
	}
	if l.Model == "" {
		l.Model = "qwen2.5-coder:7b"
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 60
	}

	r := &c.Inference.Remote
	if r.BaseURL == "" {
		r.BaseURL = "https://openrouter.ai/api/v1"
	}
	if r.Model == "" {
		r.Model = "openai/gpt-4o-mini"
	}
	if r.TimeoutSec <= 0 {
		r.TimeoutSec = 120
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 2048
	}

	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = "ollama"
	}
	if e.BaseURL == "" {
		e.BaseURL = l.BaseURL
		if e.APIKey == "" {
			e.APIKey = l.APIKey
		}
	}
	if e.Model == "" {
		e.Model = "nomic-embed-text"
	}
	if e.Dimensions <= 0 {
		e.Dimensions = 768
	}
	if e.MaxConcurrent <= 0 {
		e.MaxConcurrent = 4
	}
	if e.Cache.TTLHours <= 0 {
		e.Cache.TTLHours = 24 * 7
	}
}

func (c *Config) applyCoreDefaults() {
	v := &c.Validation
	if len(v.Collections) == 0 {
		v.Collections = slices.Clone(DefaultCollections)
	}
	if v.DefaultCollection == "" {
		v.DefaultCollection = v.Collections[0]
	}
	if v.MaxQueryBytes <= 0 {
		v.MaxQueryBytes = 10000
	}
	if v.MaxLimit <= 0 {
		v.MaxLimit = 100
	}
	if v.MaxOffset <= 0 {
		v.MaxOffset = 10000
	}

	setDefault(&c.RateLimit.RequestsPerMinute, 60)
	setDefault(&c.RateLimit.RequestsPerHour, 1000)

	rt := &c.Routing
	if rt.SimilarityThreshold <= 0 {
		rt.SimilarityThreshold = 0.85
	}
	if rt.TopK <= 0 {
		rt.TopK = 5
	}
	if rt.ContextTokenBudget <= 0 {
		rt.ContextTokenBudget = 2000
	}
	if rt.Classifier.MaxChars <= 0 {
		rt.Classifier.MaxChars = 200
	}
	if rt.Classifier.MaxWords <= 0 {
		rt.Classifier.MaxWords = 40
	}
	if rt.Classifier.MultiStepMarkers == nil {
		rt.Classifier.MultiStepMarkers = slices.Clone(DefaultMultiStepMarkers)
	}

	if c.Scoring.PromotionThreshold <= 0 {
		c.Scoring.PromotionThreshold = 0.7
	}
}

func (c *Config) applyGCDefaults() {
	g := &c.GC
	if g.Schedule == "" {
		g.Schedule = "@every 1h"
	}
	if g.MaxAgeDays <= 0 {
		g.MaxAgeDays = 30
	}
	setDefault(&g.MinValueScore, 0.5)
	if g.MaxSolutions <= 0 {
		g.MaxSolutions = 100000
	}
	if g.DeduplicateSimilarity <= 0 {
		g.DeduplicateSimilarity = 0.95
	}
	if g.DedupNeighbors <= 0 {
		g.DedupNeighbors = 5
	}
	if g.GraceHours <= 0 {
		g.GraceHours = 24
	}
	if g.OrphanWindowHours <= 0 {
		g.OrphanWindowHours = 24
	}
	if g.PassTimeoutMin <= 0 {
		g.PassTimeoutMin = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if err := validateBudget("inference.remote.budget.action", c.Inference.Remote.Budget.Action); err != nil {
		return err
	}
	if len(c.Validation.Collections) == 0 {
		return fmt.Errorf("validation.collections must not be empty")
	}
	if !slices.Contains(c.Validation.Collections, c.Validation.DefaultCollection) {
		return fmt.Errorf("validation.default_collection %q is not in validation.collections",
			c.Validation.DefaultCollection)
	}
	if c.Routing.TopK > c.Validation.MaxLimit {
		return fmt.Errorf("routing.top_k must not exceed validation.max_limit (%d), got %d",
			c.Validation.MaxLimit, c.Routing.TopK)
	}
	for name, v := range map[string]float64{
		"routing.similarity_threshold": c.Routing.SimilarityThreshold,
		"scoring.promotion_threshold":  c.Scoring.PromotionThreshold,
		"gc.deduplicate_similarity":    c.GC.DeduplicateSimilarity,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be within (0,1], got %v", name, v)
		}
	}
	if v := c.GC.MinValueScore; v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("gc.min_value_score must be within [0,1], got %v", *v)
	}
	for name, v := range map[string]*int{
		"rate_limit.requests_per_minute": c.RateLimit.RequestsPerMinute,
		"rate_limit.requests_per_hour":   c.RateLimit.RequestsPerHour,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, *v)
		}
	}
	return nil
}

// setDefault fills an unset optional field. Explicit zeros are kept.
func setDefault[T any](p **T, v T) {
	if *p == nil {
		*p = &v
	}
}

func validateBudget(field, action string) error {
	switch action {
	case "", "warn", "reject":
		return nil
	default:
		return fmt.Errorf("%s must be \"warn\" or \"reject\", got %q", field, action)
	}
}
