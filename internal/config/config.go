// Package config loads the categorizer configuration file and turns it into a wired
// categorizer.Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryanburden/mercari-buddy/pkg/llmcat"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CATEGORIZER_"

// File is the on-disk configuration. Zero values fall back to the categorizer defaults.
type File struct {
	Log struct {
		Mode  string `yaml:"mode"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	TaxonomyFile string `yaml:"taxonomy_file"`
	RulesFile    string `yaml:"rules_file"`

	Model struct {
		Name        string   `yaml:"name"`
		BaseURL     string   `yaml:"base_url"`
		Temperature *float32 `yaml:"temperature"`
		MaxTokens   int      `yaml:"max_tokens"`

		Tier           string        `yaml:"tier"`
		RateLimitRPM   int           `yaml:"rate_limit_rpm"`
		MaxConcurrency int           `yaml:"max_concurrency"`
		RetryCount     int           `yaml:"retry_count"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		RequestTimeout time.Duration `yaml:"request_timeout"`

		ValidationAcceptanceDistance float64 `yaml:"validation_acceptance_distance"`
	} `yaml:"model"`

	Embedding struct {
		// Provider is voyage, openai or hashing. Empty picks voyage when VOYAGEAI_API_KEY is set.
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		Dimension int    `yaml:"dimension"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"embedding"`

	Cache struct {
		// Driver is memory, sqlite, postgres or redis
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`

		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		RedisPrefix   string `yaml:"redis_prefix"`

		// Index is memory or pinecone
		Index             string `yaml:"index"`
		PineconeNamespace string `yaml:"pinecone_namespace"`

		SimilarityThreshold float32 `yaml:"similarity_threshold"`
	} `yaml:"cache"`

	Cluster struct {
		Dimensions     int `yaml:"dimensions"`
		MinClusterSize int `yaml:"min_cluster_size"`
	} `yaml:"cluster"`

	Confidence struct {
		ReviewThreshold     float64 `yaml:"review_threshold"`
		PeerAgreementWeight float64 `yaml:"peer_agreement_weight"`
		SubcategoryShare    float64 `yaml:"subcategory_share"`
	} `yaml:"confidence"`

	Fallback struct {
		Rules []llmcat.FallbackRule `yaml:"rules"`
		// Default is a "Category|Subcategory" bucket for unmatched titles. Empty leaves
		// unmatched titles unresolved when Rules is set.
		Default string `yaml:"default"`
	} `yaml:"fallback"`

	Server struct {
		Addr     string `yaml:"addr"`
		MaxBatch int    `yaml:"max_batch"`
	} `yaml:"server"`
}

// Load reads path (if not empty), applies environment overrides and validates the result
func Load(path string) (*File, error) {
	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := f.applyEnv(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &f, nil
}

// applyEnv overrides file values with CATEGORIZER_* variables
func (f *File) applyEnv() error {
	setString(&f.Log.Mode, "LOG_MODE")
	setString(&f.Log.Level, "LOG_LEVEL")
	setString(&f.TaxonomyFile, "TAXONOMY_FILE")
	setString(&f.RulesFile, "RULES_FILE")
	setString(&f.Model.Name, "MODEL")
	setString(&f.Model.BaseURL, "BASE_URL")
	setString(&f.Model.Tier, "TIER")
	setString(&f.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&f.Cache.Driver, "CACHE_DRIVER")
	setString(&f.Cache.DSN, "CACHE_DSN")
	setString(&f.Cache.RedisAddr, "REDIS_ADDR")
	setString(&f.Cache.RedisPassword, "REDIS_PASSWORD")
	setString(&f.Cache.Index, "CACHE_INDEX")
	setString(&f.Server.Addr, "SERVER_ADDR")

	for name, target := range map[string]*int{
		"RATE_LIMIT_RPM":  &f.Model.RateLimitRPM,
		"MAX_CONCURRENCY": &f.Model.MaxConcurrency,
		"RETRY_COUNT":     &f.Model.RetryCount,
		"BATCH_SIZE":      &f.Embedding.BatchSize,
		"DIMENSION":       &f.Embedding.Dimension,
		"MAX_BATCH":       &f.Server.MaxBatch,
	} {
		if err := setInt(target, name); err != nil {
			return err
		}
	}

	for name, target := range map[string]*float64{
		"VALIDATION_ACCEPTANCE_DISTANCE": &f.Model.ValidationAcceptanceDistance,
		"CONFIDENCE_REVIEW_THRESHOLD":    &f.Confidence.ReviewThreshold,
		"PEER_AGREEMENT_WEIGHT":          &f.Confidence.PeerAgreementWeight,
	} {
		if err := setFloat(target, name); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "SIMILARITY_THRESHOLD"); ok {
		x, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("invalid %sSIMILARITY_THRESHOLD %q: %w", EnvPrefix, v, err)
		}
		f.Cache.SimilarityThreshold = float32(x)
	}
	return nil
}

func setString(target *string, name string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*target = v
	}
}

func setInt(target *int, name string) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
	}
	*target = i
	return nil
}

func setFloat(target *float64, name string) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
	}
	*target = x
	return nil
}

// Validate rejects out-of-range values and unknown backends
func (f *File) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %v outside [0,1]", name, v)
		}
		return nil
	}
	for name, v := range map[string]float64{
		"similarity_threshold":  float64(f.Cache.SimilarityThreshold),
		"review_threshold":      f.Confidence.ReviewThreshold,
		"peer_agreement_weight": f.Confidence.PeerAgreementWeight,
		"subcategory_share":     f.Confidence.SubcategoryShare,
	} {
		if err := inUnit(name, v); err != nil {
			return err
		}
	}

	for name, v := range map[string]int{
		"max_concurrency":  f.Model.MaxConcurrency,
		"retry_count":      f.Model.RetryCount,
		"max_tokens":       f.Model.MaxTokens,
		"dimension":        f.Embedding.Dimension,
		"batch_size":       f.Embedding.BatchSize,
		"min_cluster_size": f.Cluster.MinClusterSize,
		"dimensions":       f.Cluster.Dimensions,
		"max_batch":        f.Server.MaxBatch,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if f.Model.ValidationAcceptanceDistance < 0 {
		return fmt.Errorf("validation_acceptance_distance must not be negative")
	}
	if f.Model.RetryBackoff < 0 || f.Model.RequestTimeout < 0 {
		return fmt.Errorf("retry_backoff and request_timeout must not be negative")
	}

	switch strings.ToLower(f.Embedding.Provider) {
	case "", "voyage", "openai", "hashing":
	default:
		return fmt.Errorf("unknown embedding provider %q", f.Embedding.Provider)
	}

	switch strings.ToLower(f.Cache.Driver) {
	case "", "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql":
		if f.Cache.DSN == "" {
			return fmt.Errorf("cache driver %s requires a dsn", f.Cache.Driver)
		}
	case "redis":
		if f.Cache.RedisAddr == "" {
			return fmt.Errorf("cache driver redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", f.Cache.Driver)
	}

	switch strings.ToLower(f.Cache.Index) {
	case "", "memory", "pinecone":
	default:
		return fmt.Errorf("unknown cache index %q", f.Cache.Index)
	}

	if f.Fallback.Default != "" {
		if _, _, ok := strings.Cut(f.Fallback.Default, "|"); !ok {
			return fmt.Errorf("fallback default %q is not Category|Subcategory", f.Fallback.Default)
		}
	}
	return nil
}
