package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	categorizer "github.com/ryanburden/mercari-buddy"
	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/pkg/adapters"
	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/embedding"
	"github.com/ryanburden/mercari-buddy/pkg/llmcat"
	"github.com/ryanburden/mercari-buddy/pkg/rules"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

// Build wires the collaborators described by f. The returned close function releases
// the cache store and must be called after the categorizer is closed.
func (f *File) Build(ctx context.Context, log *logger.Logger) (categorizer.Config, func() error, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg := categorizer.Config{
		Logger:                       log,
		Model:                        f.Model.Name,
		BaseURL:                      f.Model.BaseURL,
		Temperature:                  f.Model.Temperature,
		Tier:                         f.Model.Tier,
		RateLimitRPM:                 f.Model.RateLimitRPM,
		MaxConcurrency:               f.Model.MaxConcurrency,
		BatchSize:                    f.Embedding.BatchSize,
		SimilarityThreshold:          f.Cache.SimilarityThreshold,
		RetryCount:                   f.Model.RetryCount,
		RetryBackoff:                 f.Model.RetryBackoff,
		RequestTimeout:               f.Model.RequestTimeout,
		ValidationAcceptanceDistance: f.Model.ValidationAcceptanceDistance,
		ConfidenceReviewThreshold:    f.Confidence.ReviewThreshold,
		PeerAgreementWeight:          f.Confidence.PeerAgreementWeight,
		SubcategoryShare:             f.Confidence.SubcategoryShare,
		Dimension:                    f.Embedding.Dimension,
		ClusterDimensions:            f.Cluster.Dimensions,
		MinClusterSize:               f.Cluster.MinClusterSize,
	}
	noop := func() error { return nil }

	tax := taxonomy.Default()
	if f.TaxonomyFile != "" {
		loaded, err := taxonomy.LoadFile(f.TaxonomyFile)
		if err != nil {
			return cfg, noop, fmt.Errorf("failed to load taxonomy: %w", err)
		}
		tax = loaded
	}
	cfg.Taxonomy = tax

	if f.RulesFile != "" {
		engine, err := rules.LoadFile(f.RulesFile, tax)
		if err != nil {
			return cfg, noop, fmt.Errorf("failed to load rules: %w", err)
		}
		cfg.Rules = engine
	}

	if len(f.Fallback.Rules) > 0 || f.Fallback.Default != "" {
		fb, err := f.fallback(tax)
		if err != nil {
			return cfg, noop, err
		}
		cfg.Fallback = fb
	}

	// the categorizer builds its own client unless the token budget is overridden
	if f.Model.MaxTokens > 0 {
		client, err := adapters.NewDefaultLLMClient(adapters.LLMOptions{
			Model:        f.Model.Name,
			BaseURL:      f.Model.BaseURL,
			MaxTokens:    f.Model.MaxTokens,
			Temperature:  f.Model.Temperature,
			DumpRequests: os.Getenv("OPENAI_DUMP_REQUESTS") != "",
			Logger:       log,
		})
		if err != nil {
			return cfg, noop, fmt.Errorf("failed to create LLM client: %w", err)
		}
		cfg.ChatClient = client
	}

	embedder, err := f.embedder(log)
	if err != nil {
		return cfg, noop, err
	}
	cfg.Embedder = embedder

	c, err := f.cache(ctx, tax, log)
	if err != nil {
		return cfg, noop, err
	}
	cfg.Cache = c

	return cfg, c.Close, nil
}

func (f *File) fallback(tax *taxonomy.Taxonomy) (*llmcat.Fallback, error) {
	var def *taxonomy.Pair
	if f.Fallback.Default != "" {
		category, subcategory, _ := strings.Cut(f.Fallback.Default, "|")
		def = &taxonomy.Pair{Category: strings.TrimSpace(category), Subcategory: strings.TrimSpace(subcategory)}
	}
	table := f.Fallback.Rules
	if len(table) == 0 {
		table = llmcat.DefaultFallbackRules()
	}
	fb, err := llmcat.NewFallback(tax, table, def)
	if err != nil {
		return nil, fmt.Errorf("failed to build fallback table: %w", err)
	}
	return fb, nil
}

func (f *File) embedder(log *logger.Logger) (embedding.Embedder, error) {
	switch strings.ToLower(f.Embedding.Provider) {
	case "voyage":
		client, err := adapters.NewVoyageEmbeddingAdapter(nil, f.Embedding.Model, f.Embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to create voyage embedder: %w", err)
		}
		return client, nil
	case "openai":
		client, err := adapters.NewOpenAIEmbeddingAdapter(nil, f.Embedding.Model, f.Embedding.Dimension, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embedder: %w", err)
		}
		return client, nil
	case "hashing":
		return embedding.HashingEmbedder{Dimension: f.Embedding.Dimension}, nil
	}
	// the categorizer picks its own default
	return nil, nil
}

func (f *File) cache(ctx context.Context, tax *taxonomy.Taxonomy, log *logger.Logger) (*cache.Cache, error) {
	var store cache.Store
	switch driver := strings.ToLower(f.Cache.Driver); driver {
	case "", "memory":
		store = cache.NewMemoryStore()
	case "redis":
		prefix := f.Cache.RedisPrefix
		if prefix == "" {
			prefix = "categorizer"
		}
		rs, err := cache.NewRedisStore(ctx, f.Cache.RedisAddr, f.Cache.RedisPassword, f.Cache.RedisDB, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect cache store: %w", err)
		}
		store = rs
	default:
		gs, err := cache.OpenGormStore(driver, f.Cache.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache store: %w", err)
		}
		store = gs
	}

	var index cache.VectorIndex
	if strings.ToLower(f.Cache.Index) == "pinecone" {
		namespace := f.Cache.PineconeNamespace
		if namespace == "" {
			namespace = "categorizer"
		}
		pc, err := adapters.NewPineconeVectorAdapter(nil, nil, namespace)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create pinecone index: %w", err)
		}
		index = pc
	}

	c, err := cache.New(ctx, cache.Config{
		Store:     store,
		Index:     index,
		Taxonomy:  tax,
		Logger:    log,
		Dimension: f.Embedding.Dimension,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return c, nil
}
