package categorizer

import (
	"fmt"
	"time"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/cluster"
	"github.com/ryanburden/mercari-buddy/pkg/confidence"
	"github.com/ryanburden/mercari-buddy/pkg/embedding"
	"github.com/ryanburden/mercari-buddy/pkg/llmcat"
	"github.com/ryanburden/mercari-buddy/pkg/rules"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a cache-similar hit
	DefaultSimilarityThreshold = 0.85

	// DefaultRetryCount is the total number of model requests per title
	DefaultRetryCount = 3

	// DefaultTier selects the rate limit, concurrency and batch size presets
	DefaultTier = "tier3"
)

// TierPreset holds the request budget of one API usage tier
type TierPreset struct {
	RPM            int
	MaxConcurrency int
	BatchSize      int
}

// Tiers maps API usage tiers to their presets
var Tiers = map[string]TierPreset{
	"tier1": {RPM: 2, MaxConcurrency: 1, BatchSize: 10},
	"tier2": {RPM: 45, MaxConcurrency: 15, BatchSize: 50},
	"tier3": {RPM: 480, MaxConcurrency: 60, BatchSize: 120},
	"tier4": {RPM: 4800, MaxConcurrency: 120, BatchSize: 240},
	"tier5": {RPM: 4950, MaxConcurrency: 200, BatchSize: 500},
}

// Config holds configuration for the Categorizer
type Config struct {
	// Taxonomy is the closed set of valid pairs. If nil, uses taxonomy.Default().
	Taxonomy *taxonomy.Taxonomy

	// Rules resolves titles by keyword before the model. If nil, uses rules.Default.
	Rules *rules.Engine

	// Cache holds validated results. If nil, an in-memory cache is created.
	Cache *cache.Cache

	// ChatClient talks to the model. If nil, uses the default (OpenAI-compatible) client.
	ChatClient llmcat.ChatClient
	Model      string
	BaseURL    string
	// Temperature is optional. If nil, uses the client default.
	Temperature *float32

	// Embedder turns normalized titles into vectors. If nil, uses Voyage AI when
	// VOYAGEAI_API_KEY is set and the offline hashing embedder otherwise.
	Embedder embedding.Embedder

	// Clusterer groups the batch corpus. If nil, uses cluster.Density.
	Clusterer cluster.Clusterer

	// Fallback is the keyword table used when the model cannot answer. If nil, uses
	// llmcat.DefaultFallback.
	Fallback *llmcat.Fallback

	Logger *logger.Logger

	// Tier selects presets for RateLimitRPM, MaxConcurrency and BatchSize. If empty,
	// uses DefaultTier.
	Tier string

	// RateLimitRPM caps model requests per minute. 0 uses the tier preset, negative
	// disables the limit.
	RateLimitRPM int

	// MaxConcurrency caps in-flight model requests. 0 uses the tier preset.
	MaxConcurrency int

	// BatchSize is the number of titles per embedding request. 0 uses the tier preset.
	BatchSize int

	// SimilarityThreshold is the cache-similar cutoff (0.0 to 1.0). If 0, uses DefaultSimilarityThreshold.
	SimilarityThreshold float32

	// RetryCount is the total number of model requests per title. If 0, uses DefaultRetryCount.
	RetryCount int

	// RetryBackoff is the delay before the first retry. If 0, uses the retry default.
	RetryBackoff time.Duration

	// ValidationAcceptanceDistance bounds fuzzy correction of model answers. If 0, uses
	// llmcat.DefaultAcceptanceDistance.
	ValidationAcceptanceDistance float64

	// ConfidenceReviewThreshold flags scores below it. If 0, uses confidence.DefaultReviewThreshold.
	ConfidenceReviewThreshold float64

	// PeerAgreementWeight is the share of cluster agreement in the confidence blend. If 0,
	// uses confidence.DefaultWeight.
	PeerAgreementWeight float64

	// SubcategoryShare mixes subcategory agreement into peer agreement. 0 uses category
	// agreement alone.
	SubcategoryShare float64

	// Priors overrides the per-method confidence priors. If nil, uses confidence.DefaultPriors().
	Priors confidence.Priors

	// RequestTimeout bounds one model request. If 0, uses the llmcat default.
	RequestTimeout time.Duration

	// Dimension is the embedding length. If 0, adopts the length of the first vector.
	Dimension int

	// ClusterDimensions and MinClusterSize tune the default clusterer. 0 uses its defaults.
	ClusterDimensions int
	MinClusterSize    int

	// Progress, if set, is called as a batch moves through its stages
	Progress func(Progress)
}

// applyDefaults fills in default values for unset config fields
func (c *Config) applyDefaults() error {
	if c.Tier == "" {
		c.Tier = DefaultTier
	}
	preset, ok := Tiers[c.Tier]
	if !ok {
		return fmt.Errorf("unknown tier %q", c.Tier)
	}

	if c.RateLimitRPM == 0 {
		c.RateLimitRPM = preset.RPM
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = preset.MaxConcurrency
	}
	if c.BatchSize == 0 {
		c.BatchSize = preset.BatchSize
	}

	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.ValidationAcceptanceDistance == 0 {
		c.ValidationAcceptanceDistance = llmcat.DefaultAcceptanceDistance
	}
	if c.ConfidenceReviewThreshold == 0 {
		c.ConfidenceReviewThreshold = confidence.DefaultReviewThreshold
	}
	if c.PeerAgreementWeight == 0 {
		c.PeerAgreementWeight = confidence.DefaultWeight
	}
	if c.Priors == nil {
		c.Priors = confidence.DefaultPriors()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return c.validate()
}

func (c *Config) validate() error {
	switch {
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("similarity threshold %v outside [0,1]", c.SimilarityThreshold)
	case c.PeerAgreementWeight < 0 || c.PeerAgreementWeight > 1:
		return fmt.Errorf("peer agreement weight %v outside [0,1]", c.PeerAgreementWeight)
	case c.ConfidenceReviewThreshold < 0 || c.ConfidenceReviewThreshold > 1:
		return fmt.Errorf("confidence review threshold %v outside [0,1]", c.ConfidenceReviewThreshold)
	case c.SubcategoryShare < 0 || c.SubcategoryShare > 1:
		return fmt.Errorf("subcategory share %v outside [0,1]", c.SubcategoryShare)
	case c.ValidationAcceptanceDistance < 0:
		return fmt.Errorf("validation acceptance distance must not be negative")
	case c.RetryCount < 0, c.MaxConcurrency < 0, c.BatchSize < 0, c.Dimension < 0:
		return fmt.Errorf("retry count, concurrency, batch size and dimension must not be negative")
	}
	return nil
}
