package categorizer

import (
	"time"

	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/confidence"
	"github.com/ryanburden/mercari-buddy/pkg/llmcat"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// Product is one listing to categorize
type Product struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EnrichedRecord is the output for one product
type EnrichedRecord struct {
	Product
	types.CategorizationResult

	// Key is the normalized title
	Key string `json:"normalized_key"`

	// ClusterLabel is the product's cluster within its batch, types.NoiseLabel if none
	ClusterLabel int `json:"cluster_label"`

	Confidence types.ConfidenceRecord `json:"confidence"`
}

// ItemError reports a product that could not be categorized
type ItemError struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Message   string `json:"error"`
	Err       error  `json:"-"`
}

func (e ItemError) Error() string {
	return e.ProductID + ": " + e.Message
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchResult is the output of CategorizeBatch. Records and Errors together hold exactly
// one entry per input product, each in input order.
type BatchResult struct {
	ID       string           `json:"id"`
	Records  []EnrichedRecord `json:"records"`
	Errors   []ItemError      `json:"errors"`
	Warnings []string         `json:"warnings,omitempty"`
	Summary  BatchSummary     `json:"summary"`
}

// BatchSummary aggregates one batch
type BatchSummary struct {
	Total    int                  `json:"total"`
	Resolved int                  `json:"resolved"`
	Failed   int                  `json:"failed"`
	ByMethod map[types.Method]int `json:"by_method"`

	// Attempts counts products by the number of model requests spent on them
	Attempts map[int]int `json:"attempts"`

	// UniqueKeys is the number of distinct normalized titles in the batch
	UniqueKeys int `json:"unique_keys"`

	NeedsReview    int                         `json:"needs_review"`
	Clusters       int                         `json:"clusters"`
	Noise          int                         `json:"noise"`
	ClusterDetails []confidence.ClusterSummary `json:"cluster_details,omitempty"`
	MeanConfidence float64                     `json:"mean_confidence"`
	Duration       time.Duration               `json:"duration"`
}

// Progress reports how far a batch has moved through a stage
type Progress struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Batch stages reported through Config.Progress
const (
	StageResolve = "resolve"
	StageModel   = "model"
	StageCluster = "cluster"
	StageScore   = "score"
)

// Metrics provides statistics about the categorizer's state
type Metrics struct {
	// Categorized is the number of products resolved since startup
	Categorized int64 `json:"categorized"`

	// ByMethod counts resolved products per resolution method
	ByMethod map[types.Method]int64 `json:"by_method"`

	// CacheHitRate is the percentage of products served from the cache
	CacheHitRate float32 `json:"cache_hit_rate"`

	// SharedRequests counts model resolutions that joined an identical in-flight request
	SharedRequests int64 `json:"shared_requests"`

	Failed  int64 `json:"failed"`
	Batches int64 `json:"batches"`

	Model llmcat.Stats `json:"model"`
	Cache cache.Stats  `json:"cache"`
}
