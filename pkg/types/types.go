package types

// Method records which pipeline stage produced a categorization
type Method string

const (
	MethodCacheExact     Method = "cache-exact"
	MethodCacheSimilar   Method = "cache-similar"
	MethodRule           Method = "rule"
	MethodModel          Method = "model"
	MethodModelCorrected Method = "model-corrected"
	MethodFallback       Method = "fallback"
)

// Methods lists every resolution method in pipeline order
var Methods = []Method{
	MethodCacheExact,
	MethodCacheSimilar,
	MethodRule,
	MethodModel,
	MethodModelCorrected,
	MethodFallback,
}

// Valid reports whether m is one of the known resolution methods
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// NoiseLabel marks a product that does not belong to any dense cluster
const NoiseLabel = -1

// CategorizationResult is the outcome of resolving one normalized title
type CategorizationResult struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Method      Method `json:"method"`

	// Attempts is the number of model requests spent, 0 when no model was involved
	Attempts int `json:"attempts"`

	// RawResponse is the last raw model text, if a model was called
	RawResponse string `json:"raw_response,omitempty"`

	// Similarity is the cosine similarity of the matched entry for cache-similar hits
	Similarity float32 `json:"similarity,omitempty"`
}

// ClusterAssignment is the cluster label of a single product within a batch
type ClusterAssignment struct {
	ProductID string `json:"product_id"`
	Label     int    `json:"label"`
}

// ConfidenceRecord holds the blended confidence of a single product
type ConfidenceRecord struct {
	ProductID     string  `json:"product_id"`
	Score         float64 `json:"score"`
	PeerAgreement float64 `json:"peer_agreement"`
	Prior         float64 `json:"prior"`
	ClusterSize   int     `json:"cluster_size"`
	NeedsReview   bool    `json:"needs_review"`
}

// VectorMatch represents a single match from a vector search
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata map[string]any
}
