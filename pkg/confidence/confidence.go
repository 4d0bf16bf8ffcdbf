// Package confidence blends cluster peer agreement with a per-method prior into a score
// in [0,1] and flags low scores for manual review.
package confidence

import (
	"sort"

	"github.com/ryanburden/mercari-buddy/pkg/types"
)

const (
	DefaultWeight          = 0.7
	DefaultReviewThreshold = 0.5
)

// Priors is the baseline trust of each resolution method
type Priors map[types.Method]float64

// DefaultPriors returns the built-in method priors
func DefaultPriors() Priors {
	return Priors{
		types.MethodCacheExact:     0.95,
		types.MethodRule:           0.9,
		types.MethodCacheSimilar:   0.8,
		types.MethodModel:          0.6,
		types.MethodModelCorrected: 0.5,
		types.MethodFallback:       0.2,
	}
}

// Item is one categorized product with its cluster label
type Item struct {
	ProductID   string
	Category    string
	Subcategory string
	Method      types.Method
	Label       int
}

// Scorer computes confidence records. Weight is the share of peer agreement in the blend.
type Scorer struct {
	Weight          float64
	ReviewThreshold float64
	Priors          Priors

	// SubcategoryShare mixes subcategory agreement into peer agreement. 0 uses the
	// category alone.
	SubcategoryShare float64
}

// Default returns a scorer with the default weight, threshold and priors
func Default() Scorer {
	return Scorer{
		Weight:          DefaultWeight,
		ReviewThreshold: DefaultReviewThreshold,
		Priors:          DefaultPriors(),
	}
}

// Prior returns the prior of a method, 0 if unknown
func (s Scorer) Prior(m types.Method) float64 {
	p, ok := s.Priors[m]
	if !ok {
		return 0
	}
	return clamp(p)
}

type tally struct {
	size  int
	cats  map[string]int
	pairs map[[2]string]int
}

// Score returns one record per item, in order. Peer agreement counts the item itself as
// a member of its cluster. Noise items score their prior alone.
func (s Scorer) Score(items []Item) []types.ConfidenceRecord {
	clusters := make(map[int]*tally)
	for _, it := range items {
		if it.Label == types.NoiseLabel {
			continue
		}
		t, ok := clusters[it.Label]
		if !ok {
			t = &tally{cats: make(map[string]int), pairs: make(map[[2]string]int)}
			clusters[it.Label] = t
		}
		t.size++
		t.cats[it.Category]++
		t.pairs[[2]string{it.Category, it.Subcategory}]++
	}

	weight := clamp(s.Weight)
	share := clamp(s.SubcategoryShare)

	records := make([]types.ConfidenceRecord, len(items))
	for i, it := range items {
		prior := s.Prior(it.Method)
		rec := types.ConfidenceRecord{ProductID: it.ProductID, Prior: prior, Score: prior}

		if t, ok := clusters[it.Label]; ok {
			catAgree := float64(t.cats[it.Category]) / float64(t.size)
			subAgree := float64(t.pairs[[2]string{it.Category, it.Subcategory}]) / float64(t.size)
			peer := (1-share)*catAgree + share*subAgree

			rec.PeerAgreement = peer
			rec.ClusterSize = t.size
			rec.Score = clamp(weight*peer + (1-weight)*prior)
		}

		rec.NeedsReview = rec.Score < s.ReviewThreshold
		records[i] = rec
	}
	return records
}

// ClusterSummary describes one cluster of a batch
type ClusterSummary struct {
	Label            int     `json:"label"`
	Size             int     `json:"size"`
	DominantCategory string  `json:"dominant_category"`
	Consistency      float64 `json:"consistency"`
	MeanScore        float64 `json:"mean_score"`
}

// Summary aggregates a scored batch
type Summary struct {
	Clusters    []ClusterSummary `json:"clusters"`
	Noise       int              `json:"noise"`
	NeedsReview int              `json:"needs_review"`
	MeanScore   float64          `json:"mean_score"`
}

// Summarize reports per cluster the dominant category and the share of members that
// carry it. records must be parallel to items.
func Summarize(items []Item, records []types.ConfidenceRecord) Summary {
	var sum Summary
	type acc struct {
		size  int
		score float64
		cats  map[string]int
		order []string
	}
	clusters := make(map[int]*acc)
	total := 0.0

	for i, it := range items {
		var score float64
		if i < len(records) {
			score = records[i].Score
			if records[i].NeedsReview {
				sum.NeedsReview++
			}
		}
		total += score

		if it.Label == types.NoiseLabel {
			sum.Noise++
			continue
		}
		a, ok := clusters[it.Label]
		if !ok {
			a = &acc{cats: make(map[string]int)}
			clusters[it.Label] = a
		}
		a.size++
		a.score += score
		if a.cats[it.Category] == 0 {
			a.order = append(a.order, it.Category)
		}
		a.cats[it.Category]++
	}

	if len(items) > 0 {
		sum.MeanScore = total / float64(len(items))
	}

	for label, a := range clusters {
		dominant := ""
		for _, c := range a.order {
			if dominant == "" || a.cats[c] > a.cats[dominant] {
				dominant = c
			}
		}
		sum.Clusters = append(sum.Clusters, ClusterSummary{
			Label:            label,
			Size:             a.size,
			DominantCategory: dominant,
			Consistency:      float64(a.cats[dominant]) / float64(a.size),
			MeanScore:        a.score / float64(a.size),
		})
	}
	sort.Slice(sum.Clusters, func(i, j int) bool { return sum.Clusters[i].Label < sum.Clusters[j].Label })
	return sum
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
