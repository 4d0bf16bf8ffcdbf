package llmcat

import (
	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// DefaultAcceptanceDistance is the largest correction distance accepted when unset
const DefaultAcceptanceDistance = 0.34

// Validator checks candidates against a taxonomy and corrects near misses
type Validator struct {
	tax   *taxonomy.Taxonomy
	bound float64
}

// NewValidator creates a validator. bound <= 0 selects DefaultAcceptanceDistance.
func NewValidator(tax *taxonomy.Taxonomy, bound float64) *Validator {
	if bound <= 0 {
		bound = DefaultAcceptanceDistance
	}
	return &Validator{tax: tax, bound: bound}
}

// Validate resolves a candidate to a member pair. Delimited candidates that match the
// taxonomy exactly are accepted as model answers; everything else must be corrected within
// the acceptance bound and is reported as model-corrected.
func (v *Validator) Validate(c Candidate) (taxonomy.Pair, types.Method, bool) {
	if c.Kind.Delimited() && v.tax.Contains(c.Category, c.Subcategory) {
		return taxonomy.Pair{Category: c.Category, Subcategory: c.Subcategory}, types.MethodModel, true
	}
	if c.Kind == TaxonomyScan {
		if !v.tax.Contains(c.Category, c.Subcategory) {
			return taxonomy.Pair{}, "", false
		}
		return taxonomy.Pair{Category: c.Category, Subcategory: c.Subcategory}, types.MethodModelCorrected, true
	}

	if pair, ok := v.correct(c.Category, c.Subcategory); ok {
		return pair, types.MethodModelCorrected, true
	}
	// models sometimes answer Subcategory|Category
	if pair, ok := v.correct(c.Subcategory, c.Category); ok {
		return pair, types.MethodModelCorrected, true
	}
	return taxonomy.Pair{}, "", false
}

func (v *Validator) correct(category, subcategory string) (taxonomy.Pair, bool) {
	cat, d := closest(category, v.tax.CategoryNames())
	if cat == "" || d > v.bound {
		return taxonomy.Pair{}, false
	}
	sub, d := closest(subcategory, v.tax.Subcategories(cat))
	if sub == "" || d > v.bound {
		return taxonomy.Pair{}, false
	}
	return taxonomy.Pair{Category: cat, Subcategory: sub}, true
}

// closest returns the option with the smallest Distance to s. Ties go to the smaller raw
// edit distance, then to the earlier option.
func closest(s string, options []string) (string, float64) {
	best, bestDist, bestEdits := "", 2.0, 0
	a := normalize.Key(s)
	for _, opt := range options {
		d := Distance(s, opt)
		edits := levenshtein([]rune(a), []rune(normalize.Key(opt)))
		if d < bestDist || (d == bestDist && edits < bestEdits) {
			best, bestDist, bestEdits = opt, d, edits
		}
	}
	return best, bestDist
}

// Distance compares a candidate name with a taxonomy name, case-insensitively, in [0,1].
// It is the smaller of the normalized edit distance and the share of the taxonomy
// name's words missing from the candidate.
func Distance(candidate, name string) float64 {
	a, b := []rune(normalize.Key(candidate)), []rune(normalize.Key(name))
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	edit := float64(levenshtein(a, b)) / float64(longest)
	return min(edit, 1-containment(candidate, name))
}

// containment is the fraction of name's words present in candidate
func containment(candidate, name string) float64 {
	want := words(name)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, w := range words(candidate) {
		have[w] = struct{}{}
	}
	found := 0
	for _, w := range want {
		if _, ok := have[w]; ok {
			found++
		}
	}
	return float64(found) / float64(len(want))
}

func words(s string) []string {
	var out []string
	for _, tok := range normalize.Tokens(normalize.Key(s)) {
		if tok == "&" || tok == "and" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
