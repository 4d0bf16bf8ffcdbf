package llmcat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

// ErrUnresolved is returned when neither the model nor the fallback table produced a pair
var ErrUnresolved = errors.New("title could not be categorized")

// FallbackRule maps any of its keywords, matched as substrings of the normalized title,
// to a pair
type FallbackRule struct {
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Category    string   `yaml:"category" json:"category"`
	Subcategory string   `yaml:"subcategory" json:"subcategory"`
}

// DefaultFallbackRules is the last-resort keyword table used when the model cannot answer
func DefaultFallbackRules() []FallbackRule {
	return []FallbackRule{
		{[]string{"dress", "shirt", "pants", "jacket", "coat", "sweater", "blouse"}, "Clothing", "Tops"},
		{[]string{"shoe", "boot", "sneaker", "sandal", "heel"}, "Footwear", "Casual Shoes"},
		{[]string{"perfume", "cologne", "fragrance", "scent"}, "Beauty", "Fragrances"},
		{[]string{"makeup", "lipstick", "foundation", "mascara"}, "Beauty", "Makeup"},
		{[]string{"phone", "iphone", "samsung", "mobile"}, "Electronics", "Mobile Phones"},
		{[]string{"laptop", "computer", "macbook", "pc"}, "Electronics", "Computers"},
		{[]string{"book", "novel", "magazine"}, "Books & Media", "Books"},
		{[]string{"watch", "clock", "timepiece"}, "Jewelry & Watches", "Watches"},
		{[]string{"ring", "necklace", "bracelet", "earring"}, "Jewelry & Watches", "Fine Jewelry"},
		{[]string{"bag", "purse", "handbag", "backpack"}, "Clothing", "Accessories"},
	}
}

// DefaultBucket is where unmatched titles land
var DefaultBucket = taxonomy.Pair{Category: "Clothing", Subcategory: "Accessories"}

// Fallback is the deterministic keyword table consulted after the model gives up
type Fallback struct {
	rules []FallbackRule
	def   *taxonomy.Pair
}

// NewFallback validates every rule pair and the default against tax. A nil def makes the
// table partial: unmatched titles yield ErrUnresolved.
func NewFallback(tax *taxonomy.Taxonomy, rules []FallbackRule, def *taxonomy.Pair) (*Fallback, error) {
	f := &Fallback{}
	for i, r := range rules {
		if err := tax.Validate(r.Category, r.Subcategory); err != nil {
			return nil, fmt.Errorf("fallback rule %d: %w", i, err)
		}
		r.Keywords = normalizeKeywords(r.Keywords)
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("fallback rule %d has no keywords", i)
		}
		f.rules = append(f.rules, r)
	}
	if def != nil {
		if err := tax.Validate(def.Category, def.Subcategory); err != nil {
			return nil, fmt.Errorf("fallback default: %w", err)
		}
		d := *def
		f.def = &d
	}
	return f, nil
}

// DefaultFallback builds the default table for tax. Rules whose pair is missing from tax
// are dropped; the default bucket is DefaultBucket when present, otherwise the first pair
// of tax, so the table stays total.
func DefaultFallback(tax *taxonomy.Taxonomy) *Fallback {
	var rules []FallbackRule
	for _, r := range DefaultFallbackRules() {
		if tax.Contains(r.Category, r.Subcategory) {
			rules = append(rules, r)
		}
	}

	def := DefaultBucket
	if !tax.Contains(def.Category, def.Subcategory) {
		def = tax.Pairs()[0]
	}

	f, err := NewFallback(tax, rules, &def)
	if err != nil {
		// unreachable: every pair was checked above
		panic(err)
	}
	return f
}

// Resolve returns the first rule matching the normalized title, or the default bucket
func (f *Fallback) Resolve(key string) (taxonomy.Pair, error) {
	for _, r := range f.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(key, kw) {
				return taxonomy.Pair{Category: r.Category, Subcategory: r.Subcategory}, nil
			}
		}
	}
	if f.def != nil {
		return *f.def, nil
	}
	return taxonomy.Pair{}, ErrUnresolved
}

func normalizeKeywords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if k := normalize.Key(w); k != "" {
			out = append(out, k)
		}
	}
	return out
}
