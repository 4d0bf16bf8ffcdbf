package llmcat

import (
	"strings"
	"testing"

	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

func TestBuildPrompt_Escalates(t *testing.T) {
	tax := taxonomy.Default()

	first := BuildPrompt(tax, "Levi's 501 jeans", 1, "")
	for _, name := range tax.CategoryNames() {
		if !strings.Contains(first.System, name) {
			t.Errorf("Expected attempt 1 to list category %q", name)
		}
	}
	if !strings.Contains(first.System, "Examples:") || !strings.Contains(first.System, "Footwear|Athletic Shoes") {
		t.Error("Expected attempt 1 to include worked examples")
	}
	if !strings.Contains(first.User, "Levi's 501 jeans") {
		t.Errorf("Expected user message to carry the title, got %q", first.User)
	}

	second := BuildPrompt(tax, "Levi's 501 jeans", 2, "Denim stuff")
	if !strings.Contains(second.User, `"Denim stuff"`) {
		t.Errorf("Expected attempt 2 to quote the rejected answer, got %q", second.User)
	}

	third := BuildPrompt(tax, "Levi's 501 jeans", 3, "Denim stuff")
	for _, pair := range tax.Pairs() {
		if !strings.Contains(third.System, pair.String()+"\n") && !strings.HasSuffix(third.System, pair.String()) {
			t.Errorf("Expected attempt 3 to enumerate %s", pair)
		}
	}
	if strings.Contains(third.System, "Examples:") {
		t.Error("Attempt 3 should list exact answer lines instead of examples")
	}
}

func TestBuildPrompt_SkipsExamplesOutsideTaxonomy(t *testing.T) {
	tax := taxonomy.MustNew([]taxonomy.Category{
		{Name: "Tools", Subcategories: []string{"Hand Tools", "Power Tools"}},
	})

	p := BuildPrompt(tax, "cordless drill", 1, "")
	if strings.Contains(p.System, "Examples:") {
		t.Error("Expected no examples for a taxonomy that cannot express them")
	}
	if !strings.Contains(p.System, "- Tools: Hand Tools, Power Tools") {
		t.Errorf("Expected the taxonomy listing, got %q", p.System)
	}
}

func TestFallback(t *testing.T) {
	fb := DefaultFallback(taxonomy.Default())

	testCases := []struct {
		key  string
		want taxonomy.Pair
	}{
		{"red summer dress", taxonomy.Pair{Category: "Clothing", Subcategory: "Tops"}},
		{"leather boots size 9", taxonomy.Pair{Category: "Footwear", Subcategory: "Casual Shoes"}},
		{"chanel perfume 50ml", taxonomy.Pair{Category: "Beauty", Subcategory: "Fragrances"}},
		{"samsung galaxy s21", taxonomy.Pair{Category: "Electronics", Subcategory: "Mobile Phones"}},
		{"macbook air", taxonomy.Pair{Category: "Electronics", Subcategory: "Computers"}},
		{"harry potter novel", taxonomy.Pair{Category: "Books & Media", Subcategory: "Books"}},
		{"gold necklace", taxonomy.Pair{Category: "Jewelry & Watches", Subcategory: "Fine Jewelry"}},
		{"canvas backpack", taxonomy.Pair{Category: "Clothing", Subcategory: "Accessories"}},
		{"mystery item", DefaultBucket},
	}

	for _, tc := range testCases {
		got, err := fb.Resolve(tc.key)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", tc.key, err)
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestDefaultFallback_CustomTaxonomyStaysTotal(t *testing.T) {
	tax := taxonomy.MustNew([]taxonomy.Category{
		{Name: "Tools", Subcategories: []string{"Hand Tools", "Power Tools"}},
	})

	got, err := DefaultFallback(tax).Resolve("iphone case")
	if err != nil {
		t.Fatalf("Expected total fallback, got %v", err)
	}
	if got != (taxonomy.Pair{Category: "Tools", Subcategory: "Hand Tools"}) {
		t.Errorf("Expected first pair as default bucket, got %v", got)
	}
}

func TestNewFallback_Rejects(t *testing.T) {
	tax := taxonomy.Default()

	if _, err := NewFallback(tax, []FallbackRule{{Keywords: []string{"x"}, Category: "Nope", Subcategory: "Nope"}}, nil); err == nil {
		t.Error("Expected error for a rule outside the taxonomy")
	}
	if _, err := NewFallback(tax, []FallbackRule{{Keywords: []string{"!!"}, Category: "Clothing", Subcategory: "Tops"}}, nil); err == nil {
		t.Error("Expected error for a rule without usable keywords")
	}
	if _, err := NewFallback(tax, nil, &taxonomy.Pair{Category: "Clothing", Subcategory: "Hats"}); err == nil {
		t.Error("Expected error for a default outside the taxonomy")
	}
}
