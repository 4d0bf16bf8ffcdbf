package taxonomy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	tax := Default()

	if got := len(tax.Categories()); got != 12 {
		t.Errorf("expected 12 categories, got %d", got)
	}
	if !tax.Contains("Footwear", "Athletic Shoes") {
		t.Error("expected Footwear|Athletic Shoes to be a member")
	}
	if tax.Contains("footwear", "athletic shoes") {
		t.Error("Contains must be case-sensitive")
	}
	if tax.Contains("Footwear", "Mobile Phones") {
		t.Error("subcategory of another category must not be a member")
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		categories []Category
	}{
		{"empty", nil},
		{"empty name", []Category{{Name: " ", Subcategories: []string{"A"}}}},
		{"no subcategories", []Category{{Name: "A"}}},
		{"duplicate category", []Category{
			{Name: "A", Subcategories: []string{"x"}},
			{Name: "a", Subcategories: []string{"y"}},
		}},
		{"duplicate subcategory", []Category{{Name: "A", Subcategories: []string{"x", "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.categories); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCanonicalLookups(t *testing.T) {
	tax := Default()

	if got, ok := tax.CanonicalCategory("  electronics "); !ok || got != "Electronics" {
		t.Errorf("CanonicalCategory = %q, %v", got, ok)
	}
	if got, ok := tax.CanonicalSubcategory("Electronics", "MOBILE phones"); !ok || got != "Mobile Phones" {
		t.Errorf("CanonicalSubcategory = %q, %v", got, ok)
	}

	owners := tax.OwnersOf("accessories")
	want := []string{"Clothing", "Electronics", "Jewelry & Watches"}
	if len(owners) != len(want) {
		t.Fatalf("OwnersOf = %v, want %v", owners, want)
	}
	for i := range want {
		if owners[i] != want[i] {
			t.Errorf("OwnersOf[%d] = %q, want %q", i, owners[i], want[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tax := Default()
	if err := tax.Validate("Beauty", "Makeup"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := tax.Validate("Beauty", "Phones")
	if !errors.Is(err, ErrUnknownPair) {
		t.Errorf("expected ErrUnknownPair, got %v", err)
	}
}

func TestPairsOrder(t *testing.T) {
	tax := MustNew([]Category{
		{Name: "B", Subcategories: []string{"b2", "b1"}},
		{Name: "A", Subcategories: []string{"a1"}},
	})
	pairs := tax.Pairs()
	want := []string{"B|b2", "B|b1", "A|a1"}
	if len(pairs) != len(want) || tax.Size() != len(want) {
		t.Fatalf("Pairs() = %v", pairs)
	}
	for i, p := range pairs {
		if p.String() != want[i] {
			t.Errorf("pair %d = %s, want %s", i, p, want[i])
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	doc := `categories:
  - name: Electronics
    subcategories: [Mobile Phones, Computers]
  - name: Home & Kitchen
    subcategories:
      - Cookware
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("failed to write taxonomy: %v", err)
	}

	tax, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !tax.Contains("Home & Kitchen", "Cookware") {
		t.Error("expected Home & Kitchen|Cookware")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
