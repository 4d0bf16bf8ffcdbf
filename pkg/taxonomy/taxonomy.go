package taxonomy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPair is returned when a (category, subcategory) pair is not part of the taxonomy
var ErrUnknownPair = errors.New("pair is not part of the taxonomy")

// Category is a top-level category with its ordered subcategories
type Category struct {
	Name          string   `yaml:"name" json:"name"`
	Subcategories []string `yaml:"subcategories" json:"subcategories"`
}

// Pair is a single (category, subcategory) member of the taxonomy
type Pair struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func (p Pair) String() string {
	return p.Category + "|" + p.Subcategory
}

// Taxonomy is the closed, read-only set of valid category/subcategory pairs
type Taxonomy struct {
	categories []Category
	subs       map[string]map[string]struct{}
	byLower    map[string]string
}

// New builds a Taxonomy from ordered categories. Names are trimmed; empty names and
// duplicates are rejected.
func New(categories []Category) (*Taxonomy, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("taxonomy must contain at least one category")
	}

	t := &Taxonomy{
		categories: make([]Category, 0, len(categories)),
		subs:       make(map[string]map[string]struct{}, len(categories)),
		byLower:    make(map[string]string, len(categories)),
	}

	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("taxonomy category name cannot be empty")
		}
		if _, dup := t.byLower[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("duplicate taxonomy category %q", name)
		}
		if len(c.Subcategories) == 0 {
			return nil, fmt.Errorf("taxonomy category %q has no subcategories", name)
		}

		set := make(map[string]struct{}, len(c.Subcategories))
		ordered := make([]string, 0, len(c.Subcategories))
		for _, s := range c.Subcategories {
			sub := strings.TrimSpace(s)
			if sub == "" {
				return nil, fmt.Errorf("taxonomy category %q has an empty subcategory", name)
			}
			if _, dup := set[sub]; dup {
				return nil, fmt.Errorf("duplicate subcategory %q in category %q", sub, name)
			}
			set[sub] = struct{}{}
			ordered = append(ordered, sub)
		}

		t.categories = append(t.categories, Category{Name: name, Subcategories: ordered})
		t.subs[name] = set
		t.byLower[strings.ToLower(name)] = name
	}

	return t, nil
}

// MustNew is like New but panics on error. Intended for package-level defaults.
func MustNew(categories []Category) *Taxonomy {
	t, err := New(categories)
	if err != nil {
		panic(err)
	}
	return t
}

// Contains reports whether (category, subcategory) is a member, matching exactly
func (t *Taxonomy) Contains(category, subcategory string) bool {
	set, ok := t.subs[category]
	if !ok {
		return false
	}
	_, ok = set[subcategory]
	return ok
}

// Validate returns ErrUnknownPair if the pair is not a member
func (t *Taxonomy) Validate(category, subcategory string) error {
	if !t.Contains(category, subcategory) {
		return fmt.Errorf("%w: %s|%s", ErrUnknownPair, category, subcategory)
	}
	return nil
}

// Categories returns the ordered category definitions. The result must not be modified.
func (t *Taxonomy) Categories() []Category {
	return t.categories
}

// CategoryNames returns category names in declaration order
func (t *Taxonomy) CategoryNames() []string {
	names := make([]string, len(t.categories))
	for i, c := range t.categories {
		names[i] = c.Name
	}
	return names
}

// Subcategories returns the ordered subcategories of a category, or nil if unknown
func (t *Taxonomy) Subcategories(category string) []string {
	for _, c := range t.categories {
		if c.Name == category {
			return c.Subcategories
		}
	}
	return nil
}

// CanonicalCategory resolves a category name case-insensitively
func (t *Taxonomy) CanonicalCategory(name string) (string, bool) {
	canonical, ok := t.byLower[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// CanonicalSubcategory resolves a subcategory of category case-insensitively
func (t *Taxonomy) CanonicalSubcategory(category, name string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, sub := range t.Subcategories(category) {
		if strings.ToLower(sub) == want {
			return sub, true
		}
	}
	return "", false
}

// OwnersOf returns every category containing a subcategory with the given name,
// compared case-insensitively, in declaration order
func (t *Taxonomy) OwnersOf(subcategory string) []string {
	want := strings.ToLower(strings.TrimSpace(subcategory))
	var owners []string
	for _, c := range t.categories {
		for _, sub := range c.Subcategories {
			if strings.ToLower(sub) == want {
				owners = append(owners, c.Name)
				break
			}
		}
	}
	return owners
}

// Pairs returns every member pair in declaration order
func (t *Taxonomy) Pairs() []Pair {
	var pairs []Pair
	for _, c := range t.categories {
		for _, sub := range c.Subcategories {
			pairs = append(pairs, Pair{Category: c.Name, Subcategory: sub})
		}
	}
	return pairs
}

// Size returns the number of member pairs
func (t *Taxonomy) Size() int {
	n := 0
	for _, c := range t.categories {
		n += len(c.Subcategories)
	}
	return n
}

// file is the on-disk YAML layout
type file struct {
	Categories []Category `yaml:"categories"`
}

// LoadFile reads a taxonomy from a YAML file of the form
//
//	categories:
//	  - name: Footwear
//	    subcategories: [Athletic Shoes, Boots]
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML taxonomy document
func Parse(data []byte) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	return New(f.Categories)
}
