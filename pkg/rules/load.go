package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

type ruleSpec struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Subcategory string   `yaml:"subcategory"`
	All         []string `yaml:"all"`
	Any         []string `yaml:"any"`
	None        []string `yaml:"none"`
	Expr        string   `yaml:"expr"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadFile reads ordered rules from YAML:
//
//	rules:
//	  - name: nike-shoes
//	    category: Footwear
//	    subcategory: Athletic Shoes
//	    all: [nike]
//	    any: [shoe, sneaker]
//	  - name: consoles
//	    category: Electronics
//	    subcategory: Gaming
//	    expr: '"ps5" in tokens'
//
// A rule with both keywords and expr requires both to hold.
func LoadFile(path string, tax *taxonomy.Taxonomy) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return Parse(data, tax)
}

// Parse decodes a YAML rules document
func Parse(data []byte, tax *taxonomy.Taxonomy) (*Engine, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		var preds all
		if len(spec.All)+len(spec.Any)+len(spec.None) > 0 {
			preds = append(preds, Keywords{All: spec.All, Any: spec.Any, None: spec.None}.normalized())
		}
		if spec.Expr != "" {
			expr, err := CompileExpr(spec.Expr)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
			}
			preds = append(preds, expr)
		}
		if len(preds) == 0 {
			return nil, fmt.Errorf("rule %d (%s) has no keywords or expr", i, spec.Name)
		}

		var pred Predicate = preds
		if len(preds) == 1 {
			pred = preds[0]
		}
		rules = append(rules, Rule{
			Name:        spec.Name,
			Category:    spec.Category,
			Subcategory: spec.Subcategory,
			Predicate:   pred,
		})
	}
	return New(tax, rules...)
}
