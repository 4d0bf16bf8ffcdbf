package llmcat

import (
	"fmt"
	"strings"

	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

// Prompt is one system+user exchange sent to the model
type Prompt struct {
	System string
	User   string
}

type example struct {
	title string
	pair  taxonomy.Pair
}

var examples = []example{
	{"Nike Air Max Running Shoes", taxonomy.Pair{Category: "Footwear", Subcategory: "Athletic Shoes"}},
	{"Samsung Galaxy Phone", taxonomy.Pair{Category: "Electronics", Subcategory: "Mobile Phones"}},
	{"Levi's Jeans", taxonomy.Pair{Category: "Clothing", Subcategory: "Bottoms"}},
	{"MAC Lipstick", taxonomy.Pair{Category: "Beauty", Subcategory: "Makeup"}},
}

// BuildPrompt returns the prompt for the given attempt (starting at 1). Each retry is more
// constrained: attempt 2 points at the rejected answer, attempt 3 and later list every
// valid answer line to copy from.
func BuildPrompt(tax *taxonomy.Taxonomy, title string, attempt int, previous string) Prompt {
	var sys strings.Builder
	sys.WriteString("You are a product categorization expert. You MUST categorize products using ONLY the predefined categories and subcategories provided.\n\n")
	sys.WriteString("STRICT FORMAT REQUIREMENT:\n")
	sys.WriteString("- Output format: Category|Subcategory\n")
	sys.WriteString("- Use ONLY categories and subcategories from the provided list\n")
	sys.WriteString("- If uncertain, choose the closest match\n")
	sys.WriteString("- NEVER create new categories or subcategories\n")
	sys.WriteString("- NEVER include explanations, just the category pair\n\n")

	if attempt >= 3 {
		sys.WriteString("Answer with EXACTLY ONE of the following lines, copied character for character:\n")
		for _, pair := range tax.Pairs() {
			sys.WriteString(pair.String())
			sys.WriteByte('\n')
		}
	} else {
		sys.WriteString("VALID CATEGORIES:\n")
		for _, c := range tax.Categories() {
			fmt.Fprintf(&sys, "- %s: %s\n", c.Name, strings.Join(c.Subcategories, ", "))
		}
		if ex := validExamples(tax); len(ex) > 0 {
			sys.WriteString("\nExamples:\n")
			for _, e := range ex {
				fmt.Fprintf(&sys, "- %s → %s\n", e.title, e.pair)
			}
		}
	}

	user := fmt.Sprintf("Categorize this product (format: Category|Subcategory): %s", title)
	switch {
	case attempt == 2 && previous != "":
		user = fmt.Sprintf("Your previous answer %q is not a valid Category|Subcategory pair from the list. "+
			"Reply with one category and one of its subcategories separated by a single |, nothing else.\n%s", previous, user)
	case attempt == 2:
		user = "Reply with one category and one of its subcategories separated by a single |, nothing else.\n" + user
	case attempt >= 3:
		user = fmt.Sprintf("Product: %s\nReply with exactly one line from the list and nothing else.", title)
	}

	return Prompt{System: strings.TrimRight(sys.String(), "\n"), User: user}
}

func validExamples(tax *taxonomy.Taxonomy) []example {
	var out []example
	for _, e := range examples {
		if tax.Contains(e.pair.Category, e.pair.Subcategory) {
			out = append(out, e)
		}
	}
	return out
}
