package llmcat

import (
	"regexp"
	"strings"

	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
)

// ExtractorKind identifies which extractor produced a candidate pair
type ExtractorKind int

const (
	PipeDelimited ExtractorKind = iota
	ColonDelimited
	DashDelimited
	ArrowDelimited
	TaxonomyScan
)

// Extractors is the fixed order in which responses are parsed
var Extractors = []ExtractorKind{PipeDelimited, ColonDelimited, DashDelimited, ArrowDelimited, TaxonomyScan}

func (k ExtractorKind) String() string {
	switch k {
	case PipeDelimited:
		return "pipe"
	case ColonDelimited:
		return "colon"
	case DashDelimited:
		return "dash"
	case ArrowDelimited:
		return "arrow"
	case TaxonomyScan:
		return "scan"
	default:
		return "unknown"
	}
}

// Delimited reports whether the extractor split the response on a separator, as opposed
// to recognizing taxonomy names in prose
func (k ExtractorKind) Delimited() bool {
	return k != TaxonomyScan
}

// Candidate is an unvalidated (category, subcategory) pair pulled out of a model response
type Candidate struct {
	Kind        ExtractorKind
	Category    string
	Subcategory string
}

// name characters: letters, digits, spaces, ampersands and apostrophes, never a line break
const nameClass = `[\p{L}\p{N}&'’ \t]`

var (
	pipePattern  = regexp.MustCompile(`(` + nameClass + `+)\|(` + nameClass + `+)`)
	colonPattern = regexp.MustCompile(`(` + nameClass + `+):(` + nameClass + `+)`)
	dashPattern  = regexp.MustCompile(`(` + nameClass + `+?)[ \t]+[-–—][ \t]+(` + nameClass + `+)`)
	arrowPattern = regexp.MustCompile(`(` + nameClass + `+?)[ \t]*(?:->|=>|→|»|>)[ \t]*(` + nameClass + `+)`)

	labeledPattern = regexp.MustCompile(`(?is)^\s*category\s*[:=]\s*(.+?)\s*[,;\n]\s*sub-?category\s*[:=]\s*(.+)$`)
)

var answerPrefixes = []string{
	"category:", "answer:", "result:", "output:", "product:",
	"the category is", "this product is", "category ",
}

// clean strips wrapping markup, quotes and answer prefixes from a raw response
func clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "`")
	s = strings.ReplaceAll(s, "**", "")

	if m := labeledPattern.FindStringSubmatch(s); m != nil {
		s = m[1] + "|" + m[2]
	}

	for changed := true; changed; {
		changed = false
		s = strings.Trim(s, "\"'“”‘’ \t\r\n")
		lower := strings.ToLower(s)
		for _, prefix := range answerPrefixes {
			if strings.HasPrefix(lower, prefix) {
				s = s[len(prefix):]
				changed = true
				break
			}
		}
	}
	return s
}

// Parse runs the extractor cascade over a raw response. The first extractor that yields
// a pair wins.
func Parse(raw string, tax *taxonomy.Taxonomy) (Candidate, bool) {
	text := clean(raw)
	if text == "" {
		return Candidate{}, false
	}

	for _, kind := range Extractors {
		if c, ok := extract(kind, text, tax); ok {
			return c, true
		}
	}
	return Candidate{}, false
}

func extract(kind ExtractorKind, text string, tax *taxonomy.Taxonomy) (Candidate, bool) {
	var re *regexp.Regexp
	switch kind {
	case PipeDelimited:
		re = pipePattern
	case ColonDelimited:
		re = colonPattern
	case DashDelimited:
		re = dashPattern
	case ArrowDelimited:
		re = arrowPattern
	case TaxonomyScan:
		return scan(text, tax)
	default:
		return Candidate{}, false
	}

	m := re.FindStringSubmatch(text)
	if m == nil {
		return Candidate{}, false
	}
	category, subcategory := trimName(m[1]), trimName(m[2])
	if category == "" || subcategory == "" {
		return Candidate{}, false
	}
	return Candidate{Kind: kind, Category: category, Subcategory: subcategory}, true
}

func trimName(s string) string {
	return strings.Trim(s, " \t'’")
}

type mention struct {
	start, end int
	name       string
}

// scan looks for taxonomy names inside free text. It picks the earliest mentioned
// category and the longest mentioned subcategory of it. With no category mentioned, a
// subcategory that belongs to exactly one category is enough.
func scan(text string, tax *taxonomy.Taxonomy) (Candidate, bool) {
	key := " " + normalize.Key(text) + " "

	var category *mention
	for _, name := range tax.CategoryNames() {
		for _, m := range findAll(key, name) {
			if category == nil || m.start < category.start {
				category = &m
			}
		}
	}

	// a subcategory must not be read out of the chosen category's own mentions
	var taken []mention
	if category != nil {
		taken = findAll(key, category.name)
	}
	free := func(m mention) bool {
		for _, c := range taken {
			if m.start < c.end && c.start < m.end {
				return false
			}
		}
		return true
	}

	longest := func(names []string, accept func(string) bool) string {
		best := ""
		for _, name := range names {
			if !accept(name) || len(normalize.Key(name)) <= len(normalize.Key(best)) {
				continue
			}
			for _, m := range findAll(key, name) {
				if free(m) {
					best = name
					break
				}
			}
		}
		return best
	}

	if category != nil {
		sub := longest(tax.Subcategories(category.name), func(string) bool { return true })
		if sub == "" {
			return Candidate{}, false
		}
		return Candidate{Kind: TaxonomyScan, Category: category.name, Subcategory: sub}, true
	}

	var all []string
	for _, pair := range tax.Pairs() {
		all = append(all, pair.Subcategory)
	}
	sub := longest(all, func(name string) bool { return len(tax.OwnersOf(name)) == 1 })
	if sub == "" {
		return Candidate{}, false
	}
	return Candidate{Kind: TaxonomyScan, Category: tax.OwnersOf(sub)[0], Subcategory: sub}, true
}

// findAll returns the word-bounded occurrences of name in a space padded normalized key
func findAll(key, name string) []mention {
	needle := " " + normalize.Key(name) + " "
	if strings.TrimSpace(needle) == "" {
		return nil
	}

	var out []mention
	for offset := 0; ; {
		i := strings.Index(key[offset:], needle)
		if i < 0 {
			return out
		}
		start := offset + i
		out = append(out, mention{start: start, end: start + len(needle) - 1, name: name})
		offset = start + 1
	}
}
