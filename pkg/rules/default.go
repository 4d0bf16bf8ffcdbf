package rules

import "github.com/ryanburden/mercari-buddy/pkg/taxonomy"

// DefaultRules are brand and product-noun shortcuts for the default taxonomy
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "athletic-brand-shoes", Category: "Footwear", Subcategory: "Athletic Shoes",
			Predicate: all{
				Keywords{Any: []string{"nike", "adidas", "asics", "new balance", "reebok"}},
				Keywords{Any: []string{"shoe", "sneaker", "trainer", "running"}, None: []string{"shoelace", "shoe bag"}},
			},
		},
		{
			Name: "makeup", Category: "Beauty", Subcategory: "Makeup",
			Predicate: Keywords{Any: []string{"lipstick", "mascara", "eyeliner", "eyeshadow", "foundation makeup"}},
		},
		{
			Name: "fragrance", Category: "Beauty", Subcategory: "Fragrances",
			Predicate: Keywords{Any: []string{"perfume", "cologne", "eau de parfum", "eau de toilette"}},
		},
		{
			Name: "levis-jeans", Category: "Clothing", Subcategory: "Bottoms",
			Predicate: Keywords{All: []string{"levis"}, Any: []string{"jeans", "denim", "501", "511"}},
		},
		{
			Name: "macbook", Category: "Electronics", Subcategory: "Computers",
			Predicate: Keywords{Any: []string{"macbook"}, None: []string{"case", "sleeve", "charger"}},
		},
		{
			Name: "game-console", Category: "Electronics", Subcategory: "Gaming",
			Predicate: mustExpr(`(tokens.exists(t, t in ["playstation", "ps4", "ps5", "xbox"]) || title.contains("nintendo switch")) && !title.contains("game only")`),
		},
	}
}

// Default returns an engine with DefaultRules over tax
func Default(tax *taxonomy.Taxonomy) (*Engine, error) {
	return New(tax, DefaultRules()...)
}

func mustExpr(source string) *Expr {
	e, err := CompileExpr(source)
	if err != nil {
		panic(err)
	}
	return e
}
