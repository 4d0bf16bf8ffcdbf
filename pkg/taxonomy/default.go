package taxonomy

// Default returns the marketplace taxonomy used when no taxonomy file is configured.
func Default() *Taxonomy {
	return MustNew([]Category{
		{Name: "Clothing", Subcategories: []string{
			"Dresses", "Tops", "Bottoms", "Outerwear", "Activewear", "Sleepwear",
			"Underwear", "Swimwear", "Accessories", "Uniforms", "Costumes",
		}},
		{Name: "Footwear", Subcategories: []string{
			"Athletic Shoes", "Casual Shoes", "Dress Shoes", "Boots", "Sandals",
			"Heels", "Flats", "Slippers", "Specialty Footwear",
		}},
		{Name: "Beauty", Subcategories: []string{
			"Makeup", "Skincare", "Hair Care", "Fragrances", "Nail Care",
			"Bath & Body", "Tools & Accessories", "Men's Grooming",
		}},
		{Name: "Electronics", Subcategories: []string{
			"Mobile Phones", "Computers", "Audio & Video", "Gaming", "Cameras",
			"Wearables", "Smart Home", "Accessories", "Components",
		}},
		{Name: "Home & Garden", Subcategories: []string{
			"Furniture", "Decor", "Kitchen & Dining", "Bedding & Bath", "Storage",
			"Lighting", "Garden & Outdoor", "Cleaning Supplies", "Tools",
		}},
		{Name: "Sports & Outdoors", Subcategories: []string{
			"Exercise Equipment", "Outdoor Gear", "Sports Equipment", "Athletic Wear",
			"Water Sports", "Winter Sports", "Team Sports", "Fitness Accessories",
		}},
		{Name: "Toys & Games", Subcategories: []string{
			"Action Figures", "Dolls", "Board Games", "Educational Toys", "Electronic Toys",
			"Outdoor Toys", "Arts & Crafts", "Collectibles", "Baby Toys",
		}},
		{Name: "Books & Media", Subcategories: []string{
			"Books", "Movies & TV", "Music", "Video Games", "Magazines",
			"Educational Materials", "Digital Media",
		}},
		{Name: "Automotive", Subcategories: []string{
			"Parts & Accessories", "Tools & Equipment", "Car Care", "Electronics",
			"Interior Accessories", "Exterior Accessories", "Tires & Wheels",
		}},
		{Name: "Health & Personal Care", Subcategories: []string{
			"Vitamins & Supplements", "Medical Supplies", "Personal Care", "Oral Care",
			"Vision Care", "First Aid", "Mobility Aids",
		}},
		{Name: "Jewelry & Watches", Subcategories: []string{
			"Fine Jewelry", "Fashion Jewelry", "Watches", "Accessories",
			"Wedding & Engagement", "Men's Jewelry",
		}},
		{Name: "Baby & Kids", Subcategories: []string{
			"Baby Clothing", "Baby Gear", "Diapers & Feeding", "Toys",
			"Kids Clothing", "Kids Furniture", "Safety Products",
		}},
	})
}
