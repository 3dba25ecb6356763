package shopping

import (
	"regexp"
	"strings"
)

// Category is a shopping aisle.
type Category string

const (
	Dairy       Category = "Dairy"
	MeatSeafood Category = "Meat & Seafood"
	Fruits      Category = "Fruits"
	Vegetables  Category = "Vegetables"
	Grains      Category = "Grains & Bread"
	Spices      Category = "Spices"
	Condiments  Category = "Condiments"
	Canned      Category = "Canned Goods"
	Frozen      Category = "Frozen"
	Other       Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{Dairy, MeatSeafood, Fruits, Vegetables, Grains, Spices, Condiments, Canned, Frozen, Other}

type categoryRule struct {
	category Category
	pattern  *regexp.Regexp
}

// categoryRules is ordered; the first match wins.
var categoryRules = []categoryRule{
	{Dairy, regexp.MustCompile(`\b(milk|cheese|butter|cream|yogh?urt|eggs?|parmesan|mozzarella|cheddar|ricotta|feta|buttermilk|ghee)\b`)},
	{MeatSeafood, regexp.MustCompile(`\b(chicken|beef|pork|lamb|turkey|bacon|sausages?|ham|steaks?|mince|fish|salmon|tuna|shrimps?|prawns?|cod|crab|lobster|anchov(y|ies)|chorizo)\b`)},
	{Fruits, regexp.MustCompile(`\b(apples?|bananas?|oranges?|lemons?|limes?|berry|berries|strawberr(y|ies)|blueberr(y|ies)|raspberr(y|ies)|grapes?|mangoe?s?|pineapples?|peach(es)?|pears?|cherr(y|ies)|avocados?|raisins?)\b`)},
	{Vegetables, regexp.MustCompile(`\b(onions?|garlic|tomato(es)?|potato(es)?|carrots?|celery|(bell|red|green|yellow) peppers?|lettuce|spinach|broccoli|cabbage|cucumbers?|zucchinis?|mushrooms?|kale|peas|corn|leeks?|shallots?|squash|eggplants?|cauliflower|asparagus|green beans)\b`)},
	{Grains, regexp.MustCompile(`\b(bread|flour|rice|pasta|spaghetti|noodles?|oats?|tortillas?|buns?|quinoa|couscous|cereal|crackers?|bagels?|baguettes?|breadcrumbs)\b`)},
	{Spices, regexp.MustCompile(`\b(salt|pepper|cumin|paprika|oregano|basil|thyme|rosemary|cinnamon|nutmeg|chili powder|curry|turmeric|parsley|cilantro|coriander|ginger|bay lea(f|ves)|vanilla)\b`)},
	{Condiments, regexp.MustCompile(`\b(ketchup|mustard|mayo(nnaise)?|soy sauce|vinegar|sauce|oil|honey|syrup|jam|dressing|salsa)\b`)},
	{Canned, regexp.MustCompile(`\b(canned|tinned|beans|chickpeas|lentils|broth|stock)\b`)},
	{Frozen, regexp.MustCompile(`\bfrozen\b`)},
}

// Categorize assigns a category to an ingredient name.
func Categorize(name string) Category {
	name = strings.ToLower(name)
	for _, r := range categoryRules {
		if r.pattern.MatchString(name) {
			return r.category
		}
	}
	return Other
}
