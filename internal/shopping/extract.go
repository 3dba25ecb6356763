// Package shopping turns free-text recipe ingredients into a deduplicated,
// categorised shopping list.
package shopping

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNothingToGenerate is returned when the selected recipes contain no
// ingredient lines at all.
var ErrNothingToGenerate = errors.New("no ingredients found in the selected recipes")

// RecipeIngredients is one recipe's ingredient block, one ingredient per line.
type RecipeIngredients struct {
	RecipeID    string
	Ingredients string
}

// Item is one shopping list entry.
type Item struct {
	Name      string   `json:"name"`
	Quantity  string   `json:"quantity"`
	Category  Category `json:"category"`
	Purchased bool     `json:"purchased"`
}

// Extract parses every ingredient line, keeps the first occurrence of each
// normalized name and assigns categories. Later duplicates are dropped
// without merging their quantities.
func Extract(recipes []RecipeIngredients) ([]Item, error) {
	seen := make(map[string]bool)
	var items []Item

	for _, r := range recipes {
		for _, line := range strings.Split(r.Ingredients, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			qty, name := ParseLine(line)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			items = append(items, Item{
				Name:     capitalize(name),
				Quantity: qty,
				Category: Categorize(name),
			})
		}
	}

	if len(items) == 0 {
		return nil, ErrNothingToGenerate
	}
	return items, nil
}

// ParseLine splits an ingredient line into its quantity text and its
// normalized name. The quantity is the leading run of digits, fraction
// glyphs, spaces, slashes, dots and dashes, plus a following unit word
// when there is one. A line without a quantity is all name.
func ParseLine(line string) (quantity, name string) {
	s := stripBullet(strings.TrimSpace(line))

	end := quantityEnd(s)
	if end == 0 {
		return "", Normalize(s)
	}

	quantity = strings.TrimSpace(s[:end])
	rest := s[end:]

	// A unit may follow the number directly ("200g") or after a space.
	lead := len(rest) - len(strings.TrimLeft(rest, " \t"))
	word, after := splitWord(rest[lead:])
	if isUnit(word) && strings.TrimSpace(after) != "" {
		quantity = strings.TrimSpace(s[:end+lead+len(word)])
		rest = after
	}

	name = Normalize(rest)
	name = strings.TrimPrefix(name, "of ")
	return quantity, strings.TrimSpace(name)
}

// Normalize produces the dedup key for an ingredient name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var bullets = []string{"-", "*", "•", "·", "–", "—", "▪", "◦"}

func stripBullet(s string) string {
	for _, b := range bullets {
		if strings.HasPrefix(s, b) {
			return strings.TrimSpace(strings.TrimPrefix(s, b))
		}
	}
	return s
}

func isFraction(r rune) bool {
	switch r {
	case '½', '⅓', '⅔', '¼', '¾', '⅕', '⅖', '⅗', '⅘', '⅙', '⅚', '⅛', '⅜', '⅝', '⅞':
		return true
	}
	return false
}

// quantityEnd returns the byte offset where the quantity span ends, or 0
// if the line does not start with a number.
func quantityEnd(s string) int {
	first, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsDigit(first) && !isFraction(first) {
		return 0
	}
	end := 0
	for i, r := range s {
		if unicode.IsDigit(r) || isFraction(r) || r == ' ' || r == '/' || r == '.' || r == '-' {
			end = i + utf8.RuneLen(r)
			continue
		}
		break
	}
	return end
}

func splitWord(s string) (word, rest string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

var units = map[string]bool{
	"cup": true, "cups": true, "c": true,
	"tbsp": true, "tbs": true, "tablespoon": true, "tablespoons": true, "t": true,
	"tsp": true, "teaspoon": true, "teaspoons": true,
	"oz": true, "ounce": true, "ounces": true,
	"lb": true, "lbs": true, "pound": true, "pounds": true,
	"g": true, "gram": true, "grams": true, "kg": true, "kilogram": true, "kilograms": true,
	"ml": true, "milliliter": true, "milliliters": true, "millilitre": true, "millilitres": true,
	"l": true, "liter": true, "liters": true, "litre": true, "litres": true,
	"pint": true, "pints": true, "pt": true, "quart": true, "quarts": true, "qt": true,
	"pinch": true, "pinches": true, "dash": true, "dashes": true, "handful": true, "handfuls": true,
	"clove": true, "cloves": true, "can": true, "cans": true, "tin": true, "tins": true,
	"package": true, "packages": true, "pkg": true, "packet": true, "packets": true,
	"slice": true, "slices": true, "stick": true, "sticks": true,
	"bunch": true, "bunches": true, "sprig": true, "sprigs": true,
	"jar": true, "jars": true, "bottle": true, "bottles": true,
}

func isUnit(word string) bool {
	w := strings.ToLower(strings.TrimRight(word, ".,"))
	return w != "" && units[w]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
