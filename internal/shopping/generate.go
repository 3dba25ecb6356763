package shopping

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mealkit/internal/calendar"
	"github.com/kalambet/mealkit/internal/storage"
)

// Store is the persistence the generator needs.
type Store interface {
	ListMealPlan(from, to string) ([]storage.MealPlanEntry, error)
	GetRecipes(ids []string) ([]storage.Recipe, error)
	SaveShoppingList(l storage.ShoppingList) error
}

// Generator builds shopping lists from planned meals or explicit recipes.
// A failure leaves earlier lists untouched and is never retried.
type Generator struct {
	store     Store
	weekStart time.Weekday
	logger    *slog.Logger
}

func NewGenerator(store Store, weekStart time.Weekday) *Generator {
	return &Generator{store: store, weekStart: weekStart, logger: slog.Default()}
}

// ForWeek builds a list from every meal planned in the week containing date.
func (g *Generator) ForWeek(date string) (storage.ShoppingList, error) {
	days, err := calendar.WeekDates(date, g.weekStart)
	if err != nil {
		return storage.ShoppingList{}, err
	}

	entries, err := g.store.ListMealPlan(days[0], days[6])
	if err != nil {
		return storage.ShoppingList{}, fmt.Errorf("loading meal plan: %w", err)
	}
	if len(entries) == 0 {
		return storage.ShoppingList{}, fmt.Errorf("no meals planned for the week of %s: %w", days[0], ErrNothingToGenerate)
	}

	var ids []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if !seen[e.RecipeID] {
			seen[e.RecipeID] = true
			ids = append(ids, e.RecipeID)
		}
	}

	return g.build("Week of "+days[0], days[0], ids)
}

// ForRecipes builds a list from the given recipes. An empty name gets a
// generated one.
func (g *Generator) ForRecipes(name string, recipeIDs []string) (storage.ShoppingList, error) {
	if len(recipeIDs) == 0 {
		return storage.ShoppingList{}, ErrNothingToGenerate
	}
	if strings.TrimSpace(name) == "" {
		name = "Shopping list " + time.Now().Format("2006-01-02")
	}
	return g.build(name, "", recipeIDs)
}

func (g *Generator) build(name, weekStart string, recipeIDs []string) (storage.ShoppingList, error) {
	recipes, err := g.store.GetRecipes(recipeIDs)
	if err != nil {
		return storage.ShoppingList{}, fmt.Errorf("loading recipes: %w", err)
	}

	blocks := make([]RecipeIngredients, 0, len(recipes))
	for _, r := range recipes {
		blocks = append(blocks, RecipeIngredients{RecipeID: r.ID, Ingredients: r.Ingredients})
	}

	items, err := Extract(blocks)
	if err != nil {
		return storage.ShoppingList{}, err
	}

	list := storage.ShoppingList{
		ID:        uuid.New().String(),
		Name:      name,
		WeekStart: weekStart,
		CreatedAt: time.Now().UTC(),
	}
	for i, it := range items {
		list.Items = append(list.Items, storage.ShoppingItem{
			ID:       uuid.New().String(),
			ListID:   list.ID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Category: string(it.Category),
			Position: i,
		})
	}

	if err := g.store.SaveShoppingList(list); err != nil {
		return storage.ShoppingList{}, fmt.Errorf("saving shopping list: %w", err)
	}
	g.logger.Info("shopping list generated", "list_id", list.ID, "recipes", len(recipes), "items", len(list.Items))
	return list, nil
}
