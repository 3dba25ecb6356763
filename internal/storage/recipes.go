package storage

import (
	"fmt"
	"time"
)

const recipeColumns = `id, title, description, ingredients, instructions, servings, prep_minutes, cook_minutes, source_url, tags, created_at, updated_at`

// --- Recipes ---

func (s *Store) SaveRecipe(r Recipe) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Tags == "" {
		r.Tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO recipes (`+recipeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Description, r.Ingredients, r.Instructions,
		r.Servings, r.PrepMinutes, r.CookMinutes, r.SourceURL, r.Tags,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	return err
}

func (s *Store) GetRecipe(id string) (Recipe, error) {
	return scanRecipe(s.db.QueryRow(`SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id))
}

// GetRecipes returns the recipes with the given IDs, in the same order. A
// missing ID is an error.
func (s *Store) GetRecipes(ids []string) ([]Recipe, error) {
	out := make([]Recipe, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRecipe(id)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", id, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ListRecipes returns the most recently created recipes first.
func (s *Store) ListRecipes(limit int) ([]Recipe, error) {
	rows, err := s.db.Query(`SELECT `+recipeColumns+` FROM recipes ORDER BY created_at DESC, title ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanRecipe(row scanner) (Recipe, error) {
	var r Recipe
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Ingredients, &r.Instructions,
		&r.Servings, &r.PrepMinutes, &r.CookMinutes, &r.SourceURL, &r.Tags, &createdAt, &updatedAt)
	if isNoRows(err) {
		return Recipe{}, ErrNotFound
	}
	if err != nil {
		return Recipe{}, err
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Recipe{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// --- Meal plan ---

func (s *Store) AddMealPlanEntry(e MealPlanEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.MealType == "" {
		e.MealType = "dinner"
	}
	_, err := s.db.Exec(`
		INSERT INTO meal_plan (id, date, meal_type, recipe_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.MealType, e.RecipeID, e.Notes, formatTime(e.CreatedAt),
	)
	return err
}

// ListMealPlan returns entries with from <= date <= to, ordered by date.
func (s *Store) ListMealPlan(from, to string) ([]MealPlanEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, date, meal_type, recipe_id, notes, created_at
		FROM meal_plan WHERE date >= ? AND date <= ?
		ORDER BY date ASC,
			CASE meal_type WHEN 'breakfast' THEN 0 WHEN 'lunch' THEN 1 WHEN 'dinner' THEN 2 ELSE 3 END,
			created_at ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MealPlanEntry
	for rows.Next() {
		var e MealPlanEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Date, &e.MealType, &e.RecipeID, &e.Notes, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) DeleteMealPlanEntry(id string) error {
	res, err := s.db.Exec(`DELETE FROM meal_plan WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
