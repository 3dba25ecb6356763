package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Recipe struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Ingredients  string    `json:"ingredients"` // free text, one ingredient per line
	Instructions string    `json:"instructions"`
	Servings     int       `json:"servings"`
	PrepMinutes  int       `json:"prep_minutes"`
	CookMinutes  int       `json:"cook_minutes"`
	SourceURL    string    `json:"source_url"`
	Tags         string    `json:"tags"` // JSON array stored as text
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MealPlanEntry struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`      // YYYY-MM-DD
	MealType  string    `json:"meal_type"` // "breakfast", "lunch", "dinner", "snack"
	RecipeID  string    `json:"recipe_id"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type ShoppingList struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	WeekStart string         `json:"week_start"` // empty for lists built from explicit recipes
	CreatedAt time.Time      `json:"created_at"`
	Items     []ShoppingItem `json:"items"`
}

type ShoppingItem struct {
	ID        string `json:"id"`
	ListID    string `json:"list_id"`
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	Category  string `json:"category"`
	Purchased bool   `json:"purchased"`
	Position  int    `json:"position"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error"`
	Result      string    `json:"result"`
}

// Diagnostic is a raw, unsanitized failure kept for later inspection.
type Diagnostic struct {
	ID        int64     `json:"id"`
	Scope     string    `json:"scope"`
	Kind      string    `json:"kind"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
