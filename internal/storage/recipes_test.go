package storage

import (
	"errors"
	"testing"
	"time"
)

func saveTestRecipe(t *testing.T, s *Store, id, title string, created time.Time) Recipe {
	t.Helper()
	r := Recipe{
		ID:          id,
		Title:       title,
		Ingredients: "1 cup milk\n2 eggs",
		Servings:    2,
		CreatedAt:   created,
	}
	if err := s.SaveRecipe(r); err != nil {
		t.Fatalf("SaveRecipe(%s): %v", id, err)
	}
	return r
}

func TestSaveAndGetRecipe(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	want := Recipe{
		ID:           "r1",
		Title:        "Pancakes",
		Description:  "Sunday breakfast",
		Ingredients:  "1 cup flour\n1 cup milk\n2 eggs",
		Instructions: "Mix. Fry.",
		Servings:     4,
		PrepMinutes:  10,
		CookMinutes:  15,
		SourceURL:    "https://example.com/pancakes",
		Tags:         `["breakfast"]`,
		CreatedAt:    now,
	}
	if err := s.SaveRecipe(want); err != nil {
		t.Fatalf("SaveRecipe: %v", err)
	}

	got, err := s.GetRecipe("r1")
	if err != nil {
		t.Fatalf("GetRecipe: %v", err)
	}
	if got.Title != want.Title || got.Ingredients != want.Ingredients || got.Servings != 4 {
		t.Errorf("GetRecipe = %+v", got)
	}
	if got.SourceURL != want.SourceURL || got.Tags != want.Tags {
		t.Errorf("SourceURL/Tags = %q/%q", got.SourceURL, got.Tags)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
}

func TestSaveRecipeDefaultTags(t *testing.T) {
	s := openTestStore(t)
	saveTestRecipe(t, s, "r1", "Soup", time.Now())

	got, err := s.GetRecipe("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tags != "[]" {
		t.Errorf("Tags = %q, want []", got.Tags)
	}
}

func TestGetRecipeNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetRecipe("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetRecipes(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	saveTestRecipe(t, s, "a", "A", now)
	saveTestRecipe(t, s, "b", "B", now)

	got, err := s.GetRecipes([]string{"b", "a"})
	if err != nil {
		t.Fatalf("GetRecipes: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("GetRecipes order = %v", got)
	}

	if _, err := s.GetRecipes([]string{"a", "zzz"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListRecipesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	saveTestRecipe(t, s, "old", "Old", base.Add(-2*time.Hour))
	saveTestRecipe(t, s, "new", "New", base)
	saveTestRecipe(t, s, "mid", "Mid", base.Add(-time.Hour))

	got, err := s.ListRecipes(2)
	if err != nil {
		t.Fatalf("ListRecipes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
}

func TestMealPlanRange(t *testing.T) {
	s := openTestStore(t)
	saveTestRecipe(t, s, "r1", "Soup", time.Now())
	saveTestRecipe(t, s, "r2", "Toast", time.Now())

	entries := []MealPlanEntry{
		{ID: "m1", Date: "2024-03-12", MealType: "dinner", RecipeID: "r1"},
		{ID: "m2", Date: "2024-03-12", MealType: "breakfast", RecipeID: "r2"},
		{ID: "m3", Date: "2024-03-18", MealType: "dinner", RecipeID: "r1"},
		{ID: "m4", Date: "2024-03-10", RecipeID: "r1"},
	}
	for _, e := range entries {
		if err := s.AddMealPlanEntry(e); err != nil {
			t.Fatalf("AddMealPlanEntry(%s): %v", e.ID, err)
		}
	}

	got, err := s.ListMealPlan("2024-03-11", "2024-03-17")
	if err != nil {
		t.Fatalf("ListMealPlan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ID != "m2" || got[1].ID != "m1" {
		t.Errorf("order = %s, %s; want breakfast before dinner", got[0].ID, got[1].ID)
	}

	all, _ := s.ListMealPlan("2024-03-01", "2024-03-31")
	for _, e := range all {
		if e.ID == "m4" && e.MealType != "dinner" {
			t.Errorf("default meal type = %q, want dinner", e.MealType)
		}
	}
}

func TestMealPlanDuplicateRejected(t *testing.T) {
	s := openTestStore(t)
	saveTestRecipe(t, s, "r1", "Soup", time.Now())

	e := MealPlanEntry{ID: "m1", Date: "2024-03-12", MealType: "dinner", RecipeID: "r1"}
	if err := s.AddMealPlanEntry(e); err != nil {
		t.Fatal(err)
	}
	e.ID = "m2"
	if err := s.AddMealPlanEntry(e); err == nil {
		t.Error("expected unique constraint violation")
	}
}

func TestDeleteMealPlanEntry(t *testing.T) {
	s := openTestStore(t)
	saveTestRecipe(t, s, "r1", "Soup", time.Now())
	s.AddMealPlanEntry(MealPlanEntry{ID: "m1", Date: "2024-03-12", RecipeID: "r1"})

	if err := s.DeleteMealPlanEntry("m1"); err != nil {
		t.Fatalf("DeleteMealPlanEntry: %v", err)
	}
	if err := s.DeleteMealPlanEntry("m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}
