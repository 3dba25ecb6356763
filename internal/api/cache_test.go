package api

import (
	"testing"
	"time"
)

func TestViewCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	c := NewViewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Put(ViewRecipes, "50", []byte("[]"))
	if _, ok := c.Get(ViewRecipes, "50"); !ok {
		t.Fatal("fresh entry missing")
	}

	now = now.Add(61 * time.Second)
	if _, ok := c.Get(ViewRecipes, "50"); ok {
		t.Error("expired entry still served")
	}
}

func TestViewCache_InvalidateDropsWholeGroup(t *testing.T) {
	c := NewViewCache(0)
	c.Put(ViewMealPlan, "2024-03-11", []byte("a"))
	c.Put(ViewMealPlan, "2024-03-18", []byte("b"))
	c.Put(ViewShoppingLists, "20", []byte("c"))

	c.Invalidate(ViewMealPlan, "unknown-group")

	for _, week := range []string{"2024-03-11", "2024-03-18"} {
		if _, ok := c.Get(ViewMealPlan, week); ok {
			t.Errorf("meal plan %s survived invalidation", week)
		}
	}
	if body, ok := c.Get(ViewShoppingLists, "20"); !ok || string(body) != "c" {
		t.Errorf("unrelated group lost: %q, %v", body, ok)
	}
}
