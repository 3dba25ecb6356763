package storage

import (
	"errors"
	"testing"
	"time"
)

func TestSaveAndGetShoppingList(t *testing.T) {
	s := openTestStore(t)

	list := ShoppingList{
		ID:        "l1",
		Name:      "Week of 2024-03-11",
		WeekStart: "2024-03-11",
		Items: []ShoppingItem{
			{ID: "i1", Name: "Milk", Quantity: "1 cup", Category: "Dairy"},
			{ID: "i2", Name: "Onion", Quantity: "1", Category: "Vegetables"},
		},
	}
	if err := s.SaveShoppingList(list); err != nil {
		t.Fatalf("SaveShoppingList: %v", err)
	}

	got, err := s.GetShoppingList("l1")
	if err != nil {
		t.Fatalf("GetShoppingList: %v", err)
	}
	if got.Name != list.Name || got.WeekStart != "2024-03-11" {
		t.Errorf("list = %+v", got)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items))
	}
	if got.Items[0].Name != "Milk" || got.Items[1].Name != "Onion" {
		t.Errorf("item order = %s, %s", got.Items[0].Name, got.Items[1].Name)
	}
	if got.Items[1].Position != 1 || got.Items[1].ListID != "l1" {
		t.Errorf("item[1] = %+v", got.Items[1])
	}
	if got.Items[0].Purchased {
		t.Error("new item should not be purchased")
	}
}

func TestSaveShoppingListIsAtomic(t *testing.T) {
	s := openTestStore(t)

	list := ShoppingList{
		ID:   "l1",
		Name: "Broken",
		Items: []ShoppingItem{
			{ID: "dup", Name: "Milk"},
			{ID: "dup", Name: "Eggs"},
		},
	}
	if err := s.SaveShoppingList(list); err == nil {
		t.Fatal("expected error for duplicate item IDs")
	}

	if _, err := s.GetShoppingList("l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial list was written: err = %v", err)
	}
}

func TestListShoppingLists(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	s.SaveShoppingList(ShoppingList{ID: "old", Name: "Old", CreatedAt: base.Add(-time.Hour)})
	s.SaveShoppingList(ShoppingList{ID: "new", Name: "New", CreatedAt: base})

	got, err := s.ListShoppingLists(10)
	if err != nil {
		t.Fatalf("ListShoppingLists: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" {
		t.Errorf("ListShoppingLists = %+v", got)
	}
}

func TestSetItemPurchased(t *testing.T) {
	s := openTestStore(t)
	s.SaveShoppingList(ShoppingList{ID: "l1", Name: "L", Items: []ShoppingItem{{ID: "i1", Name: "Milk"}}})

	if err := s.SetItemPurchased("l1", "i1", true); err != nil {
		t.Fatalf("SetItemPurchased: %v", err)
	}
	got, _ := s.GetShoppingList("l1")
	if !got.Items[0].Purchased {
		t.Error("item not marked purchased")
	}

	if err := s.SetItemPurchased("other-list", "i1", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong list error = %v, want ErrNotFound", err)
	}
}

func TestRecordDiagnostics(t *testing.T) {
	s := openTestStore(t)

	for _, msg := range []string{"first", "second"} {
		if err := s.RecordDiagnostic(Diagnostic{Scope: "parse-recipe", Kind: "http_error", Status: 500, Message: msg}); err != nil {
			t.Fatalf("RecordDiagnostic: %v", err)
		}
	}

	got, err := s.RecentDiagnostics(10)
	if err != nil {
		t.Fatalf("RecentDiagnostics: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "second" || got[0].Status != 500 || got[0].Scope != "parse-recipe" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}
