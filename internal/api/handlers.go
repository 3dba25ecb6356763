package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/mealkit/internal/calendar"
	"github.com/kalambet/mealkit/internal/importer"
	"github.com/kalambet/mealkit/internal/ingest"
	"github.com/kalambet/mealkit/internal/shopping"
	"github.com/kalambet/mealkit/internal/storage"
	"github.com/kalambet/mealkit/internal/validate"
)

// Base64 inflates a 10MB image to about 13.4MB.
const maxImportBodySize = 14 << 20

const nothingToGenerateMessage = "There's nothing to put on a shopping list yet. Plan some meals that have ingredients first."

// --- Recipes ---

func handleListRecipes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		serveCached(w, r, deps, ViewRecipes, strconv.Itoa(limit), func() (any, error) {
			recipes, err := deps.Store.ListRecipes(limit)
			if recipes == nil {
				recipes = []storage.Recipe{}
			}
			return recipes, err
		})
	}
}

func handleGetRecipe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipe, err := deps.Store.GetRecipe(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't load that recipe.")
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	}
}

type ImportRequest struct {
	Kind  string `json:"kind"` // text, url or image
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Image string `json:"image,omitempty"` // base64
	MIME  string `json:"mime,omitempty"`
}

// Input validates the request and converts it to import input.
func (req ImportRequest) Input() (importer.Input, error) {
	switch importer.Kind(req.Kind) {
	case importer.KindText, "":
		text, err := validate.RecipeText(req.Text)
		if err != nil {
			return importer.Input{}, err
		}
		return importer.Input{Kind: importer.KindText, Text: text}, nil
	case importer.KindURL:
		u, err := validate.URL(req.URL)
		if err != nil {
			return importer.Input{}, err
		}
		return importer.Input{Kind: importer.KindURL, URL: u.String()}, nil
	case importer.KindImage:
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return importer.Input{}, &validate.Error{Field: "image", Reason: "image must be base64 encoded"}
		}
		mime, err := validate.Image(data, req.MIME)
		if err != nil {
			return importer.Input{}, err
		}
		return importer.Input{Kind: importer.KindImage, Image: data, MIME: mime}, nil
	default:
		return importer.Input{}, &validate.Error{Field: "kind", Reason: "kind must be text, url or image"}
	}
}

func handleImportRecipe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if !decodeBody(w, r, maxImportBodySize, &req) {
			return
		}

		in, err := req.Input()
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusBadRequest, err, "")
			return
		}

		job, err := ingest.NewImportJob(in)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create import job")
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't queue the import. Please try again.")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

// JobView is the public shape of a queued job. Error is already user-safe.
type JobView struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
	RecipeID string `json:"recipe_id,omitempty"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't load that job.")
			return
		}
		view := JobView{ID: job.ID, Type: job.Type, Status: job.Status, Attempts: job.Attempts}
		if job.Status == "failed" {
			view.Error = job.LastError
		}
		if job.Status == "completed" && job.Type == ingest.JobTypeRecipeImport {
			view.RecipeID = job.Result
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// --- Meal plan ---

var mealTypes = map[string]bool{"breakfast": true, "lunch": true, "dinner": true, "snack": true}

type PlanRequest struct {
	Date     string `json:"date"`
	RecipeID string `json:"recipe_id"`
	MealType string `json:"meal_type"`
	Notes    string `json:"notes"`
}

type WeekPlan struct {
	WeekStart string                  `json:"week_start"`
	Days      []string                `json:"days"`
	Entries   []storage.MealPlanEntry `json:"entries"`
}

func handleGetPlan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("week")
		if date == "" {
			date = calendar.Today()
		}
		date, err := validate.Date("week", date)
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusBadRequest, err, "")
			return
		}
		days, err := calendar.WeekDates(date, deps.WeekStart)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		serveCached(w, r, deps, ViewMealPlan, days[0], func() (any, error) {
			entries, err := deps.Store.ListMealPlan(days[0], days[6])
			if entries == nil {
				entries = []storage.MealPlanEntry{}
			}
			return WeekPlan{WeekStart: days[0], Days: days, Entries: entries}, err
		})
	}
}

func handleAddPlanEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlanRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		date, err := validate.Date("date", req.Date)
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusBadRequest, err, "")
			return
		}
		if strings.TrimSpace(req.RecipeID) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "recipe_id is required")
			return
		}
		mealType := strings.ToLower(strings.TrimSpace(req.MealType))
		if mealType != "" && !mealTypes[mealType] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "meal_type must be breakfast, lunch, dinner or snack")
			return
		}
		if _, err := deps.Store.GetRecipe(req.RecipeID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		}

		entry := storage.MealPlanEntry{
			ID:        uuid.New().String(),
			Date:      date,
			MealType:  mealType,
			RecipeID:  req.RecipeID,
			Notes:     req.Notes,
			CreatedAt: time.Now().UTC(),
		}
		if entry.MealType == "" {
			entry.MealType = "dinner"
		}
		if err := deps.Store.AddMealPlanEntry(entry); err != nil {
			code := http.StatusInternalServerError
			if strings.Contains(strings.ToLower(err.Error()), "constraint") {
				code = http.StatusConflict
			}
			presentError(r.Context(), w, deps.Sanitizer, code, err, "Couldn't add that meal to the plan.")
			return
		}
		deps.Cache.Invalidate(ViewMealPlan)

		writeJSON(w, http.StatusCreated, entry)
	}
}

func handleDeletePlanEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteMealPlanEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "plan entry not found")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't remove that meal.")
			return
		}
		deps.Cache.Invalidate(ViewMealPlan)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Shopping lists ---

type GenerateRequest struct {
	Name      string   `json:"name,omitempty"`
	Week      string   `json:"week,omitempty"`
	RecipeIDs []string `json:"recipe_ids,omitempty"`
}

func handleGenerateShoppingList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		var (
			list storage.ShoppingList
			err  error
		)
		if len(req.RecipeIDs) > 0 {
			list, err = deps.Generator.ForRecipes(req.Name, req.RecipeIDs)
		} else {
			week := req.Week
			if week == "" {
				week = calendar.Today()
			}
			if week, err = validate.Date("week", week); err == nil {
				list, err = deps.Generator.ForWeek(week)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, shopping.ErrNothingToGenerate):
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", nothingToGenerateMessage)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "recipe not found")
			return
		default:
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't create the shopping list. Please try again.")
			return
		}

		deps.Cache.Invalidate(ViewShoppingLists)
		writeJSON(w, http.StatusCreated, list)
	}
}

func handleListShoppingLists(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		serveCached(w, r, deps, ViewShoppingLists, strconv.Itoa(limit), func() (any, error) {
			lists, err := deps.Store.ListShoppingLists(limit)
			if lists == nil {
				lists = []storage.ShoppingList{}
			}
			return lists, err
		})
	}
}

func handleGetShoppingList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.GetShoppingList(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "shopping list not found")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't load that shopping list.")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleSetItemPurchased(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Purchased *bool `json:"purchased"`
		}
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.Purchased == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "purchased is required")
			return
		}

		err := deps.Store.SetItemPurchased(chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), *req.Purchased)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't update that item.")
			return
		}
		deps.Cache.Invalidate(ViewShoppingLists)
		writeJSON(w, http.StatusOK, map[string]bool{"purchased": *req.Purchased})
	}
}

// --- Diagnostics ---

func handleListDiagnostics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		diags, err := deps.Store.RecentDiagnostics(parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list diagnostics")
			return
		}
		if diags == nil {
			diags = []storage.Diagnostic{}
		}
		writeJSON(w, http.StatusOK, diags)
	}
}
