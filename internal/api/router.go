package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/shopping"
	"github.com/kalambet/mealkit/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the local API serves from.
type Deps struct {
	Store         *storage.Store
	Token         string
	Generator     *shopping.Generator
	Sanitizer     *sanitize.Sanitizer
	Conversations *Conversations
	Cache         *ViewCache
	WeekStart     time.Weekday
}

// NewHandler returns the local API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Sanitizer == nil {
		deps.Sanitizer = sanitize.New(nil)
	}
	if deps.Cache == nil {
		deps.Cache = NewViewCache(0)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/recipes", handleListRecipes(deps))
		r.Get("/recipes/{id}", handleGetRecipe(deps))
		r.Post("/recipes/import", handleImportRecipe(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Get("/plan", handleGetPlan(deps))
		r.Post("/plan", handleAddPlanEntry(deps))
		r.Delete("/plan/{id}", handleDeletePlanEntry(deps))

		r.Post("/shopping-lists/generate", handleGenerateShoppingList(deps))
		r.Get("/shopping-lists", handleListShoppingLists(deps))
		r.Get("/shopping-lists/{id}", handleGetShoppingList(deps))
		r.Patch("/shopping-lists/{id}/items/{itemID}", handleSetItemPurchased(deps))

		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Post("/conversations/{id}/messages", handleSendMessage(deps))
		r.Post("/conversations/{id}/cancel", handleCancelConversation(deps))
		r.Delete("/conversations/{id}/turns", handleClearConversation(deps))

		r.Get("/diagnostics", handleListDiagnostics(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// serveCached answers from the view cache, loading and storing the view on
// a miss.
func serveCached(w http.ResponseWriter, r *http.Request, deps Deps, group, variant string, load func() (any, error)) {
	if body, ok := deps.Cache.Get(group, variant); ok {
		w.Header().Set("X-Cache", "hit")
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	v, err := load()
	if err != nil {
		presentError(r.Context(), w, deps.Sanitizer, http.StatusInternalServerError, err, "Couldn't load that list. Please try again.")
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to encode response")
		return
	}
	deps.Cache.Put(group, variant, body)

	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
