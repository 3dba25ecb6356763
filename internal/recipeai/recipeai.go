// Package recipeai wraps the remote recipe functions: parsing free text or a
// photo into a recipe, scraping a recipe page and suggesting recipes.
package recipeai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/storage"
	"github.com/kalambet/mealkit/internal/validate"
)

const (
	FnParseRecipe      = "parse-recipe"
	FnParseRecipeImage = "parse-recipe-image"
	FnScrapeRecipe     = "scrape-recipe"
	FnSuggestRecipes   = "suggest-recipes"
)

// Recipe is a recipe as returned by the remote functions.
type Recipe struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	Servings     int      `json:"servings,omitempty"`
	PrepTime     int      `json:"prepTime,omitempty"`
	CookTime     int      `json:"cookTime,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	SourceURL    string   `json:"sourceUrl,omitempty"`
}

// Record converts r into a storage record with the given ID.
func (r Recipe) Record(id string) storage.Recipe {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	return storage.Recipe{
		ID:           id,
		Title:        strings.TrimSpace(r.Title),
		Description:  r.Description,
		Ingredients:  strings.Join(r.Ingredients, "\n"),
		Instructions: strings.Join(r.Instructions, "\n"),
		Servings:     r.Servings,
		PrepMinutes:  r.PrepTime,
		CookMinutes:  r.CookTime,
		SourceURL:    r.SourceURL,
		Tags:         string(tagsJSON),
	}
}

// SuggestRequest asks for recipe ideas.
type SuggestRequest struct {
	Prompt      string   `json:"prompt,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
	Dietary     []string `json:"dietaryRestrictions,omitempty"`
	Count       int      `json:"count,omitempty"`
}

// Functions calls the recipe functions through an Invoker. Input is
// validated before any call; invalid input returns a *validate.Error.
type Functions struct {
	invoker remote.Invoker
}

func New(invoker remote.Invoker) *Functions {
	return &Functions{invoker: invoker}
}

func (f *Functions) ParseRecipe(ctx context.Context, text string) (Recipe, error) {
	text, err := validate.RecipeText(text)
	if err != nil {
		return Recipe{}, err
	}
	return f.callRecipe(ctx, FnParseRecipe, map[string]string{"text": text})
}

// ParseRecipeImage sends a photo of a recipe. The image is checked against
// the MIME allow-list and its magic bytes before it is encoded.
func (f *Functions) ParseRecipeImage(ctx context.Context, data []byte, mime string) (Recipe, error) {
	mime, err := validate.Image(data, mime)
	if err != nil {
		return Recipe{}, err
	}
	return f.callRecipe(ctx, FnParseRecipeImage, map[string]string{
		"image":    base64.StdEncoding.EncodeToString(data),
		"mimeType": mime,
	})
}

func (f *Functions) ScrapeRecipe(ctx context.Context, rawURL string) (Recipe, error) {
	u, err := validate.URL(rawURL)
	if err != nil {
		return Recipe{}, err
	}
	r, err := f.callRecipe(ctx, FnScrapeRecipe, map[string]string{"url": u.String()})
	if err != nil {
		return Recipe{}, err
	}
	if r.SourceURL == "" {
		r.SourceURL = u.String()
	}
	return r, nil
}

func (f *Functions) SuggestRecipes(ctx context.Context, req SuggestRequest) ([]Recipe, error) {
	if strings.TrimSpace(req.Prompt) != "" {
		p, err := validate.Message(req.Prompt, 0)
		if err != nil {
			return nil, err
		}
		req.Prompt = p
	} else if len(req.Ingredients) == 0 {
		return nil, &validate.Error{Field: "prompt", Reason: "describe what you'd like or list some ingredients"}
	}

	out := f.invoker.Invoke(ctx, remote.Request{Function: FnSuggestRecipes, Body: req})
	var resp struct {
		Recipes     []Recipe `json:"recipes"`
		Suggestions []Recipe `json:"suggestions"`
	}
	if err := out.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Recipes == nil {
		resp.Recipes = resp.Suggestions
	}
	return resp.Recipes, nil
}

// callRecipe accepts either {"recipe": {...}} or a bare recipe object.
func (f *Functions) callRecipe(ctx context.Context, fn string, body any) (Recipe, error) {
	out := f.invoker.Invoke(ctx, remote.Request{Function: fn, Body: body})

	var env struct {
		Recipe *Recipe `json:"recipe"`
	}
	if err := out.Decode(&env); err != nil {
		return Recipe{}, err
	}
	r := env.Recipe
	if r == nil {
		r = new(Recipe)
		if err := out.Decode(r); err != nil {
			return Recipe{}, err
		}
	}
	if strings.TrimSpace(r.Title) == "" && len(r.Ingredients) == 0 {
		return Recipe{}, fmt.Errorf("%s: response contained no recipe", fn)
	}
	return *r, nil
}
