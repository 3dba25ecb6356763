package recipeai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/validate"
)

type fakeInvoker struct {
	out  remote.Outcome
	reqs []remote.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req remote.Request) remote.Outcome {
	f.reqs = append(f.reqs, req)
	out := f.out
	out.Function = req.Function
	return out
}

func ok(payload string) remote.Outcome {
	return remote.Outcome{Kind: remote.KindSuccess, Payload: json.RawMessage(payload)}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func TestParseRecipe(t *testing.T) {
	inv := &fakeInvoker{out: ok(`{"recipe":{"title":"Pancakes","ingredients":["1 cup flour","2 eggs"],"instructions":["Mix","Fry"],"servings":4}}`)}
	r, err := New(inv).ParseRecipe(context.Background(), "  Pancakes: flour, eggs  ")
	require.NoError(t, err)

	assert.Equal(t, "Pancakes", r.Title)
	assert.Equal(t, []string{"1 cup flour", "2 eggs"}, r.Ingredients)
	require.Len(t, inv.reqs, 1)
	assert.Equal(t, FnParseRecipe, inv.reqs[0].Function)
	assert.Equal(t, map[string]string{"text": "Pancakes: flour, eggs"}, inv.reqs[0].Body)
	assert.Zero(t, inv.reqs[0].Timeout, "uses the client default deadline")
}

func TestParseRecipeBareObject(t *testing.T) {
	inv := &fakeInvoker{out: ok(`{"title":"Soup","ingredients":["1 onion"]}`)}
	r, err := New(inv).ParseRecipe(context.Background(), "soup")
	require.NoError(t, err)
	assert.Equal(t, "Soup", r.Title)
}

func TestParseRecipeEmptyResponse(t *testing.T) {
	inv := &fakeInvoker{out: ok(`null`)}
	_, err := New(inv).ParseRecipe(context.Background(), "soup")
	assert.ErrorContains(t, err, "no recipe")
}

func TestParseRecipeRejectsBeforeNetwork(t *testing.T) {
	inv := &fakeInvoker{}
	f := New(inv)

	_, err := f.ParseRecipe(context.Background(), "   ")
	var verr *validate.Error
	assert.ErrorAs(t, err, &verr)

	_, err = f.ParseRecipe(context.Background(), strings.Repeat("x", validate.MaxRecipeTextLength+1))
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, inv.reqs)
}

func TestParseRecipeImage(t *testing.T) {
	inv := &fakeInvoker{out: ok(`{"recipe":{"title":"Salad","ingredients":["lettuce"]}}`)}
	_, err := New(inv).ParseRecipeImage(context.Background(), pngBytes, "image/png")
	require.NoError(t, err)

	require.Len(t, inv.reqs, 1)
	body := inv.reqs[0].Body.(map[string]string)
	assert.Equal(t, "image/png", body["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), body["image"])
}

func TestParseRecipeImageRejectsSpoofedType(t *testing.T) {
	inv := &fakeInvoker{}
	_, err := New(inv).ParseRecipeImage(context.Background(), pngBytes, "image/jpeg")

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, inv.reqs)
}

func TestScrapeRecipe(t *testing.T) {
	inv := &fakeInvoker{out: ok(`{"recipe":{"title":"Chili","ingredients":["beans"]}}`)}
	r, err := New(inv).ScrapeRecipe(context.Background(), "https://example.com/chili")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/chili", r.SourceURL)

	_, err = New(inv).ScrapeRecipe(context.Background(), "ftp://example.com/chili")
	var verr *validate.Error
	assert.ErrorAs(t, err, &verr)
	assert.Len(t, inv.reqs, 1)
}

func TestRemoteErrorsReturnedAsIs(t *testing.T) {
	inv := &fakeInvoker{out: remote.Outcome{Kind: remote.KindHTTPError, Status: 429, Message: "rate limit"}}
	_, err := New(inv).ParseRecipe(context.Background(), "soup")

	var herr *remote.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 429, herr.Status)
}

func TestSuggestRecipes(t *testing.T) {
	inv := &fakeInvoker{out: ok(`{"suggestions":[{"title":"Omelette","ingredients":["eggs"]},{"title":"Frittata"}]}`)}
	got, err := New(inv).SuggestRecipes(context.Background(), SuggestRequest{Ingredients: []string{"eggs"}, Count: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Omelette", got[0].Title)
	assert.Equal(t, FnSuggestRecipes, inv.reqs[0].Function)

	_, err = New(inv).SuggestRecipes(context.Background(), SuggestRequest{})
	var verr *validate.Error
	assert.ErrorAs(t, err, &verr)
	assert.Len(t, inv.reqs, 1)
}

func TestRecord(t *testing.T) {
	rec := Recipe{
		Title:        " Pancakes ",
		Ingredients:  []string{"1 cup flour", "2 eggs"},
		Instructions: []string{"Mix", "Fry"},
		PrepTime:     5,
		CookTime:     10,
		Tags:         []string{"breakfast"},
	}.Record("r1")

	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "Pancakes", rec.Title)
	assert.Equal(t, "1 cup flour\n2 eggs", rec.Ingredients)
	assert.Equal(t, "Mix\nFry", rec.Instructions)
	assert.Equal(t, 5, rec.PrepMinutes)
	assert.Equal(t, `["breakfast"]`, rec.Tags)
	assert.Equal(t, "[]", Recipe{}.Record("x").Tags)
}
