package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mealkit/internal/importer"
	"github.com/kalambet/mealkit/internal/recipeai"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/storage"
)

// JobTypeRecipeImport is the queue type for recipe imports.
const JobTypeRecipeImport = "recipe_import"

const importFallback = "Couldn't import that recipe. Please try again."

// JobStore abstracts the job queue and recipe persistence.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, result string) error
	FailJob(id string, errMsg string) error
	SaveRecipe(r storage.Recipe) error
}

// RecipeParser turns import input into a recipe.
type RecipeParser interface {
	ParseRecipe(ctx context.Context, text string) (recipeai.Recipe, error)
	ParseRecipeImage(ctx context.Context, data []byte, mime string) (recipeai.Recipe, error)
	ScrapeRecipe(ctx context.Context, rawURL string) (recipeai.Recipe, error)
}

// Invalidator is told when a new recipe was saved.
type Invalidator interface {
	Invalidate(keys ...string)
}

// Worker processes recipe_import jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	parser    RecipeParser
	sanitizer *sanitize.Sanitizer
	poll      time.Duration
	logger    *slog.Logger

	// Invalidator, if set, drops cached recipe lists after each import.
	Invalidator Invalidator
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, parser RecipeParser, sanitizer *sanitize.Sanitizer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if sanitizer == nil {
		sanitizer = sanitize.New(nil)
	}
	return &Worker{
		store:     store,
		parser:    parser,
		sanitizer: sanitizer,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single recipe_import job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeRecipeImport})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	recipeID, err := w.processJob(ctx, job)
	if err != nil {
		// The job keeps only the user-safe message; the raw error goes to
		// the diagnostic sink.
		safe := w.sanitizer.Present(ctx, err, importFallback)
		w.logger.Warn("recipe import failed", "job_id", job.ID, "message", safe.UserMessage)
		if failErr := w.store.FailJob(job.ID, safe.UserMessage); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, recipeID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if w.Invalidator != nil {
		w.Invalidator.Invalidate("recipes")
	}
	w.logger.Info("recipe imported", "job_id", job.ID, "recipe_id", recipeID)
	return true, nil
}

type importPayload struct {
	Kind  importer.Kind `json:"kind"`
	Text  string        `json:"text,omitempty"`
	URL   string        `json:"url,omitempty"`
	Image string        `json:"image,omitempty"` // base64
	MIME  string        `json:"mime,omitempty"`
}

// NewImportJob builds a queue entry for in. Imports are attempted once; a
// failure is reported to the user rather than retried.
func NewImportJob(in importer.Input) (storage.Job, error) {
	p := importPayload{Kind: in.Kind, Text: in.Text, URL: in.URL, MIME: in.MIME}
	if len(in.Image) > 0 {
		p.Image = base64.StdEncoding.EncodeToString(in.Image)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding import payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeRecipeImport,
		PayloadJSON: string(raw),
		MaxAttempts: 1,
	}, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload importPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	var (
		parsed recipeai.Recipe
		err    error
	)
	switch payload.Kind {
	case importer.KindText:
		parsed, err = w.parser.ParseRecipe(ctx, payload.Text)
	case importer.KindURL:
		parsed, err = w.parser.ScrapeRecipe(ctx, payload.URL)
	case importer.KindImage:
		data, decErr := base64.StdEncoding.DecodeString(payload.Image)
		if decErr != nil {
			return "", fmt.Errorf("decoding image: %w", decErr)
		}
		parsed, err = w.parser.ParseRecipeImage(ctx, data, payload.MIME)
	default:
		return "", fmt.Errorf("unknown import kind %q", payload.Kind)
	}
	if err != nil {
		return "", err
	}

	rec := parsed.Record(uuid.New().String())
	if rec.Title == "" {
		rec.Title = "Untitled recipe"
	}
	if err := w.store.SaveRecipe(rec); err != nil {
		return "", fmt.Errorf("saving recipe: %w", err)
	}
	return rec.ID, nil
}
