package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mealkit/internal/assistant"
	"github.com/kalambet/mealkit/internal/calendar"
	"github.com/kalambet/mealkit/internal/ingest"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/shopping"
	"github.com/kalambet/mealkit/internal/storage"
	"github.com/kalambet/mealkit/internal/validate"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store         *storage.Store
	Generator     *shopping.Generator
	Conversations *Conversations
	Sanitizer     *sanitize.Sanitizer
	Cache         *ViewCache // optional
	WeekStart     time.Weekday
}

// NewMCPServer creates an MCP server with all mealkit tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Sanitizer == nil {
		deps.Sanitizer = sanitize.New(nil)
	}

	s := server.NewMCPServer(
		"mealkit",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mealkit: household recipes, weekly meal plans and shopping lists."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("import_recipe",
			mcp.WithDescription("Queue a recipe import from pasted text or a recipe page URL. Returns the job ID."),
			mcp.WithString("text", mcp.Description("Recipe text to parse")),
			mcp.WithString("url", mcp.Description("Recipe page to scrape (http or https)")),
		),
		mcpImportRecipe(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_shopping_list",
			mcp.WithDescription("Build a categorized shopping list from the meals planned in a week, or from specific recipes."),
			mcp.WithString("week", mcp.Description("Any date in the week, YYYY-MM-DD (default today)")),
			mcp.WithArray("recipe_ids", mcp.Description("Recipe IDs to shop for instead of the planned week")),
			mcp.WithString("name", mcp.Description("List name when recipe_ids is given")),
		),
		mcpGenerateShoppingList(deps),
	)

	s.AddTool(
		mcp.NewTool("week_start",
			mcp.WithDescription("Return the first day of the planning week that contains a date."),
			mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD (default today)")),
		),
		mcpWeekStart(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_assistant",
			mcp.WithDescription("Send a message to the meal assistant and wait for its reply."),
			mcp.WithString("message", mcp.Description("What to ask"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Continue an earlier conversation")),
		),
		mcpAskAssistant(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"recipes://recent",
			"Recent Recipes",
			mcp.WithResourceDescription("The 10 most recently saved recipes"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRecipes(deps),
	)

	return s
}

func mcpImportRecipe(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text := req.GetString("text", "")
		rawURL := req.GetString("url", "")

		var ir ImportRequest
		switch {
		case rawURL != "":
			ir = ImportRequest{Kind: "url", URL: rawURL}
		case text != "":
			ir = ImportRequest{Kind: "text", Text: text}
		default:
			return mcpError("text or url is required"), nil
		}

		in, err := ir.Input()
		if err != nil {
			return mcpError(deps.Sanitizer.Present(ctx, err, "").UserMessage), nil
		}
		job, err := ingest.NewImportJob(in)
		if err != nil {
			return mcpError("failed to create import job"), nil
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(deps.Sanitizer.Present(ctx, err, "Couldn't queue the import.").UserMessage), nil
		}

		return mcpText(fmt.Sprintf("Queued recipe import %s", job.ID)), nil
	}
}

func mcpGenerateShoppingList(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := req.GetStringSlice("recipe_ids", nil)

		var (
			list storage.ShoppingList
			err  error
		)
		if len(ids) > 0 {
			list, err = deps.Generator.ForRecipes(req.GetString("name", ""), ids)
		} else {
			var week string
			if week, err = validate.Date("week", req.GetString("week", calendar.Today())); err == nil {
				list, err = deps.Generator.ForWeek(week)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, shopping.ErrNothingToGenerate):
			return mcpError(nothingToGenerateMessage), nil
		case errors.Is(err, storage.ErrNotFound):
			return mcpError("recipe not found"), nil
		default:
			return mcpError(deps.Sanitizer.Present(ctx, err, "Couldn't create the shopping list.").UserMessage), nil
		}
		if deps.Cache != nil {
			deps.Cache.Invalidate(ViewShoppingLists)
		}

		b, err := json.Marshal(list)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal list: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWeekStart(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := validate.Date("date", req.GetString("date", calendar.Today()))
		if err != nil {
			return mcpError(deps.Sanitizer.Present(ctx, err, "").UserMessage), nil
		}
		start, err := calendar.WeekStart(date, deps.WeekStart)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(start), nil
	}
}

func mcpAskAssistant(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		id := req.GetString("conversation_id", "")
		var m *assistant.Manager
		if id == "" {
			id, m = deps.Conversations.Create()
		} else {
			var ok bool
			if m, ok = deps.Conversations.Get(id); !ok {
				return mcpError("conversation not found"), nil
			}
		}

		if err := m.SubmitErr(ctx, message); err != nil {
			if errors.Is(err, assistant.ErrBusy) {
				return mcpError("A reply is already pending in this conversation."), nil
			}
			return mcpError(deps.Sanitizer.Present(ctx, err, "").UserMessage), nil
		}

		done := make(chan struct{})
		go func() {
			m.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			m.Cancel()
			return mcpError("The request was cancelled."), nil
		}

		reply, ok := lastReply(m.Turns())
		if !ok {
			return mcpError("The assistant did not reply."), nil
		}
		b, err := json.Marshal(map[string]any{
			"conversation_id": id,
			"reply":           strings.TrimSpace(reply.Text),
			"data":            reply.Data,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentRecipes(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recipes, err := deps.Store.ListRecipes(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list recipes: %w", err)
		}

		type recipeSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]recipeSummary, len(recipes))
		for i, r := range recipes {
			summaries[i] = recipeSummary{
				ID:        r.ID,
				Title:     r.Title,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recipes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
