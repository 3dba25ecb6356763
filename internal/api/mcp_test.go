package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/mealkit/internal/assistant"
	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/shopping"
	"github.com/kalambet/mealkit/internal/storage"
)

// recordingAssistant answers every call and remembers the request bodies.
type recordingAssistant struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (a *recordingAssistant) Invoke(_ context.Context, req remote.Request) remote.Outcome {
	b, _ := json.Marshal(req.Body)
	var body map[string]any
	json.Unmarshal(b, &body)

	a.mu.Lock()
	a.bodies = append(a.bodies, body)
	n := len(a.bodies)
	a.mu.Unlock()

	reply := `{"success":true,"message":"Reply one","conversationId":"srv-42","data":{"recipes":[]}}`
	if n > 1 {
		reply = `{"success":true,"message":"Reply two","conversationId":"srv-42"}`
	}
	return remote.Outcome{Kind: remote.KindSuccess, Function: req.Function, Payload: json.RawMessage(reply)}
}

func (a *recordingAssistant) body(i int) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bodies[i]
}

func newTestMCPDeps(t *testing.T, invoker remote.Invoker) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sanitizer := sanitize.New(&nopSink{})
	convs := NewConversations(func() *assistant.Manager {
		return assistant.New(invoker, assistant.Options{Sanitizer: sanitizer})
	})
	t.Cleanup(convs.Close)

	return MCPDeps{
		Store:         store,
		Generator:     shopping.NewGenerator(store, time.Monday),
		Conversations: convs,
		Sanitizer:     sanitizer,
		Cache:         NewViewCache(time.Minute),
		WeekStart:     time.Monday,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &recordingAssistant{})
	s := NewMCPServer(deps)

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"import_recipe", "generate_shopping_list", "week_start", "ask_assistant"} {
		if !strings.Contains(string(b), `"name":"`+name+`"`) {
			t.Errorf("tool %q not listed in %s", name, b)
		}
	}
}

func TestMCPTool_ImportRecipe_Text(t *testing.T) {
	deps, store := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpImportRecipe(deps)

	result, err := handler(context.Background(), makeCallToolRequest("import_recipe", map[string]any{
		"text": "Shakshuka\n4 eggs\n1 can tomatoes",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	job, err := store.ClaimNextJob([]string{"recipe_import"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if !strings.Contains(toolText(t, result), job.ID) {
		t.Errorf("result %q does not name job %s", toolText(t, result), job.ID)
	}
	var payload map[string]any
	json.Unmarshal([]byte(job.PayloadJSON), &payload)
	if payload["kind"] != "text" || payload["text"] != "Shakshuka\n4 eggs\n1 can tomatoes" {
		t.Errorf("payload = %v", payload)
	}
}

func TestMCPTool_ImportRecipe_Rejected(t *testing.T) {
	deps, store := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpImportRecipe(deps)

	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{}, "text or url is required"},
		{map[string]any{"url": "javascript:alert(1)"}, "URL must start with http:// or https://"},
	}
	for _, tt := range tests {
		result, err := handler(context.Background(), makeCallToolRequest("import_recipe", tt.args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatalf("%v: expected error result", tt.args)
		}
		if got := toolText(t, result); got != tt.want {
			t.Errorf("%v: text = %q, want %q", tt.args, got, tt.want)
		}
	}

	if job, _ := store.ClaimNextJob([]string{"recipe_import"}); job != nil {
		t.Errorf("rejected import queued job %s", job.ID)
	}
}

func TestMCPTool_GenerateShoppingList(t *testing.T) {
	deps, store := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpGenerateShoppingList(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("generate_shopping_list", map[string]any{
		"week": "2024-03-13",
	}))
	if !result.IsError || toolText(t, result) != nothingToGenerateMessage {
		t.Fatalf("empty week: %q", toolText(t, result))
	}

	store.SaveRecipe(storage.Recipe{ID: "tacos", Title: "Tacos", Ingredients: "1 lb ground beef\n8 tortillas\n1 cup cheddar cheese"})
	deps.Cache.Put(ViewShoppingLists, "20", []byte("[]"))

	result, _ = handler(context.Background(), makeCallToolRequest("generate_shopping_list", map[string]any{
		"recipe_ids": []any{"tacos"},
		"name":       "Taco night",
	}))
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var list storage.ShoppingList
	if err := json.Unmarshal([]byte(toolText(t, result)), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Name != "Taco night" || len(list.Items) != 3 {
		t.Errorf("list = %+v", list)
	}
	if _, ok := deps.Cache.Get(ViewShoppingLists, "20"); ok {
		t.Error("shopping list view not invalidated")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("generate_shopping_list", map[string]any{
		"recipe_ids": []any{"ghost"},
	}))
	if !result.IsError || toolText(t, result) != "recipe not found" {
		t.Errorf("unknown recipe: %q", toolText(t, result))
	}
}

func TestMCPTool_WeekStart(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpWeekStart(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("week_start", map[string]any{"date": "2024-03-17"}))
	if result.IsError || toolText(t, result) != "2024-03-11" {
		t.Errorf("week_start(2024-03-17) = %q", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("week_start", map[string]any{"date": "March 17"}))
	if !result.IsError || toolText(t, result) != "date must be a date like 2024-03-11" {
		t.Errorf("bad date = %q", toolText(t, result))
	}
}

func TestMCPTool_AskAssistant_ContinuesConversation(t *testing.T) {
	fake := &recordingAssistant{}
	deps, _ := newTestMCPDeps(t, fake)
	handler := mcpAskAssistant(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask_assistant", map[string]any{
		"message": "Any ideas for dinner?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var first struct {
		ConversationID string          `json:"conversation_id"`
		Reply          string          `json:"reply"`
		Data           json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &first); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if first.Reply != "Reply one" || first.ConversationID == "" {
		t.Fatalf("reply = %+v", first)
	}
	if string(first.Data) != `{"recipes":[]}` {
		t.Errorf("data = %s", first.Data)
	}
	if _, ok := fake.body(0)["conversationId"]; ok {
		t.Error("first message sent a conversation ID")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("ask_assistant", map[string]any{
		"message":         "Something vegetarian?",
		"conversation_id": first.ConversationID,
	}))
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Reply two") {
		t.Errorf("second reply = %s", toolText(t, result))
	}
	if got := fake.body(1)["conversationId"]; got != "srv-42" {
		t.Errorf("second message conversationId = %v, want srv-42", got)
	}

	m, _ := deps.Conversations.Get(first.ConversationID)
	if n := len(m.Turns()); n != 4 {
		t.Errorf("conversation has %d turns, want 4", n)
	}
}

func TestMCPTool_AskAssistant_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpAskAssistant(deps)

	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{}, "message is required"},
		{map[string]any{"message": "   "}, "message cannot be empty"},
		{map[string]any{"message": "hi", "conversation_id": "nope"}, "conversation not found"},
	}
	for _, tt := range tests {
		result, err := handler(context.Background(), makeCallToolRequest("ask_assistant", tt.args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError || toolText(t, result) != tt.want {
			t.Errorf("%v: got %q, want %q", tt.args, toolText(t, result), tt.want)
		}
	}
}

func TestMCPTool_AskAssistant_ConcurrentConversations(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &recordingAssistant{})
	handler := mcpAskAssistant(deps)

	var wg sync.WaitGroup
	errs := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("ask_assistant", map[string]any{
				"message": "hello",
			}))
			if err != nil {
				errs <- err.Error()
				return
			}
			if result.IsError {
				errs <- "error result"
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Fatalf("concurrent call failed: %s", e)
	}
}

func TestMCPResource_RecentRecipes(t *testing.T) {
	deps, store := newTestMCPDeps(t, &recordingAssistant{})

	for _, id := range []string{"soup", "salad"} {
		if err := store.SaveRecipe(storage.Recipe{ID: id, Title: strings.ToUpper(id)}); err != nil {
			t.Fatalf("SaveRecipe: %v", err)
		}
	}

	handler := mcpResourceRecentRecipes(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("recipes://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "recipes://recent" {
		t.Errorf("URI = %q", tc.URI)
	}

	var summaries []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 recipes, got %d", len(summaries))
	}
}
