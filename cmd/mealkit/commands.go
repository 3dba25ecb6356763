package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/mealkit/internal/api"
	"github.com/kalambet/mealkit/internal/auth"
	"github.com/kalambet/mealkit/internal/calendar"
	"github.com/kalambet/mealkit/internal/config"
	"github.com/kalambet/mealkit/internal/importer"
	"github.com/kalambet/mealkit/internal/storage"
)

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the session used for calls to the hosted backend",
	Long: `Store the session used for calls to the hosted backend.

The access token is refreshed automatically with the refresh token once it
expires. When --expires-in is omitted the expiry is read from the token.

Example:
  mealkit login --access-token "$ACCESS" --refresh-token "$REFRESH"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		access, _ := cmd.Flags().GetString("access-token")
		refresh, _ := cmd.Flags().GetString("refresh-token")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		if access == "" {
			return fmt.Errorf("--access-token is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		sess := auth.Session{AccessToken: access, RefreshToken: refresh}
		if expiresIn > 0 {
			sess.ExpiresAt = time.Now().Add(expiresIn).UTC()
		}

		resolver := auth.NewResolver(cfg.Backend.BaseURL, cfg.Backend.PublicKey, config.NewKeychain())
		if err := resolver.Login(sess); err != nil {
			return err
		}
		stored, err := resolver.Current()
		if err != nil {
			return err
		}
		if stored.UserID != "" {
			printSuccess("Logged in as %s", stored.UserID)
		} else {
			printSuccess("Session stored")
		}
		if refresh == "" {
			printWarning("No refresh token given: you will need to log in again when the access token expires")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		resolver := auth.NewResolver(cfg.Backend.BaseURL, cfg.Backend.PublicKey, config.NewKeychain())
		if err := resolver.Logout(); err != nil {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("access-token", "", "access token (JWT)")
	loginCmd.Flags().String("refresh-token", "", "refresh token")
	loginCmd.Flags().Duration("expires-in", 0, "access token lifetime, e.g. 1h")
}

// --- recipe ---

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Import and browse recipes",
}

var recipeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a recipe from text, a web page, a file or a photo",
	Long: `Import a recipe from text, a web page, a file or a photo.

Examples:
  mealkit recipe import --text "Pancakes: 1 cup flour, 1 egg, 1 cup milk"
  mealkit recipe import --url https://example.com/best-lasagna
  mealkit recipe import --file ./grandmas-soup.pdf --wait
  mealkit recipe import --image ./card.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		image, _ := cmd.Flags().GetString("image")
		wait, _ := cmd.Flags().GetBool("wait")

		req, err := importRequest(text, rawURL, file, image)
		if err != nil {
			return err
		}
		// Reject locally what the server would reject anyway.
		if _, err := req.Input(); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var queued map[string]string
		if err := client.postJSON(cmd.Context(), "/recipes/import", req, &queued); err != nil {
			return err
		}
		if !wait {
			printSuccess("Queued import %s", queued["job_id"])
			return nil
		}

		printStep("Importing...")
		job, err := client.waitJob(cmd.Context(), queued["job_id"], time.Second)
		if err != nil {
			return err
		}
		if job.Status == "failed" {
			return errors.New(job.Error)
		}
		printSuccess("Imported recipe %s", job.RecipeID)
		return nil
	},
}

// importRequest builds the request body for exactly one of the sources.
func importRequest(text, rawURL, file, image string) (api.ImportRequest, error) {
	n := 0
	for _, s := range []string{text, rawURL, file, image} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return api.ImportRequest{}, fmt.Errorf("exactly one of --text, --url, --file or --image is required")
	}

	switch {
	case text != "":
		return api.ImportRequest{Kind: string(importer.KindText), Text: text}, nil
	case rawURL != "":
		return api.ImportRequest{Kind: string(importer.KindURL), URL: rawURL}, nil
	}

	path := file
	if path == "" {
		path = image
	}
	in, err := importer.FromFile(path)
	if err != nil {
		return api.ImportRequest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if image != "" && in.Kind != importer.KindImage {
		return api.ImportRequest{}, fmt.Errorf("%s is not a JPEG, PNG, GIF or WebP image", path)
	}
	switch in.Kind {
	case importer.KindImage:
		return api.ImportRequest{
			Kind:  string(importer.KindImage),
			Image: base64.StdEncoding.EncodeToString(in.Image),
			MIME:  in.MIME,
		}, nil
	default:
		return api.ImportRequest{Kind: string(importer.KindText), Text: in.Text}, nil
	}
}

var recipeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var recipes []storage.Recipe
		if err := client.getJSON(cmd.Context(), fmt.Sprintf("/recipes?limit=%d", limit), &recipes); err != nil {
			return err
		}
		if len(recipes) == 0 {
			fmt.Println("No recipes yet. Try `mealkit recipe import`.")
			return nil
		}
		for _, r := range recipes {
			fmt.Printf("%s  %s\n", colorize(colorCyan, shorten(r.ID, 8)), r.Title)
		}
		return nil
	},
}

var recipeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var r storage.Recipe
		if err := client.getJSON(cmd.Context(), "/recipes/"+url.PathEscape(args[0]), &r); err != nil {
			return err
		}

		fmt.Println(colorize(colorBold, r.Title))
		if r.Description != "" {
			fmt.Printf("\n%s\n", r.Description)
		}
		if r.Servings > 0 || r.PrepMinutes > 0 || r.CookMinutes > 0 {
			fmt.Printf("\nServes %d · prep %d min · cook %d min\n", r.Servings, r.PrepMinutes, r.CookMinutes)
		}
		if r.Ingredients != "" {
			fmt.Printf("\n%s\n%s\n", colorize(colorBold, "Ingredients"), r.Ingredients)
		}
		if r.Instructions != "" {
			fmt.Printf("\n%s\n%s\n", colorize(colorBold, "Instructions"), r.Instructions)
		}
		if r.SourceURL != "" {
			fmt.Printf("\nSource: %s\n", r.SourceURL)
		}
		return nil
	},
}

func init() {
	recipeImportCmd.Flags().String("text", "", "recipe text")
	recipeImportCmd.Flags().String("url", "", "recipe page to scrape")
	recipeImportCmd.Flags().String("file", "", "text, HTML, PDF or image file")
	recipeImportCmd.Flags().String("image", "", "photo of a recipe")
	recipeImportCmd.Flags().Bool("wait", false, "wait for the import to finish")
	recipeListCmd.Flags().Int("limit", 50, "maximum number of recipes to list")

	recipeCmd.AddCommand(recipeImportCmd, recipeListCmd, recipeShowCmd)
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan meals for the week",
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the meals planned for a week",
	RunE: func(cmd *cobra.Command, args []string) error {
		week, _ := cmd.Flags().GetString("week")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/plan"
		if week != "" {
			path += "?week=" + url.QueryEscape(week)
		}
		var plan api.WeekPlan
		if err := client.getJSON(cmd.Context(), path, &plan); err != nil {
			return err
		}

		byDate := make(map[string][]storage.MealPlanEntry)
		for _, e := range plan.Entries {
			byDate[e.Date] = append(byDate[e.Date], e)
		}
		fmt.Printf("Week of %s\n", colorize(colorBold, plan.WeekStart))
		for _, day := range plan.Days {
			fmt.Printf("\n%s\n", colorize(colorCyan, dayLabel(day)))
			if len(byDate[day]) == 0 {
				fmt.Println("  (nothing planned)")
				continue
			}
			for _, e := range byDate[day] {
				fmt.Printf("  %-9s %s  %s\n", e.MealType, e.RecipeID, e.Notes)
			}
		}
		return nil
	},
}

var planAddCmd = &cobra.Command{
	Use:   "add <date> <recipe-id>",
	Short: "Plan a recipe on a date",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meal, _ := cmd.Flags().GetString("meal")
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := api.PlanRequest{Date: args[0], RecipeID: args[1], MealType: meal, Notes: notes}
		var entry storage.MealPlanEntry
		if err := client.postJSON(cmd.Context(), "/plan", req, &entry); err != nil {
			return err
		}
		printSuccess("Planned %s for %s on %s", entry.RecipeID, entry.MealType, entry.Date)
		return nil
	},
}

var planRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove a planned meal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/plan/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

func dayLabel(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Mon 2 Jan")
}

func init() {
	planShowCmd.Flags().String("week", "", "any date in the week, YYYY-MM-DD (default today)")
	planAddCmd.Flags().String("meal", "dinner", "breakfast, lunch, dinner or snack")
	planAddCmd.Flags().String("notes", "", "free-form notes")

	planCmd.AddCommand(planShowCmd, planAddCmd, planRemoveCmd)
}

// --- shopping ---

var shoppingCmd = &cobra.Command{
	Use:   "shopping",
	Short: "Build and tick off shopping lists",
}

var shoppingGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build a shopping list from a planned week or from recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		week, _ := cmd.Flags().GetString("week")
		recipes, _ := cmd.Flags().GetStringSlice("recipe")
		name, _ := cmd.Flags().GetString("name")

		if week != "" && len(recipes) > 0 {
			return fmt.Errorf("use either --week or --recipe, not both")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := api.GenerateRequest{Name: name, Week: week, RecipeIDs: recipes}
		var list storage.ShoppingList
		if err := client.postJSON(cmd.Context(), "/shopping-lists/generate", req, &list); err != nil {
			return err
		}
		printSuccess("Created %q with %d items", list.Name, len(list.Items))
		printList(list)
		return nil
	},
}

var shoppingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shopping lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var lists []storage.ShoppingList
		if err := client.getJSON(cmd.Context(), "/shopping-lists", &lists); err != nil {
			return err
		}
		if len(lists) == 0 {
			fmt.Println("No shopping lists yet.")
			return nil
		}
		for _, l := range lists {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, shorten(l.ID, 8)), l.CreatedAt.Local().Format("2006-01-02"), l.Name)
		}
		return nil
	},
}

var shoppingShowCmd = &cobra.Command{
	Use:   "show <list-id>",
	Short: "Show a shopping list grouped by aisle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list storage.ShoppingList
		if err := client.getJSON(cmd.Context(), "/shopping-lists/"+url.PathEscape(args[0]), &list); err != nil {
			return err
		}
		fmt.Println(colorize(colorBold, list.Name))
		printList(list)
		return nil
	},
}

var shoppingCheckCmd = &cobra.Command{
	Use:   "check <list-id> <item-id>",
	Short: "Mark an item as bought",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/shopping-lists/" + url.PathEscape(args[0]) + "/items/" + url.PathEscape(args[1])
		resp, err := client.patch(cmd.Context(), path, map[string]bool{"purchased": !undo})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		if undo {
			printSuccess("Unchecked %s", args[1])
		} else {
			printSuccess("Checked %s", args[1])
		}
		return nil
	},
}

// printList writes items grouped by category, in list order.
func printList(list storage.ShoppingList) {
	var order []string
	groups := make(map[string][]storage.ShoppingItem)
	for _, it := range list.Items {
		if _, ok := groups[it.Category]; !ok {
			order = append(order, it.Category)
		}
		groups[it.Category] = append(groups[it.Category], it)
	}
	for _, cat := range order {
		fmt.Printf("\n%s\n", colorize(colorBold, cat))
		for _, it := range groups[cat] {
			box := "[ ]"
			if it.Purchased {
				box = "[x]"
			}
			line := it.Name
			if it.Quantity != "" {
				line = it.Quantity + " " + it.Name
			}
			fmt.Printf("  %s %s  %s\n", box, line, colorize(colorCyan, shorten(it.ID, 8)))
		}
	}
}

func init() {
	shoppingGenerateCmd.Flags().String("week", "", "any date in the week, YYYY-MM-DD (default today)")
	shoppingGenerateCmd.Flags().StringSlice("recipe", nil, "recipe ID to shop for (repeatable)")
	shoppingGenerateCmd.Flags().String("name", "", "list name when --recipe is given")
	shoppingCheckCmd.Flags().Bool("undo", false, "mark the item as not bought")

	shoppingCmd.AddCommand(shoppingGenerateCmd, shoppingListCmd, shoppingShowCmd, shoppingCheckCmd)
}

// --- week ---

var weekCmd = &cobra.Command{
	Use:   "week [date]",
	Short: "Print the first day of the week containing a date",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := calendar.Today()
		if len(args) == 1 {
			date = args[0]
		}

		startName, _ := cmd.Flags().GetString("start")
		if startName == "" {
			startName = "monday"
			if cfg, err := config.Load(); err == nil {
				startName = cfg.Planner.WeekStart
			}
		}
		start, err := calendar.ParseWeekday(startName)
		if err != nil {
			return err
		}

		ws, err := calendar.WeekStart(date, start)
		if err != nil {
			return err
		}
		fmt.Println(ws)
		return nil
	},
}

func init() {
	weekCmd.Flags().String("start", "", "first day of the week (default from planner.week_start)")
}

// --- diagnostics ---

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Show the raw errors behind recent failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var diags []storage.Diagnostic
		if err := client.getJSON(cmd.Context(), fmt.Sprintf("/diagnostics?limit=%d", limit), &diags); err != nil {
			return err
		}
		if len(diags) == 0 {
			fmt.Println("No failures recorded.")
			return nil
		}
		for _, d := range diags {
			status := ""
			if d.Status != 0 {
				status = fmt.Sprintf(" %d", d.Status)
			}
			fmt.Printf("%s  %s%s  %s\n  %s\n",
				d.CreatedAt.Local().Format(time.DateTime),
				colorize(colorYellow, d.Kind),
				status,
				d.Scope,
				shorten(d.Message, 200),
			)
		}
		return nil
	},
}

func init() {
	diagnosticsCmd.Flags().Int("limit", 20, "maximum number of entries")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if key == "backend.public_key" {
			value = "(hidden)"
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
