package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/mealkit/internal/api"
	"github.com/kalambet/mealkit/internal/assistant"
	"github.com/kalambet/mealkit/internal/auth"
	"github.com/kalambet/mealkit/internal/calendar"
	"github.com/kalambet/mealkit/internal/config"
	"github.com/kalambet/mealkit/internal/ingest"
	"github.com/kalambet/mealkit/internal/recipeai"
	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/shopping"
	"github.com/kalambet/mealkit/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the local API and recipe import worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mealkit server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, session and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mealkit.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// backend is the authenticated path to the hosted functions.
type backend struct {
	resolver *auth.Resolver
	client   *remote.Client
}

func newBackend(cfg config.Config) backend {
	timeout, err := config.ParseDuration(cfg.Calls.DefaultTimeout, remote.DefaultTimeout)
	if err != nil {
		slog.Warn("invalid calls.default_timeout, using default", "value", cfg.Calls.DefaultTimeout, "error", err)
	}
	resolver := auth.NewResolver(cfg.Backend.BaseURL, cfg.Backend.PublicKey, config.NewKeychain())
	return backend{
		resolver: resolver,
		client:   remote.NewClient(cfg.Backend.BaseURL, cfg.Backend.PublicKey, resolver, timeout),
	}
}

func assistantOptions(cfg config.Config, s *sanitize.Sanitizer, inv assistant.Invalidator) assistant.Options {
	timeout, err := config.ParseDuration(cfg.Assistant.Timeout, assistant.DefaultTimeout)
	if err != nil {
		slog.Warn("invalid assistant.timeout, using default", "value", cfg.Assistant.Timeout, "error", err)
	}
	return assistant.Options{
		Function:         cfg.Assistant.Function,
		Timeout:          timeout,
		MaxMessageLength: cfg.Assistant.MaxMessageLength,
		Invalidator:      inv,
		Sanitizer:        s,
		Metadata:         map[string]any{"client": "mealkit", "version": version},
	}
}

func weekStartDay(cfg config.Config) time.Weekday {
	day, err := calendar.ParseWeekday(cfg.Planner.WeekStart)
	if err != nil {
		slog.Warn("invalid planner.week_start, using monday", "value", cfg.Planner.WeekStart, "error", err)
		return time.Monday
	}
	return day
}

func runServer(withMCP bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}
	slog.Info("mealkit starting", "version", version)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	be := newBackend(cfg)
	if _, err := be.resolver.Current(); errors.Is(err, auth.ErrNoSession) {
		slog.Warn("no stored session; remote calls will fail until `mealkit login`")
	}

	sanitizer := sanitize.New(sanitize.MultiSink{sanitize.LogSink{}, sanitize.StoreSink{Store: store}})
	weekStart := weekStartDay(cfg)
	generator := shopping.NewGenerator(store, weekStart)
	cache := api.NewViewCache(time.Minute)

	conversations := api.NewConversations(func() *assistant.Manager {
		return assistant.New(be.client, assistantOptions(cfg, sanitizer, cache))
	})

	worker := ingest.NewWorker(store, recipeai.New(be.client), sanitizer, 500*time.Millisecond)
	worker.Invalidator = cache

	handler := api.NewHandler(api.Deps{
		Store:         store,
		Token:         apiToken,
		Generator:     generator,
		Sanitizer:     sanitizer,
		Conversations: conversations,
		Cache:         cache,
		WeekStart:     weekStart,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("mealkit listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:         store,
			Generator:     generator,
			Conversations: conversations,
			Sanitizer:     sanitizer,
			Cache:         cache,
			WeekStart:     weekStart,
		})
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio server: %w", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		conversations.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("mealkit is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("stopping mealkit (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to mealkit (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Backend", "%s", cfg.Backend.BaseURL)

	resolver := auth.NewResolver(cfg.Backend.BaseURL, cfg.Backend.PublicKey, config.NewKeychain())
	sess, err := resolver.Current()
	switch {
	case errors.Is(err, auth.ErrNoSession):
		printStatus("Session", "not logged in")
	case err != nil:
		printStatus("Session", "unreadable (%v)", err)
	case sess.ExpiresAt.IsZero():
		printStatus("Session", "user %s", sess.UserID)
	default:
		printStatus("Session", "user %s, token expires %s", sess.UserID, sess.ExpiresAt.Local().Format(time.RFC822))
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			var recipes []struct{}
			if c.getJSON(ctx, "/recipes?limit=100", &recipes) == nil {
				printStatus("Recipes", "%s", countLabel(len(recipes), 100))
			}
			var diags []struct{}
			if c.getJSON(ctx, "/diagnostics?limit=100", &diags) == nil {
				printStatus("Diagnostics", "%s", countLabel(len(diags), 100))
			}
		}
	}

	printStatus("Week starts", "%s", weekStartDay(cfg))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
