package main

import (
	"context"
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

	"github.com/jwhahn/studydesk/internal/api"
	"github.com/jwhahn/studydesk/internal/config"
	"github.com/jwhahn/studydesk/internal/dispatch"
	"github.com/jwhahn/studydesk/internal/extract"
	"github.com/jwhahn/studydesk/internal/gemini"
	"github.com/jwhahn/studydesk/internal/library"
	"github.com/jwhahn/studydesk/internal/notes"
	"github.com/jwhahn/studydesk/internal/prompts"
	"github.com/jwhahn/studydesk/internal/qacache"
	"github.com/jwhahn/studydesk/internal/storage"
	"github.com/jwhahn/studydesk/internal/textcache"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the studydesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running studydesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show studydesk system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "studydesk.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "studydesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("studydesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("studydesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	libraryDir := cfg.Storage.LibraryDir
	if libraryDir == "" {
		libraryDir = filepath.Join(cfg.Storage.DataDir, "library")
	}
	lib := library.New(libraryDir)

	// Model client doubles as the OCR backend for forced re-extraction.
	model := gemini.NewClientWithBaseURL(cfg.Gemini.APIKey, cfg.Gemini.BaseURL)
	model.SetModel(cfg.Gemini.Model)

	texts := textcache.NewManager(store, lib, extract.New(model))
	answers := qacache.NewManager(store)
	noteLog := notes.NewLog(store)
	tasks := dispatch.New(int64(cfg.Tasks.Workers), func(userID, key string) (bool, error) {
		_, ok, err := answers.Lookup(userID, key)
		return ok, err
	}, slog.Default())

	deps := api.Deps{
		Generator: model,
		Library:   lib,
		Texts:     texts,
		Answers:   answers,
		Notes:     noteLog,
		Tasks:     tasks,
		Prompts:   prompts.New(cfg.Prompt.MaxContextTokens),
		Logger:    slog.Default(),
		Token:     cfg.Server.Token,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(deps),
	}

	// Build and start MCP server (stdio transport in a goroutine).
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "studydesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout; in-flight background tasks get to
	// finish so their answers land in the cache.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	tasks.Wait()
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("studydesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop studydesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to studydesk (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if running {
		if c, err := newAPIClient(); err == nil {
			if listResp, err := c.get("/files"); err == nil {
				var listing struct {
					Files  []string `json:"files"`
					Cached []string `json:"cached"`
				}
				if decodeJSON(listResp, &listing) == nil {
					printStatus("Files", "%d (%d with cached text)", len(listing.Files), len(listing.Cached))
				}
			}
		}
	}

	return nil
}
