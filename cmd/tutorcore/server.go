package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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

	"github.com/kalambet/tutorcore/internal/api"
	"github.com/kalambet/tutorcore/internal/backfill"
	"github.com/kalambet/tutorcore/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tutorcore server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tutorcore server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and embedding status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tutorcore.pid")
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

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "tutorcore version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Server.APIToken == "" {
		printWarning("server.api_token is empty, the API accepts unauthenticated requests")
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

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			printWarning("closing resources: %v", err)
		}
	}()

	if err := a.ensureProvider(ctx, os.Stderr); err != nil {
		return err
	}
	slog.Info("provider ready", "provider", a.provider.Name())

	ctrl := backfill.NewController(a.worker)
	defer func() {
		ctrl.Stop()
		ctrl.Wait()
	}()

	deps := api.Deps{
		Searcher:     a.searcher,
		Content:      a.content,
		Reviews:      a.reviews,
		Backfill:     ctrl,
		Ingester:     a.ingester,
		Generator:    a.provider,
		Cache:        a.searcher,
		Token:        cfg.Server.APIToken,
		DefaultDepth: cfg.Retrieval.DefaultDepth,
		BaseContext:  ctx,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tutorcore listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("tutorcore is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("stopping tutorcore (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to tutorcore (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	running := err == nil
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		running = false
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Provider", "%s", cfg.Provider.Name)
	printStatus("Cache", "%s", cfg.Cache.Backend)

	if running {
		covResp, err := client.get(ctx, "/debug/embeddings")
		if err == nil {
			var cov api.CoverageResponse
			if err := decodeJSON(covResp, &cov); err == nil {
				printStatus("Fragments", "%d (%d embedded, %.2f%%)", cov.Total, cov.WithEmbeddings, cov.CoveragePercent)
				printStatus("Backfill", "%s", backfillLabel(cov))
			} else {
				printWarning("reading coverage: %v", err)
			}
		}
		if cacheResp, err := client.get(ctx, "/debug/cache"); err == nil {
			var stats api.CacheResponse
			if err := decodeJSON(cacheResp, &stats); err == nil && stats.Enabled {
				printStatus("Cache hits", "%d of %d lookups (%.1f%%), %d entries",
					stats.Hits, stats.Hits+stats.Misses, stats.HitRate*100, stats.Size)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.FilePath())
	return nil
}

func backfillLabel(cov api.CoverageResponse) string {
	if cov.BackfillRunning {
		return "running"
	}
	last := cov.LastBackfill
	if last == nil {
		return "idle"
	}
	outcome := "finished"
	switch {
	case last.Error != "":
		outcome = "failed: " + last.Error
	case last.Stopped:
		outcome = "stopped"
	}
	return fmt.Sprintf("idle (last run %s %s, %d embedded, %d failed)",
		outcome, last.Finished.Local().Format(time.DateTime), last.Processed, last.Failed)
}
