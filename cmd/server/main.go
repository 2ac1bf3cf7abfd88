package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/aipair/internal/config"
	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/mcp"
	"github.com/rpggio/aipair/internal/selfreload"
	"github.com/rpggio/aipair/internal/store/reviewstore"
	"github.com/rpggio/aipair/internal/store/sessionstore"
	"github.com/rpggio/aipair/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("AIPAIR_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	trunk, err := dvcs.Discover(cfg.Repo.Path)
	if err != nil {
		logger.Error("failed to locate jj repository", "path", cfg.Repo.Path, "error", err)
		os.Exit(1)
	}
	trunk.Logger = logger

	reviewDir := filepath.Join(trunk.Root(), ".aipair", "reviews")
	sessionDir := filepath.Join(trunk.Root(), ".aipair", "sessions")
	if err := os.MkdirAll(reviewDir, 0o755); err != nil {
		logger.Error("failed to prepare review store", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		logger.Error("failed to prepare session store", "error", err)
		os.Exit(1)
	}

	reviewSvc := review.NewService(reviewstore.New(reviewDir), logger)
	sessionSvc := session.NewService(
		sessionstore.New(sessionDir),
		trunk,
		cloneFunc(logger),
		cfg.Repo.ClonesPath,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Reload.Enabled {
		if exe, err := os.Executable(); err == nil {
			if err := selfreload.Watch(ctx, exe, logger, cancel); err != nil {
				logger.Warn("self-reload watcher disabled", "error", err)
			}
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	if cfg.Transport.Mode == "stdio" {
		runStdioMode(ctx, logger, trunk, reviewSvc)
	} else {
		runHTTPMode(ctx, logger, trunk, reviewSvc, sessionSvc, cfg.Server.Host, cfg.Server.Port)
	}
}

func cloneFunc(logger *slog.Logger) session.CloneFunc {
	return func(ctx context.Context, src, dest string) (session.DvcsClient, error) {
		return dvcs.Clone(ctx, src, dest, logger)
	}
}

func runStdioMode(ctx context.Context, logger *slog.Logger, trunk *dvcs.Client, reviewSvc *review.Service) {
	logger.Info("starting stdio transport")

	mcpServer := mcp.NewServer(mcp.Config{
		Trunk:   trunk,
		Reviews: reviewSvc,
		Logger:  logger,
	})

	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
		logger.Error("stdio server error", "error", err)
		os.Exit(1)
	}
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, trunk *dvcs.Client, reviewSvc *review.Service, sessionSvc *session.Service, host string, port int) {
	server := transport.NewServer(trunk, reviewSvc, sessionSvc, logger)

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}
	if size <= keepLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
