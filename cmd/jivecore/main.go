// Command jivecore is the agile work-management engine's entrypoint: it
// wires the storage core, hierarchy engine, sync engine, and execution
// orchestrator, then either runs a one-shot command or serves the MCP
// tool surface as a newline-delimited JSON-RPC loop over stdio.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jivecore/jivecore/internal/config"
	"github.com/jivecore/jivecore/internal/hierarchy"
	"github.com/jivecore/jivecore/internal/orchestrator"
	"github.com/jivecore/jivecore/internal/resolver"
	"github.com/jivecore/jivecore/internal/rpc"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/syncengine"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a JSON config file (§6.5 options)")
		dataPath   = flag.String("data-path", "", "Override data_path from config")
		tasksDir   = flag.String("tasks-dir", ".jivedev/tasks", "Directory the sync engine reads and writes work-item files from")
		claudePath = flag.String("claude-path", "", "Path to the claude CLI used for autonomous execution (defaults to $PATH)")
		model      = flag.String("model", "", "Model passed to the agent runner, if any")
		status     = flag.Bool("status", false, "Print a one-line store summary and exit")
		migrate    = flag.Bool("migrate", false, "Run schema migrations and exit")
		reindex    = flag.Bool("reindex", false, "Force a full FTS/vector reindex and exit")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	dbPath := filepath.Join(cfg.DataPath, "jivecore.db")
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		logger.Error("failed to create data path", "path", cfg.DataPath, "err", err)
		os.Exit(1)
	}

	db, err := store.Open(dbPath, cfg.EnableFTS)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	embedder := store.NewEmbedderFromEnv(cfg.EmbeddingModel, cfg.VectorDim, int64(cfg.MaxParallelExecutions))
	s := store.New(db, embedder, cfg.VectorDim, cfg.EnableFTS)
	res := resolver.New(s)
	h := hierarchy.New(s)

	if *migrate {
		logger.Info("schema migrated", "data_path", cfg.DataPath)
		os.Exit(0)
	}
	if *reindex {
		if err := s.Reindex(context.Background()); err != nil {
			logger.Error("reindex failed", "err", err)
			os.Exit(1)
		}
		logger.Info("reindex complete")
		os.Exit(0)
	}
	if *status {
		count, err := s.CountWorkItems(context.Background(), store.ListFilters{})
		if err != nil {
			logger.Error("status query failed", "err", err)
			os.Exit(1)
		}
		fmt.Printf("jivecore: %d work items under %s\n", count, cfg.DataPath)
		os.Exit(0)
	}

	se := syncengine.New(s, *tasksDir)
	runner := orchestrator.NewClaudeCLIRunner(*claudePath, *model)
	orch := orchestrator.New(s, h, runner, cfg.MaxParallelExecutions, time.Duration(cfg.ExecutionTimeoutMinutes)*time.Minute)

	server := rpc.New(s, res, h, se, orch, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("jivecore serving MCP stdio", "data_path", cfg.DataPath, "tasks_dir", *tasksDir)
	if err := serveStdio(ctx, server, os.Stdin, os.Stdout, logger); err != nil && ctx.Err() == nil {
		logger.Error("stdio loop exited", "err", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		os.Exit(130)
	}
}

// rpcRequest is one line of the newline-delimited JSON-RPC stream (§6
// "the dispatch loop itself is a thin switch over tool name to component
// method"). id is echoed back verbatim so callers can correlate replies.
type rpcRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result"`
}

// serveStdio reads one JSON request per line from r and writes one JSON
// response per line to w, until ctx is cancelled or r hits EOF.
func serveStdio(ctx context.Context, server *rpc.Server, r io.Reader, w io.Writer, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("malformed request line", "err", err)
			_ = enc.Encode(rpcResponse{Result: json.RawMessage(`{"success":false,"error":"malformed request","error_code":"InvalidArgument"}`)})
			continue
		}

		result := server.Dispatch(ctx, req.Tool, req.Params)
		if err := enc.Encode(rpcResponse{ID: req.ID, Result: result}); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}
