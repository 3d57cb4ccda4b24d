package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chainreview/core/internal/bus"
	"github.com/chainreview/core/internal/config"
	"github.com/chainreview/core/internal/llm"
	"github.com/chainreview/core/internal/mcp"
	"github.com/chainreview/core/internal/orchestrator"
	"github.com/chainreview/core/internal/run"
	"github.com/chainreview/core/internal/sandbox"
	"github.com/chainreview/core/internal/telemetry"
	"github.com/chainreview/core/internal/tools"
	"github.com/chainreview/core/internal/tracing"
	"github.com/chainreview/core/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ChainReview core, speaking the wire protocol on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe wires the Run Store, event bus, LLM provider, Orchestrator, and
// Request Router together and blocks reading primary-stream requests from
// stdin until EOF or a termination signal — generalizing the teacher's
// runGateway (cmd/gateway.go) from a WebSocket gateway process to a stdio
// one, with logging redirected to stderr since stdout now carries the wire
// protocol's primary frame stream.
func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		slog.Error("config.load_failed", "error", err)
		os.Exit(1)
	}
	if watcher, err := config.Watch(cfgFile, cfg); err != nil {
		slog.Warn("config.watch_unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, otelEndpoint)
	if err != nil {
		slog.Warn("tracing.setup_failed", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")})
	if err != nil {
		slog.Error("llm.provider_init_failed", "error", err)
		os.Exit(1)
	}

	eventBus := bus.New()
	primary := transport.NewFrameWriter(os.Stdout)
	side := transport.NewFrameWriter(sideStreamWriter(sideFD))
	eventBus.Attach(transport.NewSideSink(side))

	if url := dashboardURL; url != "" {
		dash := telemetry.NewDashboardSink(url)
		defer dash.Close()
		eventBus.Attach(dash)
	} else if cfg.Telemetry.DashboardWSURL != "" {
		dash := telemetry.NewDashboardSink(cfg.Telemetry.DashboardWSURL)
		defer dash.Close()
		eventBus.Attach(dash)
	}

	store := run.NewStore()
	orch := orchestrator.New(store, provider, eventBus)
	orch.Config = cfg
	orch.DockerCfg = sandbox.DockerConfig{
		Enabled:       cfg.Sandbox.Docker,
		Image:         sandbox.DefaultDockerConfig().Image,
		CPULimit:      parseCPULimit(cfg.Sandbox.CPULimit),
		MemoryLimitMB: int64(cfg.Sandbox.MemoryLimitMB),
		PidsLimit:     sandbox.DefaultDockerConfig().PidsLimit,
	}

	if len(cfg.MCPServers) > 0 {
		mgr := mcp.NewManager(tools.NewRegistry())
		mgr.Start(ctx, cfg.MCPServers)
		defer mgr.Stop()
		orch.MCP = mgr
	}

	router := transport.NewRouter(orch, store, primary)

	slog.Info("chainreview.serving", "repo_root", repoRoot, "mode", mode)
	if err := transport.ReadRequests(os.Stdin, router.Dispatch); err != nil {
		slog.Error("transport.read_failed", "error", err)
		return err
	}
	return nil
}

// sideStreamWriter opens the side stream's file descriptor (fd 3 by
// default, set up by the caller with e.g. `3>side.jsonl`), keeping it
// off stdout so the primary request/response stream stays clean
// newline-delimited JSON. Falls back to stdout, multiplexed alongside the
// primary stream, when the fd isn't actually open in this process.
func sideStreamWriter(fd int) io.Writer {
	if fd <= 0 {
		return os.Stdout
	}
	f := os.NewFile(uintptr(fd), "side")
	if f == nil {
		return os.Stdout
	}
	if _, err := f.Stat(); err != nil {
		return os.Stdout
	}
	return f
}

func parseCPULimit(s string) float64 {
	if s == "" {
		return sandbox.DefaultDockerConfig().CPULimit
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err == nil && f > 0 {
		return f
	}
	return sandbox.DefaultDockerConfig().CPULimit
}
