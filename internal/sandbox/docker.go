package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ErrDockerUnavailable is returned when no Docker daemon is reachable; callers
// fall back to direct host execution rather than treating this as fatal.
var ErrDockerUnavailable = errors.New("docker daemon unavailable")

// DockerConfig controls the optional ephemeral command sandbox.
type DockerConfig struct {
	Enabled       bool
	Image         string
	CPULimit      float64 // fractional CPUs, e.g. 1.0
	MemoryLimitMB int64
	PidsLimit     int64
}

// DefaultDockerConfig mirrors the defaults named in the config schema.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Enabled:       true,
		Image:         "chainreview/exec-sandbox:latest",
		CPULimit:      1.0,
		MemoryLimitMB: 512,
		PidsLimit:     64,
	}
}

// ExecRunner runs allowlisted commands, either inside an ephemeral Docker
// container or directly on the host as a fallback.
type ExecRunner struct {
	cfg    DockerConfig
	cli    *client.Client
	workDir string
}

// NewExecRunner probes for a reachable Docker daemon. Absence is never an
// error: the zero-value ExecRunner simply runs everything on the host.
func NewExecRunner(ctx context.Context, cfg DockerConfig, workDir string) *ExecRunner {
	r := &ExecRunner{cfg: cfg, workDir: workDir}
	if !cfg.Enabled {
		return r
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		slog.Warn("sandbox.docker_unavailable", "error", err)
		return r
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		slog.Warn("sandbox.docker_unavailable", "error", err)
		return r
	}
	r.cli = cli
	return r
}

// Available reports whether a Docker daemon was successfully reached.
func (r *ExecRunner) Available() bool { return r.cli != nil }

// Close releases the Docker client connection, if any.
func (r *ExecRunner) Close() error {
	if r.cli == nil {
		return nil
	}
	return r.cli.Close()
}

// RunResult is the outcome of one command execution, host or containerized.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes argv0+args with workDir as the container's bind-mounted
// working directory. The container is read-only, network-disabled, and
// capability-dropped; it is removed on completion regardless of outcome.
func (r *ExecRunner) Run(ctx context.Context, argv0 string, args []string, workDir string) (RunResult, error) {
	if r.cli == nil {
		return RunResult{}, ErrDockerUnavailable
	}

	cmd := append([]string{argv0}, args...)
	resources := container.Resources{
		Memory:     r.cfg.MemoryLimitMB * 1024 * 1024,
		NanoCPUs:   int64(r.cfg.CPULimit * 1e9),
		PidsLimit:  &r.cfg.PidsLimit,
		CapDrop:    []string{"ALL"},
	}

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.cfg.Image,
			Cmd:        cmd,
			WorkingDir: "/workspace",
			Tty:        false,
		},
		&container.HostConfig{
			Resources:      resources,
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			NetworkMode:    "none",
			SecurityOpt:    []string{"no-new-privileges"},
			Mounts: []mount.Mount{
				{Type: mount.TypeBind, Source: workDir, Target: "/workspace"},
			},
			AutoRemove: false,
			PortBindings: nat.PortMap{},
		},
		nil, nil, "",
	)
	if err != nil {
		return RunResult{}, fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("start sandbox container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return RunResult{}, fmt.Errorf("wait sandbox container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := r.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return RunResult{}, fmt.Errorf("fetch sandbox logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return RunResult{}, fmt.Errorf("demux sandbox logs: %w", err)
	}

	return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}
