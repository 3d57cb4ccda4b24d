package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultDockerConfig(t *testing.T) {
	cfg := DefaultDockerConfig()
	if !cfg.Enabled {
		t.Error("DefaultDockerConfig should be enabled by default")
	}
	if cfg.CPULimit != 1.0 || cfg.MemoryLimitMB != 512 || cfg.PidsLimit != 64 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestNewExecRunner_DisabledNeverProbesDocker(t *testing.T) {
	r := NewExecRunner(context.Background(), DockerConfig{Enabled: false}, t.TempDir())
	if r.Available() {
		t.Error("a disabled runner must never report itself as available")
	}
}

func TestExecRunner_RunWithoutDaemonReturnsUnavailable(t *testing.T) {
	r := NewExecRunner(context.Background(), DockerConfig{Enabled: false}, t.TempDir())
	_, err := r.Run(context.Background(), "echo", []string{"hi"}, t.TempDir())
	if !errors.Is(err, ErrDockerUnavailable) {
		t.Errorf("err = %v, want ErrDockerUnavailable", err)
	}
}

func TestExecRunner_CloseWithoutClientIsSafe(t *testing.T) {
	r := NewExecRunner(context.Background(), DockerConfig{Enabled: false}, t.TempDir())
	if err := r.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNewExecRunner_EnabledButUnreachableDaemonDoesNotPanicOrHang(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := NewExecRunner(ctx, DefaultDockerConfig(), t.TempDir())
	// Whether or not a daemon happens to be reachable in this environment,
	// construction must complete promptly and never panic.
	_ = r.Available()
}
