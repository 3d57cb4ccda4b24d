package telemetry

import (
	"testing"
	"time"

	"github.com/chainreview/core/pkg/protocol"
)

func TestNewDashboardSink_UnreachableURLDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	go func() {
		s := NewDashboardSink("ws://127.0.0.1:1/unreachable")
		s.Publish(protocol.NewSideFrame(protocol.EventFinding, nil))
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NewDashboardSink/Publish/Close should never block on an unreachable dashboard")
	}
}

func TestDashboardSink_PublishDropsWhenBufferFull(t *testing.T) {
	s := &DashboardSink{
		url:    "ws://unused",
		frames: make(chan protocol.SideFrame, 1),
		closed: make(chan struct{}),
	}
	// No drain goroutine is running, so the channel fills after one frame;
	// further Publish calls must not block the caller.
	s.Publish(protocol.NewSideFrame(protocol.EventFinding, nil))

	done := make(chan struct{})
	go func() {
		s.Publish(protocol.NewSideFrame(protocol.EventFinding, nil))
		s.Publish(protocol.NewSideFrame(protocol.EventFinding, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must drop frames rather than block when the buffer is full")
	}
}

func TestDashboardSink_CloseIsSafeWithoutAConnection(t *testing.T) {
	s := &DashboardSink{
		url:    "ws://unused",
		frames: make(chan protocol.SideFrame, sendBuffer),
		closed: make(chan struct{}),
	}
	s.Close()
}
