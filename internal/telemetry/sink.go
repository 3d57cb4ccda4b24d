// Package telemetry implements the optional dashboard push sink named in
// .chainreview.json5's telemetry.dashboardWsURL, per SPEC_FULL.md §4.8.
// Generalizes the teacher's cmd/agent_chat_client.go websocket client
// pattern (dial, then WriteJSON per frame) from an interactive REPL client
// to a fire-and-forget bus.Sink.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainreview/core/pkg/protocol"
)

const (
	dialTimeout = 5 * time.Second
	sendBuffer  = 256
)

// DashboardSink pushes every published SideFrame to a dashboard's websocket
// endpoint, best-effort. A disconnected or absent dashboard never blocks or
// errors a run: frames are dropped once the send buffer fills, and a dial
// failure simply leaves the sink permanently idle.
type DashboardSink struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan protocol.SideFrame
	closed chan struct{}
}

// NewDashboardSink dials url in the background and begins draining frames
// sent to it via Publish. Returns immediately; the dial happens
// concurrently so a slow or unreachable dashboard never delays startup.
func NewDashboardSink(url string) *DashboardSink {
	s := &DashboardSink{
		url:    url,
		frames: make(chan protocol.SideFrame, sendBuffer),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *DashboardSink) run() {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		slog.Warn("telemetry.dashboard_unreachable", "url", s.url, "error", err)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.frames:
			if err := conn.WriteJSON(frame); err != nil {
				slog.Debug("telemetry.dashboard_write_failed", "error", err)
				return
			}
		}
	}
}

// Publish implements bus.Sink. Never blocks: a full buffer drops the frame.
func (s *DashboardSink) Publish(frame protocol.SideFrame) {
	select {
	case s.frames <- frame:
	default:
	}
}

// Close stops the sink's background drain goroutine.
func (s *DashboardSink) Close() {
	close(s.closed)
}
