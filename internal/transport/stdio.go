// Package transport implements the stdio wire format: a primary
// request/response stream and a side-stream fan-out, both newline-delimited
// JSON, serialized through a mutex-guarded writer — generalizing the
// teacher's internal/gateway/server.go connection-write-serialization
// pattern from a WebSocket frame to a plain stdio one.
package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/chainreview/core/pkg/protocol"
)

// FrameWriter serializes writes of newline-delimited JSON frames to w. One
// instance guards the primary stream, a second guards the side stream.
type FrameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{enc: json.NewEncoder(w)}
}

func (f *FrameWriter) Write(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(v)
}

// SideSink adapts a FrameWriter to bus.Sink, writing every published
// SideFrame as one line on the side stream.
type SideSink struct {
	fw *FrameWriter
}

func NewSideSink(fw *FrameWriter) *SideSink {
	return &SideSink{fw: fw}
}

func (s *SideSink) Publish(frame protocol.SideFrame) {
	if err := s.fw.Write(frame); err != nil {
		slog.Warn("transport.side_sink.write_failed", "error", err)
	}
}

// ReadRequests scans r for newline-delimited protocol.Request frames,
// invoking handle for each line in turn. A malformed line is logged and
// skipped rather than aborting the stream. Returns when r reaches EOF or a
// read error occurs — the caller decides whether that is fatal.
func ReadRequests(r io.Reader, handle func(protocol.Request)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Warn("transport.malformed_request", "error", err)
			continue
		}
		handle(req)
	}
	return scanner.Err()
}
