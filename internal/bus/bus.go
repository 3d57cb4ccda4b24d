// Package bus is the streaming event bus: every side-stream event an agent
// or tool call produces fans out to one or more Sinks (the transport's
// side-stream writer, the run's audit log, an optional telemetry sink).
package bus

import (
	"sync"

	"github.com/chainreview/core/pkg/protocol"
)

// Sink receives every published side frame. Publish must not block the
// caller for long — a slow sink (e.g. a stalled websocket) should buffer or
// drop rather than stall agent progress.
type Sink interface {
	Publish(frame protocol.SideFrame)
}

// Bus fans a run's side-stream events out to its attached sinks.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish builds a SideFrame for the given type/data and fans it out to
// every attached sink. The channel tag (review/chat/validate), when one
// applies, lives inside data per pkg/protocol's payload structs.
func (b *Bus) Publish(eventType string, data interface{}) {
	frame := protocol.NewSideFrame(eventType, data)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Publish(frame)
	}
}
