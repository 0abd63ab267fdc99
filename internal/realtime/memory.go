package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"phone-gateway/pkg/logger"

	"github.com/google/uuid"
)

// MemoryStream is an in-process ChangeStream. Publish delivers synchronously to
// every stream open on the table, in registration order.
type MemoryStream struct {
	mu      sync.RWMutex
	streams map[string][]*memoryHandle // table -> handles
	log     *slog.Logger
}

type memoryHandle struct {
	id      string
	table   string
	deliver func(Event)
	owner   *MemoryStream
}

func NewMemoryStream(log *slog.Logger) *MemoryStream {
	return &MemoryStream{
		streams: map[string][]*memoryHandle{},
		log:     logger.Component(log, "realtime_memory"),
	}
}

func (m *MemoryStream) Open(_ context.Context, table string, deliver func(Event)) (Stream, error) {
	h := &memoryHandle{id: uuid.NewString(), table: table, deliver: deliver, owner: m}
	m.mu.Lock()
	m.streams[table] = append(m.streams[table], h)
	m.mu.Unlock()
	return h, nil
}

// Publish reports an insert of record into table.
func (m *MemoryStream) Publish(table string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ev := Event{Table: table, Record: raw}

	// Copy under read lock so handlers may open or close streams.
	m.mu.RLock()
	targets := append([]*memoryHandle(nil), m.streams[table]...)
	m.mu.RUnlock()

	for _, h := range targets {
		h.deliver(ev)
	}
	return nil
}

// Listeners returns the number of open streams on table.
func (m *MemoryStream) Listeners(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[table])
}

func (h *memoryHandle) Close() error {
	m := h.owner
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := m.streams[h.table]
	for i, cur := range handles {
		if cur == h {
			m.streams[h.table] = append(handles[:i:i], handles[i+1:]...)
			break
		}
	}
	if len(m.streams[h.table]) == 0 {
		delete(m.streams, h.table)
	}
	m.log.Debug("memory stream closed", "table", h.table, "stream_id", h.id)
	return nil
}
