package status

import (
	"context"
	"sync"

	"github.com/yungbote/graphsmith-backend/internal/sse"
)

// Bus carries status frames from the orchestrator to whatever SSE hubs are
// listening, across process boundaries when redis is configured.
type Bus interface {
	Publish(ctx context.Context, msg sse.Message) error
	StartForwarder(ctx context.Context, onMsg func(m sse.Message)) error
	Close() error
}

// localBus is the in-process fallback used when no redis address is
// configured. Single-process deployments lose nothing.
type localBus struct {
	mu        sync.RWMutex
	forwarder func(m sse.Message)
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, msg sse.Message) error {
	b.mu.RLock()
	fn := b.forwarder
	b.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m sse.Message)) error {
	b.mu.Lock()
	b.forwarder = onMsg
	b.mu.Unlock()
	return nil
}

func (b *localBus) Close() error { return nil }
