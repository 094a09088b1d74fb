package notify

import (
	"context"
	"sync"

	"github.com/xmidt-org/ancla"
)

// MemoryRegistry is a minimal in-process notify.Registry: it holds webhooks
// registered through the admin surface plus any seeded at startup.
// Production deployments wire a real ancla client here instead.
type MemoryRegistry struct {
	mu    sync.RWMutex
	hooks []ancla.Webhook
}

// NewMemoryRegistry constructs an empty webhook registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

// Add registers hook, replacing any existing registration with the same
// delivery URL.
func (m *MemoryRegistry) Add(hook ancla.Webhook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.hooks {
		if h.Config.URL == hook.Config.URL {
			m.hooks[i] = hook
			return
		}
	}
	m.hooks = append(m.hooks, hook)
}

// AllWebhooks implements Registry.
func (m *MemoryRegistry) AllWebhooks(context.Context) ([]ancla.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ancla.Webhook, len(m.hooks))
	copy(out, m.hooks)
	return out, nil
}
