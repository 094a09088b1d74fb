// Package notify fans fleet lifecycle events -- device connect, device
// disconnect, and group-dispatch completion -- out to every webhook an
// administrator has registered. Registration storage lives behind the
// Registry interface (xmidt-org/ancla's webhook model); actual delivery,
// the POST to each subscriber's Config.URL, is this package's own concern.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/xmidt-org/ancla"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xmidt-org/fleethub/internal/wire"
)

// Event names administrators can subscribe a webhook to.
const (
	EventDeviceConnected    = "device-connected"
	EventDeviceDisconnected = "device-disconnected"
	EventGroupDispatchDone  = "group-dispatch-complete"
)

// Payload is the JSON body POSTed to a subscribed webhook.
type Payload struct {
	Event     string    `json:"event"`
	Kind      string    `json:"kind,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry is the subset of ancla's webhook service this package consumes:
// the read side of the registration store.
type Registry interface {
	AllWebhooks(ctx context.Context) ([]ancla.Webhook, error)
}

// Notifier fans events out to every webhook Registry currently lists.
type Notifier struct {
	registry Registry
	client   *http.Client
	logger   log.Logger
}

// New constructs a Notifier backed by registry.
func New(registry Registry, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Notifier{
		registry: registry,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// OnSessionChange is wired as a device.Notifier: it fires EventDeviceConnected
// or EventDeviceDisconnected for every attach/detach the Session Registry
// performs.
func (n *Notifier) OnSessionChange(kind wire.StreamKind, deviceID string, connected bool) {
	event := EventDeviceDisconnected
	if connected {
		event = EventDeviceConnected
	}

	n.fanOut(context.Background(), Payload{
		Event:     event,
		Kind:      kind.String(),
		DeviceID:  deviceID,
		Timestamp: time.Now(),
	})
}

// OnGroupDispatchComplete fires EventGroupDispatchDone after a group
// fan-out finishes. The payload carries only the group id, not the
// dispatch aggregate.
func (n *Notifier) OnGroupDispatchComplete(groupID string) {
	n.fanOut(context.Background(), Payload{
		Event:     EventGroupDispatchDone,
		GroupID:   groupID,
		Timestamp: time.Now(),
	})
}

func (n *Notifier) fanOut(ctx context.Context, payload Payload) {
	hooks, err := n.registry.AllWebhooks(ctx)
	if err != nil {
		level.Error(n.logger).Log("msg", "failed to list webhooks", "err", err)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		level.Error(n.logger).Log("msg", "failed to marshal webhook payload", "err", err)
		return
	}

	for _, hook := range hooks {
		if !subscribesTo(hook, payload.Event) {
			continue
		}

		go n.deliver(ctx, hook.Config.URL, body)
	}
}

func (n *Notifier) deliver(ctx context.Context, url string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		level.Error(n.logger).Log("msg", "failed to build webhook request", "url", url, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		level.Error(n.logger).Log("msg", "webhook delivery failed", "url", url, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		level.Error(n.logger).Log("msg", "webhook rejected delivery", "url", url, "status", resp.StatusCode)
	}
}

func subscribesTo(hook ancla.Webhook, event string) bool {
	for _, e := range hook.Events {
		if e == event || e == ".*" {
			return true
		}
	}
	return false
}
