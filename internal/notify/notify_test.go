package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/ancla"

	"github.com/xmidt-org/fleethub/internal/wire"
)

type fakeRegistry struct {
	hooks []ancla.Webhook
}

func (f *fakeRegistry) AllWebhooks(context.Context) ([]ancla.Webhook, error) {
	return f.hooks, nil
}

func TestOnSessionChangeDeliversToSubscribedWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
		done     = make(chan struct{}, 1)
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		done <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := &fakeRegistry{hooks: []ancla.Webhook{
		{
			Events: []string{EventDeviceConnected},
			Config: ancla.DeliveryConfig{URL: srv.URL},
		},
	}}

	n := New(registry, nil)
	n.OnSessionChange(wire.KindCommand, "d1", true)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventDeviceConnected, received[0].Event)
	assert.Equal(t, "d1", received[0].DeviceID)
}

func TestOnSessionChangeSkipsUnsubscribedWebhook(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- struct{}{}
	}))
	defer srv.Close()

	registry := &fakeRegistry{hooks: []ancla.Webhook{
		{
			Events: []string{EventGroupDispatchDone},
			Config: ancla.DeliveryConfig{URL: srv.URL},
		},
	}}

	n := New(registry, nil)
	n.OnSessionChange(wire.KindCommand, "d1", false)

	select {
	case <-delivered:
		t.Fatal("webhook not subscribed to this event must not receive it")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHookRegistrationRoutes(t *testing.T) {
	registry := NewMemoryRegistry()

	r := mux.NewRouter()
	ConfigHandler(&Options{Router: r, Registry: registry})

	body, _ := json.Marshal(map[string]interface{}{
		"events": []string{EventDeviceConnected},
		"config": map[string]string{"url": "http://example.com/hook"},
	})
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/hooks", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var hooks []ancla.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hooks))
	require.Len(t, hooks, 1)
	assert.Equal(t, "http://example.com/hook", hooks[0].Config.URL)
}

func TestHookRegistrationRejectsMissingURL(t *testing.T) {
	r := mux.NewRouter()
	ConfigHandler(&Options{Router: r, Registry: NewMemoryRegistry()})

	body, _ := json.Marshal(map[string]interface{}{"events": []string{".*"}})
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryRegistryReplacesByURL(t *testing.T) {
	registry := NewMemoryRegistry()

	registry.Add(ancla.Webhook{Events: []string{".*"}, Config: ancla.DeliveryConfig{URL: "http://example.com/hook"}})
	registry.Add(ancla.Webhook{Events: []string{EventDeviceConnected}, Config: ancla.DeliveryConfig{URL: "http://example.com/hook"}})

	hooks, err := registry.AllWebhooks(context.Background())
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, []string{EventDeviceConnected}, hooks[0].Events)
}
