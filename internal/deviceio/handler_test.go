package deviceio

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmidt-org/fleethub/internal/device"
	"github.com/xmidt-org/fleethub/internal/wire"
)

func TestSubscribeCommandsAttachesSession(t *testing.T) {
	registry := device.NewRegistry(device.RegistryOptions{Kind: wire.KindCommand})

	r := mux.NewRouter()
	ConfigHandler(&Options{Router: r, CommandRegistry: registry, ContentRegistry: device.NewRegistry(device.RegistryOptions{Kind: wire.KindContent})})

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "/device/d1/commands"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return registry.Len() == 1
	}, time.Second, 10*time.Millisecond)

	session, ok := registry.Lookup("d1")
	require.True(t, ok)
	assert.Equal(t, "d1", session.ID())
}

func TestSubscribeEmptyDeviceIDRejected(t *testing.T) {
	registry := device.NewRegistry(device.RegistryOptions{Kind: wire.KindCommand})

	r := mux.NewRouter()
	ConfigHandler(&Options{Router: r, CommandRegistry: registry, ContentRegistry: device.NewRegistry(device.RegistryOptions{Kind: wire.KindContent})})

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "/device//commands"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
}
