// Package deviceio is the device-facing websocket surface: the
// SubscribeCommands/SubscribeContent upgrade handlers a device dials to
// attach its command and content sessions. Acknowledgements travel back
// over the same bidirectional socket, so there is no separate inbound HTTP
// ack route -- Session.readPump decodes them directly.
package deviceio

import (
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xmidt-org/fleethub/internal/device"
)

const deviceIDVar = "deviceId"

// Options configures the device-facing router.
type Options struct {
	Router          *mux.Router
	CommandRegistry *device.Registry
	ContentRegistry *device.Registry
	Logger          log.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ConfigHandler wires the two device-facing upgrade routes onto o.Router.
func ConfigHandler(o *Options) {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	o.Router.HandleFunc("/device/{deviceId}/commands", subscribeHandler(o.CommandRegistry, o.Logger)).Methods(http.MethodGet)
	o.Router.HandleFunc("/device/{deviceId}/content", subscribeHandler(o.ContentRegistry, o.Logger)).Methods(http.MethodGet)
}

func subscribeHandler(registry *device.Registry, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)[deviceIDVar]
		if deviceID == "" {
			http.Error(w, "deviceId is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			level.Error(logger).Log("msg", "websocket upgrade failed", "deviceID", deviceID, "err", err)
			return
		}

		resumeHint := r.URL.Query().Get("resumeFrom")

		if _, err := registry.Attach(deviceID, conn, resumeHint); err != nil {
			level.Error(logger).Log("msg", "attach failed", "deviceID", deviceID, "err", err)
			conn.Close()
			return
		}

		level.Info(logger).Log("msg", "device attached", "deviceID", deviceID, "kind", registry.Kind().String())
	}
}
