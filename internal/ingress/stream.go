package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xmidt-org/fleethub/internal/dispatch"
	"github.com/xmidt-org/fleethub/internal/wire"
)

// streamCommandHandler flushes one JSON object per line as the Dispatcher
// reports progress. go-kit's single-response endpoint model has no room for
// a caller-driven flush loop, so this is a direct http.HandlerFunc
// registered straight onto the mux subrouter.
func streamCommandHandler(d *dispatch.Dispatcher, defaultTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]

		req := new(commandRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		frame := &wire.CommandFrame{
			CommandID:   req.CommandID,
			RequiresAck: true,
			IssuedAt:    time.Now(),
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
		}

		timeout := timeoutOrDefault(r, defaultTimeout)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for update := range d.SendAsStreamToOne(r.Context(), deviceID, frame, timeout) {
			writeNDJSON(w, flusher, update)
		}
	}
}

// streamGroupCommandHandler is the group-fan-out equivalent: every update
// carries its originating device id plus the Started/Complete meta events.
func streamGroupCommandHandler(d *dispatch.Dispatcher, defaultTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := mux.Vars(r)["groupId"]

		req := new(commandRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		build := commandFanOutBuilder(&wire.CommandFrame{
			CommandID:   req.CommandID,
			RequiresAck: true,
			IssuedAt:    time.Now(),
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
		})

		timeout := timeoutOrDefault(r, defaultTimeout)

		updates, err := d.SendAsStreamToGroup(r.Context(), groupID, req.CommandID, build, timeout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for update := range updates {
			writeNDJSON(w, flusher, update)
		}
	}
}

// streamContentHandler is streamCommandHandler's content-delivery
// counterpart; progress lines additionally carry percent/media counts when
// the device reports them.
func streamContentHandler(d *dispatch.Dispatcher, defaultTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceId"]

		req := new(contentRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		frame := &wire.ContentFrame{
			DeliveryID:  req.DeliveryID,
			RequiresAck: true,
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
			Media:       req.Media,
		}

		timeout := timeoutOrDefault(r, defaultTimeout)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for update := range d.SendAsStreamToOne(r.Context(), deviceID, frame, timeout) {
			writeNDJSON(w, flusher, update)
		}
	}
}

func streamGroupContentHandler(d *dispatch.Dispatcher, defaultTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := mux.Vars(r)["groupId"]

		req := new(contentRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		build := contentFanOutBuilder(&wire.ContentFrame{
			DeliveryID:  req.DeliveryID,
			RequiresAck: true,
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
			Media:       req.Media,
		})

		timeout := timeoutOrDefault(r, defaultTimeout)

		updates, err := d.SendAsStreamToGroup(r.Context(), groupID, req.DeliveryID, build, timeout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for update := range updates {
			writeNDJSON(w, flusher, update)
		}
	}
}

func writeNDJSON(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	_ = json.NewEncoder(w).Encode(v)
	if flusher != nil {
		flusher.Flush()
	}
}
