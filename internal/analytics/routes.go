package analytics

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
)

// wireEvent is the over-the-wire JSON shape of one Event; ID arrives
// base64-encoded and is validated to be exactly 16 bytes before it is
// accepted into a fixed-size Event.ID.
type wireEvent struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

type wireBatch struct {
	BatchID           string      `json:"batchId"`
	DeviceFingerprint uint32      `json:"deviceFingerprint"`
	Events            []wireEvent `json:"events"`
	QueueStatus       string      `json:"queueStatus,omitempty"`
	SentAtMs          int64       `json:"sentAtMs"`
}

// errMalformedID is returned when a batch id or event id does not decode to
// exactly 16 bytes.
var errMalformedID = errors.New("analytics: id must decode to exactly 16 bytes")

// Options configures the analytics route.
type Options struct {
	Router  *mux.Router
	Service *Service
	Logger  log.Logger
}

// ConfigHandler wires the single Ingest route onto o.Router.
func ConfigHandler(o *Options) {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	o.Router.HandleFunc("/analytics/ingest", ingestHandler(o.Service, o.Logger)).Methods(http.MethodPost)
}

func ingestHandler(svc *Service, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wb wireBatch
		if err := json.NewDecoder(r.Body).Decode(&wb); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		batch, err := toBatch(wb)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ack, err := svc.Ingest(batch)
		if err != nil {
			if errors.Is(err, ErrBatchTooLarge) {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			level.Error(logger).Log("msg", "ingest failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(fromAck(ack))
	}
}

func toBatch(wb wireBatch) (Batch, error) {
	batchID, err := decodeFixed16(wb.BatchID)
	if err != nil {
		return Batch{}, err
	}

	events := make([]Event, len(wb.Events))
	for i, we := range wb.Events {
		id, err := decodeFixed16(we.ID)
		if err != nil {
			return Batch{}, err
		}
		events[i] = Event{ID: id, Payload: we.Payload}
	}

	return Batch{
		BatchID:           batchID,
		DeviceFingerprint: wb.DeviceFingerprint,
		Events:            events,
		QueueStatus:       wb.QueueStatus,
		SentAtMs:          wb.SentAtMs,
	}, nil
}

func decodeFixed16(s string) ([16]byte, error) {
	var out [16]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return out, errMalformedID
	}
	copy(out[:], raw)
	return out, nil
}

type wireAck struct {
	BatchID          string   `json:"batchId"`
	Accepted         int      `json:"accepted"`
	RejectedEventIDs []string `json:"rejectedEventIds"`
	ThrottleMs       int64    `json:"throttleMs"`
	Policy           Policy   `json:"policy"`
}

func fromAck(ack Ack) wireAck {
	rejected := make([]string, len(ack.RejectedEventIDs))
	for i, id := range ack.RejectedEventIDs {
		rejected[i] = base64.StdEncoding.EncodeToString(id[:])
	}
	return wireAck{
		BatchID:          base64.StdEncoding.EncodeToString(ack.BatchID[:]),
		Accepted:         ack.Accepted,
		RejectedEventIDs: rejected,
		ThrottleMs:       ack.ThrottleMs,
		Policy:           ack.Policy,
	}
}
