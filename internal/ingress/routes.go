package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/transport"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/go-kit/log"
	"github.com/goph/emperror"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/xmidt-org/fleethub/internal/dispatch"
	"github.com/xmidt-org/fleethub/internal/fleet"
	"github.com/xmidt-org/fleethub/internal/pendingack"
)

const apiBase = "/api/v1"

// Options configures the administrative router.
type Options struct {
	Router            *mux.Router
	Commands          *dispatch.Dispatcher
	Content           *dispatch.Dispatcher
	Fleet             *fleet.MemoryStore
	Authenticate      *alice.Chain
	Logger            log.Logger
	DefaultCmdTimeout time.Duration
	DefaultCntTimeout time.Duration

	// OnGroupDispatch, when set, is invoked after every successful unary
	// group fan-out (POST /fleet/{groupId}/command and /content) completes,
	// carrying the group id. The streaming group routes do not invoke it.
	// cmd/fleethub wires the webhook notifier here.
	OnGroupDispatch func(groupID string)
}

// ConfigHandler wires every administrative route onto o.Router: a
// sub-router scoped to apiBase, wrapped in the auth chain and an otelmux
// tracing middleware.
func ConfigHandler(o *Options) {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	o.Router.Use(otelmux.Middleware("fleethub"))

	base := o.Router.PathPrefix(apiBase).Subrouter()
	if o.Authenticate != nil {
		base.Use(o.Authenticate.Then)
	}

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorHandler(transport.NewLogErrorHandler(Error(o.Logger))),
		kithttp.ServerErrorEncoder(encodeError),
	}

	base.Handle("/device/{deviceId}/command", kithttp.NewServer(
		makeDispatchCommandEndpoint(o.Commands, o.OnGroupDispatch),
		decodeCommandRequest(o.DefaultCmdTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/device/{deviceId}/content", kithttp.NewServer(
		makeDispatchContentEndpoint(o.Content, o.OnGroupDispatch),
		decodeContentRequest(o.DefaultCntTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/fleet/{groupId}/command", kithttp.NewServer(
		makeDispatchCommandEndpoint(o.Commands, o.OnGroupDispatch),
		decodeGroupCommandRequest(o.DefaultCmdTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/fleet/{groupId}/content", kithttp.NewServer(
		makeDispatchContentEndpoint(o.Content, o.OnGroupDispatch),
		decodeGroupContentRequest(o.DefaultCntTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/broadcast/command", kithttp.NewServer(
		makeDispatchCommandEndpoint(o.Commands, o.OnGroupDispatch),
		decodeBroadcastCommandRequest(o.DefaultCmdTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/broadcast/content", kithttp.NewServer(
		makeDispatchContentEndpoint(o.Content, o.OnGroupDispatch),
		decodeBroadcastContentRequest(o.DefaultCntTimeout),
		encodeDispatchResponse,
		opts...,
	)).Methods(http.MethodPost)

	base.Handle("/devices", kithttp.NewServer(
		makeSnapshotEndpoint(o.Commands, o.Content),
		kithttp.NopRequestDecoder,
		kithttp.EncodeJSONResponse,
		opts...,
	)).Methods(http.MethodGet)

	base.HandleFunc("/device/{deviceId}/command/stream", streamCommandHandler(o.Commands, o.DefaultCmdTimeout)).Methods(http.MethodPost)
	base.HandleFunc("/fleet/{groupId}/command/stream", streamGroupCommandHandler(o.Commands, o.DefaultCmdTimeout)).Methods(http.MethodPost)
	base.HandleFunc("/device/{deviceId}/content/stream", streamContentHandler(o.Content, o.DefaultCntTimeout)).Methods(http.MethodPost)
	base.HandleFunc("/fleet/{groupId}/content/stream", streamGroupContentHandler(o.Content, o.DefaultCntTimeout)).Methods(http.MethodPost)

	if o.Fleet != nil {
		configFleetRoutes(base, o.Fleet)
	}
}

func decodeCommandRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(commandRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.DeviceID = mux.Vars(r)["deviceId"]
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

func decodeGroupCommandRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(commandRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.GroupID = mux.Vars(r)["groupId"]
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

func decodeBroadcastCommandRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(commandRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.Broadcast = true
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

func decodeBroadcastContentRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(contentRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.Broadcast = true
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

func decodeContentRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(contentRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.DeviceID = mux.Vars(r)["deviceId"]
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

func decodeGroupContentRequest(defaultTimeout time.Duration) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		req := new(contentRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, decodeErr(err)
		}
		req.GroupID = mux.Vars(r)["groupId"]
		req.Timeout = timeoutOrDefault(r, defaultTimeout)
		return req, nil
	}
}

// errMalformedRequest is the sentinel encodeError maps to a 400; the
// underlying decode failure is annotated with emperror before it reaches
// the client.
var errMalformedRequest = errors.New("ingress: malformed request body")

func decodeErr(err error) error {
	return fmt.Errorf("%w: %s", errMalformedRequest, emperror.Wrap(err, "decode request body"))
}

func timeoutOrDefault(r *http.Request, defaultTimeout time.Duration) time.Duration {
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return defaultTimeout
}

// encodeDispatchResponse picks the HTTP status from a single-device
// dispatch outcome: only Completed is success, so anything else surfaces as
// a non-2xx with the result still in the body. Group aggregates always
// encode 200 -- partial success is expressed in-band by their counts.
func encodeDispatchResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if result, ok := response.(dispatch.Result); ok && result.Outcome != pendingack.OutcomeCompleted {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(statusForOutcome(result.Outcome))
		return json.NewEncoder(w).Encode(result)
	}
	return kithttp.EncodeJSONResponse(ctx, w, response)
}

func statusForOutcome(outcome pendingack.Outcome) int {
	switch outcome {
	case pendingack.OutcomeNotConnected:
		return http.StatusNotFound
	case pendingack.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case pendingack.OutcomeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		// Failed, Rejected, Partial-carrying Failed, Disconnected,
		// Cancelled: the device side did not complete the dispatch.
		return http.StatusBadGateway
	}
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrGroupNotFound), errors.Is(err, errBadTarget), errors.Is(err, errMalformedRequest):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// Error is the error-level logger ConfigHandler's transport wires for
// every decode/endpoint failure.
func Error(logger log.Logger) log.Logger {
	return log.With(logger, "component", "ingress")
}
