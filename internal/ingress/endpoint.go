// Package ingress is the administrative HTTP surface: mux routes, a bascule
// auth chain, go-kit endpoints wrapping the Dispatcher, and the streaming
// variants that flush newline-delimited progress updates to the caller.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/google/uuid"

	"github.com/xmidt-org/fleethub/internal/device"
	"github.com/xmidt-org/fleethub/internal/dispatch"
	"github.com/xmidt-org/fleethub/internal/wire"
)

// commandRequest is the decoded body of a dispatch-a-command request.
type commandRequest struct {
	DeviceID    string
	GroupID     string
	Broadcast   bool
	CommandID   string          `json:"commandId"`
	RequiresAck bool            `json:"requiresAck"`
	Payload     json.RawMessage `json:"payload"`
	ContentType string          `json:"contentType"`
	Timeout     time.Duration   `json:"-"`
}

// contentRequest is the decoded body of a dispatch-content request.
type contentRequest struct {
	DeviceID    string
	GroupID     string
	Broadcast   bool
	DeliveryID  string          `json:"deliveryId"`
	RequiresAck bool            `json:"requiresAck"`
	Payload     json.RawMessage `json:"payload"`
	ContentType string          `json:"contentType"`
	Media       []wire.MediaRef `json:"media"`
	Timeout     time.Duration   `json:"-"`
}

// errBadTarget is returned when a request names more than one of
// device/group/broadcast, or none at all.
var errBadTarget = errors.New("ingress: request must target exactly one of device, group, or all")

func makeDispatchCommandEndpoint(d *dispatch.Dispatcher, groupDone func(groupID string)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(*commandRequest)

		frame := &wire.CommandFrame{
			CommandID:   req.CommandID,
			RequiresAck: req.RequiresAck,
			IssuedAt:    time.Now(),
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
		}

		switch {
		case req.DeviceID != "":
			return d.SendToOne(ctx, req.DeviceID, frame, req.Timeout), nil
		case req.Broadcast:
			build := commandFanOutBuilder(frame)
			return d.SendToAll(ctx, build, req.Timeout), nil
		case req.GroupID != "":
			build := commandFanOutBuilder(frame)
			result, err := d.SendToGroup(ctx, req.GroupID, build, req.Timeout)
			if err != nil {
				return nil, fmt.Errorf("dispatch to group failed: %w", err)
			}
			if groupDone != nil {
				groupDone(req.GroupID)
			}
			return result, nil
		default:
			return nil, errBadTarget
		}
	}
}

// commandFanOutBuilder stamps a fresh, per-device command id derived from
// the administrator's base id so correlation ids stay unique across the
// fan-out, while keeping the base id traceable in logs.
func commandFanOutBuilder(base *wire.CommandFrame) dispatch.FrameBuilder {
	return func(deviceID string) wire.Frame {
		stamped := *base
		stamped.CommandID = fanOutCorrelationID(base.CommandID, deviceID)
		return &stamped
	}
}

func makeDispatchContentEndpoint(d *dispatch.Dispatcher, groupDone func(groupID string)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(*contentRequest)

		frame := &wire.ContentFrame{
			DeliveryID:  req.DeliveryID,
			RequiresAck: req.RequiresAck,
			Payload:     []byte(req.Payload),
			ContentType: req.ContentType,
			Media:       req.Media,
		}

		switch {
		case req.DeviceID != "":
			return d.SendToOne(ctx, req.DeviceID, frame, req.Timeout), nil
		case req.Broadcast:
			build := contentFanOutBuilder(frame)
			return d.SendToAll(ctx, build, req.Timeout), nil
		case req.GroupID != "":
			build := contentFanOutBuilder(frame)
			result, err := d.SendToGroup(ctx, req.GroupID, build, req.Timeout)
			if err != nil {
				return nil, fmt.Errorf("dispatch to group failed: %w", err)
			}
			if groupDone != nil {
				groupDone(req.GroupID)
			}
			return result, nil
		default:
			return nil, errBadTarget
		}
	}
}

// contentFanOutBuilder is commandFanOutBuilder's content-frame counterpart.
func contentFanOutBuilder(base *wire.ContentFrame) dispatch.FrameBuilder {
	return func(deviceID string) wire.Frame {
		stamped := *base
		stamped.DeliveryID = fanOutCorrelationID(base.DeliveryID, deviceID)
		return &stamped
	}
}

// fanOutCorrelationID derives a per-device correlation id unique across a
// single fan-out call. A random suffix (rather than a deviceID suffix alone)
// also keeps ids unique across overlapping fan-outs issued with the same
// administrator-supplied base id.
func fanOutCorrelationID(base, deviceID string) string {
	if base == "" {
		return deviceID + "-" + uuid.NewString()
	}
	return base + "-" + deviceID + "-" + uuid.NewString()[:8]
}

func makeSnapshotEndpoint(commands, content *dispatch.Dispatcher) endpoint.Endpoint {
	return func(_ context.Context, _ interface{}) (interface{}, error) {
		return struct {
			Commands []device.SessionInfo `json:"commandSessions"`
			Content  []device.SessionInfo `json:"contentSessions"`
		}{
			Commands: commands.Snapshot(),
			Content:  content.Snapshot(),
		}, nil
	}
}
