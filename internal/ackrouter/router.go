// Package ackrouter implements the Acknowledgement Router: the single
// inbound hot path that decodes an inbound wrp.Message from a device session
// and routes it to the matching Pending-Ack Table waiter. The router itself
// holds no state; it exists so internal/device never imports
// internal/pendingack directly.
package ackrouter

import (
	"encoding/json"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	wrp "github.com/xmidt-org/wrp-go/v3"

	"github.com/xmidt-org/fleethub/internal/wire"
)

// CommandTable is the subset of *pendingack.Table the Router needs for
// command acks.
type CommandTable interface {
	DeliverCommandAck(wire.CommandAck)
}

// ContentTable is the subset of *pendingack.Table the Router needs for
// content acks.
type ContentTable interface {
	DeliverContentAck(wire.ContentAck)
}

// Router decodes inbound device acknowledgements and forwards them to the
// Pending-Ack Table. A single Router serves both stream kinds through
// RouteCommand and RouteContent.
type Router struct {
	logger log.Logger
}

// New constructs a Router.
func New(logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Router{logger: logger}
}

// RouteCommand decodes raw (a Msgpack-encoded wrp.Message read off a
// command session) and delivers it to table.
func (r *Router) RouteCommand(table CommandTable, deviceID string, raw []byte) {
	msg, err := decode(raw)
	if err != nil {
		level.Error(r.logger).Log("msg", "malformed command ack", "deviceID", deviceID, "err", err)
		return
	}

	ack := wire.CommandAck{
		DeviceID:  deviceID,
		CommandID: msg.TransactionUUID,
		Status:    commandStatus(msg.Metadata["status"]),
		Message:   msg.Metadata["message"],
	}

	level.Debug(r.logger).Log("msg", "routing command ack", "deviceID", deviceID, "commandID", ack.CommandID, "status", ack.Status.String())
	table.DeliverCommandAck(ack)
}

// RouteContent decodes raw and delivers it to table.
func (r *Router) RouteContent(table ContentTable, deviceID string, raw []byte) {
	msg, err := decode(raw)
	if err != nil {
		level.Error(r.logger).Log("msg", "malformed content ack", "deviceID", deviceID, "err", err)
		return
	}

	ack := wire.ContentAck{
		DeviceID:   deviceID,
		DeliveryID: msg.TransactionUUID,
		Status:     contentStatus(msg.Metadata["status"]),
		Message:    msg.Metadata["message"],
		Progress:   decodeProgress(msg.Metadata),
	}

	level.Debug(r.logger).Log("msg", "routing content ack", "deviceID", deviceID, "deliveryID", ack.DeliveryID, "status", ack.Status.String())
	table.DeliverContentAck(ack)
}

func decode(raw []byte) (*wrp.Message, error) {
	msg := new(wrp.Message)
	decoder := wrp.NewDecoderBytes(raw, wrp.Msgpack)
	if err := decoder.Decode(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func commandStatus(s string) wire.CommandAckStatus {
	switch s {
	case "Received":
		return wire.CommandReceived
	case "Completed":
		return wire.CommandCompleted
	case "Failed":
		return wire.CommandFailed
	case "Rejected":
		return wire.CommandRejected
	default:
		return wire.CommandUnspecified
	}
}

func contentStatus(s string) wire.ContentAckStatus {
	switch s {
	case "Received":
		return wire.ContentReceived
	case "InProgress":
		return wire.ContentInProgress
	case "Completed":
		return wire.ContentCompleted
	case "Partial":
		return wire.ContentPartial
	case "Failed":
		return wire.ContentFailed
	default:
		return wire.ContentUnspecified
	}
}

// decodeProgress reads the optional progress fields a content ack carries:
// percent, total_media, completed_media, failed_media, and the
// JSON-encoded per_media_state array. Absent keys leave their fields zero;
// a content ack with none of them carries no progress at all.
func decodeProgress(metadata map[string]string) *wire.Progress {
	if metadata == nil {
		return nil
	}

	_, hasPercent := metadata["percent"]
	_, hasTotal := metadata["total_media"]
	_, hasCompleted := metadata["completed_media"]
	_, hasFailed := metadata["failed_media"]
	_, hasStates := metadata["per_media_state"]
	if !hasPercent && !hasTotal && !hasCompleted && !hasFailed && !hasStates {
		return nil
	}

	progress := &wire.Progress{
		PerMediaState: decodeMediaStates(metadata["per_media_state"]),
	}
	progress.Percent, _ = strconv.Atoi(metadata["percent"])
	progress.TotalMedia, _ = strconv.Atoi(metadata["total_media"])
	progress.CompletedMedia, _ = strconv.Atoi(metadata["completed_media"])
	progress.FailedMedia, _ = strconv.Atoi(metadata["failed_media"])
	return progress
}

// decodeMediaStates parses the per_media_state metadata value. A malformed
// array is dropped rather than failing the whole ack; the counts still
// describe the delivery.
func decodeMediaStates(raw string) []wire.MediaState {
	if raw == "" {
		return nil
	}
	var states []wire.MediaState
	if err := json.Unmarshal([]byte(raw), &states); err != nil {
		return nil
	}
	return states
}
