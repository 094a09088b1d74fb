// Package wire defines the device-facing message shapes that cross the
// dispatch engine's boundary, and their encoding onto wrp.Message envelopes.
package wire

import (
	"errors"
	"strconv"
	"time"

	wrp "github.com/xmidt-org/wrp-go/v3"
)

// ErrEmptyCorrelationID is returned when a frame is built without a
// correlation id (command-id or delivery-id).
var ErrEmptyCorrelationID = errors.New("wire: correlation id must not be empty")

// StreamKind distinguishes the two independent session namespaces a device
// maintains with the hub.
type StreamKind int

const (
	// KindCommand is the control-plane stream (reboot, clock, network, etc).
	KindCommand StreamKind = iota
	// KindContent is the content-delivery stream (signage packages, media).
	KindContent
)

func (k StreamKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindContent:
		return "content"
	default:
		return "unknown"
	}
}

// CommandFrame is one outbound command pushed to a device. The Payload is
// opaque to the dispatch engine: only CommandID and RequiresAck are
// validated.
type CommandFrame struct {
	CommandID   string
	RequiresAck bool
	IssuedAt    time.Time
	Payload     []byte
	ContentType string
}

// ContentFrame is one outbound content delivery pushed to a device.
type ContentFrame struct {
	DeliveryID  string
	RequiresAck bool
	Payload     []byte
	ContentType string
	Media       []MediaRef
}

// MediaRef is one media item referenced by a ContentFrame.
type MediaRef struct {
	ID       string
	Checksum string
	URL      string
}

// Frame is anything the Dispatcher can translate into an outbound wrp.Message
// and track in the Pending-Ack Table. CommandFrame and ContentFrame both
// satisfy it.
type Frame interface {
	CorrelationID() string
	AckRequired() bool
	ToWRP(source, dest string) (*wrp.Message, error)
}

// CorrelationID returns the frame's correlation id, the command-id for
// commands and the delivery-id for content.
func (f *CommandFrame) CorrelationID() string { return f.CommandID }

// AckRequired reports whether this frame must be tracked in the Pending-Ack
// Table.
func (f *CommandFrame) AckRequired() bool { return f.RequiresAck }

// CorrelationID returns the frame's correlation id.
func (f *ContentFrame) CorrelationID() string { return f.DeliveryID }

// AckRequired reports whether this frame must be tracked in the Pending-Ack
// Table.
func (f *ContentFrame) AckRequired() bool { return f.RequiresAck }

// ToWRP encodes a CommandFrame as the SimpleEvent wrp.Message the hub
// writes onto a device's command session.
func (f *CommandFrame) ToWRP(source, dest string) (*wrp.Message, error) {
	if f.CommandID == "" {
		return nil, ErrEmptyCorrelationID
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		Source:          source,
		Destination:     dest,
		TransactionUUID: f.CommandID,
		ContentType:     contentType,
		Payload:         f.Payload,
		Metadata: map[string]string{
			"requires-ack": boolString(f.RequiresAck),
			"issued-at":    f.IssuedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

// ToWRP encodes a ContentFrame as a SimpleEvent wrp.Message.
func (f *ContentFrame) ToWRP(source, dest string) (*wrp.Message, error) {
	if f.DeliveryID == "" {
		return nil, ErrEmptyCorrelationID
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		Source:          source,
		Destination:     dest,
		TransactionUUID: f.DeliveryID,
		ContentType:     contentType,
		Payload:         f.Payload,
		Metadata: map[string]string{
			"requires-ack": boolString(f.RequiresAck),
			"media-count":  strconv.Itoa(len(f.Media)),
		},
	}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
