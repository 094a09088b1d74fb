// Package device owns the Session Registry: the process-wide table of
// currently attached device sessions, one instance per stream kind. Each
// session is a bounded outbound channel serviced by a write pump plus a
// read pump that decodes inbound frames; attach is last-writer-wins and
// closes any session it replaces.
package device

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"

	"github.com/xmidt-org/fleethub/internal/wire"
)

// ErrClosed is returned by Send when the session has already been detached.
var ErrClosed = errors.New("device: session closed")

// ErrEmptyID is returned by Attach when called with an empty device id.
var ErrEmptyID = errors.New("device: id must not be empty")

const (
	stateOpen int32 = iota
	stateClosed
)

// DefaultOutboundQueueSize bounds the number of frames buffered for a device
// that is slow to drain its socket before the session is dropped.
const DefaultOutboundQueueSize = 32

// Notifier is called when a session is attached or detached, giving
// internal/notify a place to fan events out to registered webhooks.
type Notifier func(kind wire.StreamKind, deviceID string, connected bool)

// AckCallback receives inbound acknowledgement messages decoded from a
// session's read pump; internal/ackrouter supplies this.
type AckCallback func(kind wire.StreamKind, deviceID string, raw []byte)

// Session is one live bidirectional attachment between the hub and a device,
// scoped to a single stream kind.
type Session struct {
	id    string
	kind  wire.StreamKind
	conn  *websocket.Conn
	log   log.Logger
	queue chan outboundFrame

	state int32

	connectedAt    time.Time
	lastActivity   atomic.Value // time.Time
	lastDeliveryID atomic.Value // string

	shutdown  chan struct{}
	closeOnce sync.Once

	onAck AckCallback
}

type outboundFrame struct {
	payload []byte
	done    chan<- error
}

type sessionOptions struct {
	ID         string
	Kind       wire.StreamKind
	Conn       *websocket.Conn
	Logger     log.Logger
	QueueSize  int
	ResumeHint string
	OnAck      AckCallback
}

func newSession(o sessionOptions) *Session {
	if o.QueueSize < 1 {
		o.QueueSize = DefaultOutboundQueueSize
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}

	s := &Session{
		id:          o.ID,
		kind:        o.Kind,
		conn:        o.Conn,
		log:         log.With(o.Logger, "deviceID", o.ID, "streamKind", o.Kind.String()),
		queue:       make(chan outboundFrame, o.QueueSize),
		state:       stateOpen,
		connectedAt: time.Now(),
		shutdown:    make(chan struct{}),
		onAck:       o.OnAck,
	}
	s.lastActivity.Store(s.connectedAt)
	if o.ResumeHint != "" {
		s.lastDeliveryID.Store(o.ResumeHint)
	}
	return s
}

// ID returns the device identifier this session belongs to.
func (s *Session) ID() string { return s.id }

// Kind returns the stream kind (command or content) of this session.
func (s *Session) Kind() wire.StreamKind { return s.kind }

// Closed reports whether this session has already been detached.
func (s *Session) Closed() bool {
	return atomic.LoadInt32(&s.state) != stateOpen
}

// ConnectedAt returns when this session was attached.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// LastActivity returns the most recent activity timestamp, monotonic
// within one session's lifetime.
func (s *Session) LastActivity() time.Time {
	return s.lastActivity.Load().(time.Time)
}

// markActivity bumps the last-activity timestamp. Called on every outbound
// write and every inbound ack.
func (s *Session) markActivity() {
	s.lastActivity.Store(time.Now())
}

// LastReceivedDeliveryID returns the opaque resume hint supplied by the
// device on SubscribeContent, if any.
func (s *Session) LastReceivedDeliveryID() string {
	if v, ok := s.lastDeliveryID.Load().(string); ok {
		return v
	}
	return ""
}

// Send writes a frame onto this session's outbound sink. It does not block
// indefinitely: if the outbound queue is full, the session is dropped as a
// slow consumer and this call returns ErrClosed.
func (s *Session) Send(payload []byte) error {
	if s.Closed() {
		return ErrClosed
	}

	done := make(chan error, 1)
	select {
	case s.queue <- outboundFrame{payload: payload, done: done}:
	default:
		s.forceClose()
		return ErrClosed
	}

	select {
	case err := <-done:
		if err == nil {
			s.markActivity()
		}
		return err
	case <-s.shutdown:
		return ErrClosed
	}
}

// forceClose is the slow-consumer path: the write pump could not keep up,
// so the session is torn down rather than backpressuring the dispatcher.
func (s *Session) forceClose() {
	s.requestClose()
}

func (s *Session) requestClose() {
	if atomic.CompareAndSwapInt32(&s.state, stateOpen, stateClosed) {
		s.closeOnce.Do(func() { close(s.shutdown) })
	}
}

// runPumps starts the read and write goroutines for this session. detach is
// invoked exactly once, from whichever pump notices the connection die
// first, and is responsible for removing the session from the registry and
// failing its waiters.
func (s *Session) runPumps(detach func(reason string)) {
	closeOnce := new(sync.Once)
	go s.writePump(closeOnce, detach)
	go s.readPump(closeOnce, detach)
}

func (s *Session) writePump(closeOnce *sync.Once, detach func(string)) {
	defer closeOnce.Do(func() { detach("write-error") })

	for {
		select {
		case <-s.shutdown:
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.queue:
			err := s.conn.WriteMessage(websocket.BinaryMessage, frame.payload)
			frame.done <- err
			close(frame.done)
			if err != nil {
				level.Error(s.log).Log("msg", "write failed", "err", err)
				return
			}
		}
	}
}

func (s *Session) readPump(closeOnce *sync.Once, detach func(string)) {
	defer closeOnce.Do(func() { detach("read-error") })

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		s.markActivity()
		if s.onAck != nil {
			s.onAck(s.kind, s.id, data)
		}
	}
}

// MarshalJSON renders the snapshot-friendly view of a session used by
// internal/ingress's "list connected devices" endpoint.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DeviceID     string    `json:"deviceId"`
		ConnectedAt  time.Time `json:"connectedAt"`
		LastActivity time.Time `json:"lastActivity"`
	}{
		DeviceID:     s.id,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.LastActivity(),
	})
}
