package device

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"

	"github.com/xmidt-org/fleethub/internal/wire"
)

// SessionInfo is one row of Registry.Snapshot's result.
type SessionInfo struct {
	DeviceID     string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// DisconnectReason classifies why fail-all-for-device was invoked: a
// replaced or torn-down session versus hub shutdown.
type DisconnectReason int

const (
	ReasonDisconnected DisconnectReason = iota
	ReasonShuttingDown
)

// FailAllForDevice resolves every pending waiter for a device with the given
// reason. Implemented by internal/pendingack.Table; injected here so the
// Session Registry never imports the Pending-Ack Table directly.
type FailAllForDevice func(deviceID string, reason DisconnectReason)

// Registry is the Session Registry for one stream kind: command or content.
// It holds at most one entry per device id at any instant.
type Registry struct {
	kind   wire.StreamKind
	logger log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	failAll FailAllForDevice
	notify  Notifier
	onAck   AckCallback
}

// RegistryOptions configures a new Registry.
type RegistryOptions struct {
	Kind             wire.StreamKind
	Logger           log.Logger
	FailAllForDevice FailAllForDevice
	Notify           Notifier
	OnAck            AckCallback
}

// NewRegistry constructs the Session Registry for one stream kind.
func NewRegistry(o RegistryOptions) *Registry {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return &Registry{
		kind:     o.Kind,
		logger:   o.Logger,
		sessions: make(map[string]*Session),
		failAll:  o.FailAllForDevice,
		notify:   o.Notify,
		onAck:    o.OnAck,
	}
}

// Attach registers a new session for deviceID over conn. If a session
// already exists for deviceID it is replaced: the old sink is closed
// (observed by the device as a clean end-of-stream) and its pending waiters
// resolve Disconnected. Devices lose connectivity and reconnect without
// cleanly closing the old stream; last-writer-wins keeps the hub from
// pushing into a silently-dead session.
func (r *Registry) Attach(deviceID string, conn *websocket.Conn, resumeHint string) (*Session, error) {
	if deviceID == "" {
		return nil, ErrEmptyID
	}

	session := newSession(sessionOptions{
		ID:         deviceID,
		Kind:       r.kind,
		Conn:       conn,
		Logger:     r.logger,
		ResumeHint: resumeHint,
		OnAck:      r.onAck,
	})

	r.mu.Lock()
	old, existed := r.sessions[deviceID]
	r.sessions[deviceID] = session
	r.mu.Unlock()

	if existed {
		r.teardown(old, ReasonDisconnected)
	}

	session.runPumps(func(string) { r.Detach(deviceID, session) })

	if r.notify != nil {
		r.notify(r.kind, deviceID, true)
	}

	return session, nil
}

// Detach removes session from the registry if it is still the current
// session for deviceID (a session replaced by Attach has already been
// removed, so a late detach callback from its own pumps is a no-op here),
// closes its sink, and resolves its waiters Disconnected.
func (r *Registry) Detach(deviceID string, session *Session) {
	r.mu.Lock()
	current, ok := r.sessions[deviceID]
	isCurrent := ok && current == session
	if isCurrent {
		delete(r.sessions, deviceID)
	}
	r.mu.Unlock()

	if !isCurrent {
		return
	}

	r.teardown(session, ReasonDisconnected)

	if r.notify != nil {
		r.notify(r.kind, deviceID, false)
	}
}

func (r *Registry) teardown(session *Session, reason DisconnectReason) {
	session.requestClose()
	if r.failAll != nil {
		r.failAll(session.id, reason)
	}
}

// Kind returns the stream kind this registry manages.
func (r *Registry) Kind() wire.StreamKind { return r.kind }

// Lookup returns the live session for deviceID, if any.
func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[deviceID]
	return s, ok
}

// SnapshotIDs returns the device ids of every currently attached session,
// used by the Dispatcher to expand a send-to-all fan-out.
func (r *Registry) SnapshotIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns (device-id, connected-at, last-activity) for every
// currently attached session, used by the ingress "list connected devices"
// endpoint.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		rows = append(rows, SessionInfo{
			DeviceID:     id,
			ConnectedAt:  s.ConnectedAt(),
			LastActivity: s.LastActivity(),
		})
	}
	return rows
}

// Len returns the count of currently attached sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown detaches every session, observed by devices as a clean
// end-of-stream, and resolves every pending waiter ServiceShuttingDown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.requestClose()
		if r.failAll != nil {
			r.failAll(s.id, ReasonShuttingDown)
		}
	}
	level.Info(r.logger).Log("msg", "registry shutdown", "kind", r.kind.String(), "sessionsClosed", len(sessions))
}
