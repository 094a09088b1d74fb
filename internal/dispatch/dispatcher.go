// Package dispatch implements the Dispatcher: it translates an
// administrative "send X" intent into session writes plus Pending-Ack Table
// waiters, and shapes per-device outcomes into results the caller can
// aggregate.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/xmidt-org/fleethub/internal/device"
	"github.com/xmidt-org/fleethub/internal/fleet"
	"github.com/xmidt-org/fleethub/internal/pendingack"
	"github.com/xmidt-org/fleethub/internal/wire"
)

// ErrGroupNotFound is the single categorical error the dispatch engine
// surfaces out-of-band; every per-device failure travels in-band as a
// Result so partial success stays expressible.
var ErrGroupNotFound = errors.New("dispatch: group not found")

// Target identifies who a dispatch call addresses.
type Target struct {
	Device string // Target{Device: id} for a single device
	All    bool   // Target{All: true} for every connected device
	Group  string // Target{Group: id} for a named fleet
}

// DeviceTarget builds a Target addressing a single device.
func DeviceTarget(id string) Target { return Target{Device: id} }

// AllTarget builds a Target addressing every connected device.
func AllTarget() Target { return Target{All: true} }

// GroupTarget builds a Target addressing a named fleet.
func GroupTarget(id string) Target { return Target{Group: id} }

// Result is the per-device outcome returned to the administrative caller.
type Result struct {
	DeviceID      string
	CorrelationID string
	Outcome       pendingack.Outcome
	Message       string
}

// GroupResult is the aggregate returned for fan-out operations. It never
// fails wholesale because individual devices failed.
type GroupResult struct {
	GroupID       string
	TargetDevices int
	Results       []Result
	Successful    int
	Failed        int
	TimedOut      int
}

// Dispatcher is the per-stream-kind engine: one instance wraps the Session
// Registry and Pending-Ack Table for commands, another for content.
type Dispatcher struct {
	kind     wire.StreamKind
	source   string
	registry *device.Registry
	table    *pendingack.Table
	fleet    fleet.Oracle
	logger   log.Logger
}

// Options configures a new Dispatcher.
type Options struct {
	Kind     wire.StreamKind
	Source   string // the wrp.Message Source stamped on outbound frames
	Registry *device.Registry
	Table    *pendingack.Table
	Fleet    fleet.Oracle
	Logger   log.Logger
}

// New constructs a Dispatcher for one stream kind.
func New(o Options) *Dispatcher {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return &Dispatcher{
		kind:     o.Kind,
		source:   o.Source,
		registry: o.Registry,
		table:    o.Table,
		fleet:    o.Fleet,
		logger:   o.Logger,
	}
}

// SendToOne dispatches frame to exactly one device and, when the frame
// requires an ack, blocks until the waiter resolves or ctx is cancelled.
func (d *Dispatcher) SendToOne(ctx context.Context, deviceID string, frame wire.Frame, timeout time.Duration) Result {
	session, ok := d.registry.Lookup(deviceID)
	if !ok || session.Closed() {
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeNotConnected}
	}

	msg, err := frame.ToWRP(d.source, deviceID)
	if err != nil {
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeFailed, Message: err.Error()}
	}

	payload, err := encode(msg)
	if err != nil {
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeFailed, Message: err.Error()}
	}

	if !frame.AckRequired() {
		if err := session.Send(payload); err != nil {
			level.Error(d.logger).Log("msg", "write failed on ack-not-required frame", "deviceID", deviceID, "err", err)
			return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeDisconnected}
		}
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeCompleted}
	}

	// Register before writing so any ack that arrives the instant after the
	// write completes is never lost.
	future := d.table.Register(deviceID, frame.CorrelationID(), timeout, nil)

	if err := session.Send(payload); err != nil {
		d.table.Cancel(deviceID, frame.CorrelationID())
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeDisconnected}
	}

	select {
	case <-ctx.Done():
		d.table.Cancel(deviceID, frame.CorrelationID())
		return Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeCancelled}
	case result := <-future.Done():
		return Result{DeviceID: result.DeviceID, CorrelationID: result.CorrelationID, Outcome: result.Outcome, Message: result.Message}
	}
}

// Snapshot returns (device-id, connected-at, last-activity) for every
// currently attached session of this Dispatcher's stream kind.
func (d *Dispatcher) Snapshot() []device.SessionInfo {
	return d.registry.Snapshot()
}
