package pendingack

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/xmidt-org/fleethub/internal/device"
	"github.com/xmidt-org/fleethub/internal/wire"
)

// Table holds every waiter currently in flight, nested device id ->
// correlation id -> waiter, one Table per stream kind.
type Table struct {
	kind   wire.StreamKind
	logger log.Logger

	mu      sync.Mutex
	waiters map[string]map[string]*waiter
}

// NewTable constructs an empty Pending-Ack Table for one stream kind.
func NewTable(kind wire.StreamKind, logger log.Logger) *Table {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Table{
		kind:    kind,
		logger:  logger,
		waiters: make(map[string]map[string]*waiter),
	}
}

// Register inserts a new waiter and starts its timeout clock. If a waiter
// already exists for (deviceID, correlationID) it is replaced and resolved
// Cancelled; a correlation-id collision indicates a misbehaving caller, and
// the newer intent wins.
func (t *Table) Register(deviceID, correlationID string, timeout time.Duration, progress chan<- ProgressUpdate) Future {
	t.mu.Lock()

	byDevice, ok := t.waiters[deviceID]
	if !ok {
		byDevice = make(map[string]*waiter)
		t.waiters[deviceID] = byDevice
	}

	if old, exists := byDevice[correlationID]; exists {
		defer old.resolve(Result{
			DeviceID:      deviceID,
			CorrelationID: correlationID,
			Outcome:       OutcomeCancelled,
		})
	}

	w := newWaiter(deviceID, correlationID, timeout, progress, func() {
		t.timeout(deviceID, correlationID)
	})
	byDevice[correlationID] = w

	t.mu.Unlock()

	return Future{ch: w.resultCh}
}

// timeout is the callback a waiter's time.AfterFunc invokes. It resolves
// the waiter Timeout and removes it from the table, unless an ack already
// won the race.
func (t *Table) timeout(deviceID, correlationID string) {
	t.mu.Lock()
	w := t.take(deviceID, correlationID)
	t.mu.Unlock()

	if w == nil {
		return
	}

	w.resolve(Result{
		DeviceID:      deviceID,
		CorrelationID: correlationID,
		Outcome:       OutcomeTimeout,
	})
}

// take removes and returns the waiter for (deviceID, correlationID), if
// present. Callers must hold t.mu.
func (t *Table) take(deviceID, correlationID string) *waiter {
	byDevice, ok := t.waiters[deviceID]
	if !ok {
		return nil
	}
	w, ok := byDevice[correlationID]
	if !ok {
		return nil
	}
	delete(byDevice, correlationID)
	if len(byDevice) == 0 {
		delete(t.waiters, deviceID)
	}
	return w
}

// DeliverCommandAck routes one inbound command ack to its waiter. Received
// and Unspecified are non-terminal and only emit progress; Completed,
// Failed, and Rejected all resolve the waiter.
func (t *Table) DeliverCommandAck(ack wire.CommandAck) {
	terminal := ack.Status.Terminal()

	t.mu.Lock()
	var w *waiter
	if terminal {
		w = t.take(ack.DeviceID, ack.CommandID)
	} else {
		w = t.peek(ack.DeviceID, ack.CommandID)
	}
	t.mu.Unlock()

	if w == nil {
		// Either unknown, or lost the race to a timeout/concurrent
		// terminal ack: stale and duplicate acks are non-fatal.
		level.Debug(t.logger).Log("msg", "dropping ack for unknown or resolved waiter", "deviceID", ack.DeviceID, "commandID", ack.CommandID)
		return
	}

	if !terminal {
		w.emitProgress(ProgressUpdate{
			DeviceID:      ack.DeviceID,
			CorrelationID: ack.CommandID,
			Status:        ack.Status.String(),
			Message:       ack.Message,
		})
		return
	}

	w.resolve(Result{
		DeviceID:      ack.DeviceID,
		CorrelationID: ack.CommandID,
		Outcome:       commandOutcome(ack.Status),
		Message:       ack.Message,
	})
}

// DeliverContentAck routes one inbound content ack to its waiter. Received,
// InProgress, and Unspecified are progress-only; Completed, Partial, and Failed resolve
// the waiter, and only Completed counts as success.
func (t *Table) DeliverContentAck(ack wire.ContentAck) {
	terminal := ack.Status.Terminal()

	t.mu.Lock()
	var w *waiter
	if terminal {
		w = t.take(ack.DeviceID, ack.DeliveryID)
	} else {
		w = t.peek(ack.DeviceID, ack.DeliveryID)
	}
	t.mu.Unlock()

	if w == nil {
		level.Debug(t.logger).Log("msg", "dropping ack for unknown or resolved waiter", "deviceID", ack.DeviceID, "deliveryID", ack.DeliveryID)
		return
	}

	if !terminal {
		w.emitProgress(ProgressUpdate{
			DeviceID:      ack.DeviceID,
			CorrelationID: ack.DeliveryID,
			Status:        ack.Status.String(),
			Message:       ack.Message,
			Progress:      ack.Progress,
		})
		return
	}

	w.resolve(Result{
		DeviceID:      ack.DeviceID,
		CorrelationID: ack.DeliveryID,
		Outcome:       contentOutcome(ack.Status),
		Message:       ack.Message,
		Progress:      ack.Progress,
	})
}

// peek returns the waiter for (deviceID, correlationID) without removing
// it. Callers must hold t.mu.
func (t *Table) peek(deviceID, correlationID string) *waiter {
	byDevice, ok := t.waiters[deviceID]
	if !ok {
		return nil
	}
	return byDevice[correlationID]
}

// FailAllForDevice completes every waiter for deviceID with the reason the
// Session Registry supplies on detach/replace.
func (t *Table) FailAllForDevice(deviceID string, reason device.DisconnectReason) {
	t.mu.Lock()
	byDevice := t.waiters[deviceID]
	delete(t.waiters, deviceID)
	t.mu.Unlock()

	outcome := OutcomeDisconnected
	if reason == device.ReasonShuttingDown {
		outcome = OutcomeShuttingDown
	}

	for correlationID, w := range byDevice {
		w.resolve(Result{
			DeviceID:      deviceID,
			CorrelationID: correlationID,
			Outcome:       outcome,
		})
	}
}

// Cancel resolves a single waiter Cancelled and removes it, used when an
// administrative caller abandons a unary send or a streaming consumer
// cancels before a terminal event. Cancelling a waiter that is already
// resolved or gone is a no-op.
func (t *Table) Cancel(deviceID, correlationID string) {
	t.mu.Lock()
	w := t.take(deviceID, correlationID)
	t.mu.Unlock()

	if w == nil {
		return
	}

	w.resolve(Result{
		DeviceID:      deviceID,
		CorrelationID: correlationID,
		Outcome:       OutcomeCancelled,
	})
}

// Shutdown completes every waiter with ServiceShuttingDown and drops all
// pending timeouts.
func (t *Table) Shutdown() {
	t.mu.Lock()
	all := t.waiters
	t.waiters = make(map[string]map[string]*waiter)
	t.mu.Unlock()

	for deviceID, byDevice := range all {
		for correlationID, w := range byDevice {
			w.resolve(Result{
				DeviceID:      deviceID,
				CorrelationID: correlationID,
				Outcome:       OutcomeShuttingDown,
			})
		}
	}
}

func commandOutcome(status wire.CommandAckStatus) Outcome {
	switch status {
	case wire.CommandCompleted:
		return OutcomeCompleted
	case wire.CommandRejected:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

func contentOutcome(status wire.ContentAckStatus) Outcome {
	if status == wire.ContentCompleted {
		return OutcomeCompleted
	}
	return OutcomeFailed
}
