package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xmidt-org/fleethub/internal/fleet"
	"github.com/xmidt-org/fleethub/internal/pendingack"
	"github.com/xmidt-org/fleethub/internal/wire"
)

// ProgressUpdate is one item on a streaming dispatch's returned channel:
// either a non-terminal progress report or (exactly once, last) the
// terminal Result.
type ProgressUpdate struct {
	Status   string
	Message  string
	Progress interface{}
	Terminal bool
	Result   Result
}

// SendAsStreamToOne is identical to SendToOne except it also attaches a
// progress sink to the waiter. The returned channel emits one
// ProgressUpdate per non-final ack, then one terminal ProgressUpdate, then
// closes.
//
// Cancelling ctx before a terminal event removes the waiter (best-effort;
// a simultaneous ack completion wins — Pending-Ack removal is idempotent).
func (d *Dispatcher) SendAsStreamToOne(ctx context.Context, deviceID string, frame wire.Frame, timeout time.Duration) <-chan ProgressUpdate {
	out := make(chan ProgressUpdate, 4)

	session, ok := d.registry.Lookup(deviceID)
	if !ok || session.Closed() {
		go func() {
			defer close(out)
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeNotConnected, Message: "Device not connected"})
		}()
		return out
	}

	msg, err := frame.ToWRP(d.source, deviceID)
	if err != nil {
		go func() {
			defer close(out)
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeFailed, Message: err.Error()})
		}()
		return out
	}

	payload, err := encode(msg)
	if err != nil {
		go func() {
			defer close(out)
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeFailed, Message: err.Error()})
		}()
		return out
	}

	if !frame.AckRequired() {
		go func() {
			defer close(out)
			if err := session.Send(payload); err != nil {
				out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeDisconnected})
				return
			}
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeCompleted})
		}()
		return out
	}

	progress := make(chan pendingack.ProgressUpdate, 8)
	future := d.table.Register(deviceID, frame.CorrelationID(), timeout, progress)

	if err := session.Send(payload); err != nil {
		d.table.Cancel(deviceID, frame.CorrelationID())
		go func() {
			defer close(out)
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: frame.CorrelationID(), Outcome: pendingack.OutcomeDisconnected})
		}()
		return out
	}

	go d.pumpStream(ctx, deviceID, frame.CorrelationID(), future, progress, out)
	return out
}

func (d *Dispatcher) pumpStream(ctx context.Context, deviceID, correlationID string, future pendingack.Future, progress <-chan pendingack.ProgressUpdate, out chan<- ProgressUpdate) {
	defer close(out)

	for {
		select {
		case update, ok := <-progress:
			if !ok {
				// Progress channel closes the instant the waiter resolves;
				// drain the final result and stop.
				result := future.Wait()
				out <- terminalUpdate(Result{DeviceID: result.DeviceID, CorrelationID: result.CorrelationID, Outcome: result.Outcome, Message: result.Message})
				return
			}
			out <- ProgressUpdate{Status: update.Status, Message: update.Message, Progress: update.Progress}

		case result := <-future.Done():
			out <- terminalUpdate(Result{DeviceID: result.DeviceID, CorrelationID: result.CorrelationID, Outcome: result.Outcome, Message: result.Message})
			return

		case <-ctx.Done():
			d.table.Cancel(deviceID, correlationID)
			out <- terminalUpdate(Result{DeviceID: deviceID, CorrelationID: correlationID, Outcome: pendingack.OutcomeCancelled})
			return
		}
	}
}

func terminalUpdate(result Result) ProgressUpdate {
	return ProgressUpdate{Terminal: true, Result: result, Status: result.Outcome.String()}
}

// MetaEvent is a group-streaming meta event: Started precedes every
// per-device update, Complete follows the last one.
type MetaEvent struct {
	Started  *StartedEvent
	Complete *CompleteEvent
}

// StartedEvent is emitted once at the beginning of a group stream.
type StartedEvent struct {
	TotalDevices  int
	CorrelationID string
}

// CompleteEvent is emitted once after every per-device stream has ended.
type CompleteEvent struct {
	Successful int
	Failed     int
}

// GroupStreamUpdate is one item on SendAsStreamToAll/SendAsStreamToGroup's
// returned channel: either a MetaEvent (Started/Complete) or a per-device
// ProgressUpdate tagged with fan-out progress.
type GroupStreamUpdate struct {
	Meta             *MetaEvent
	DeviceID         string
	Update           *ProgressUpdate
	CompletedDevices int
	TotalDevices     int
}

// SendAsStreamToAll fans frameBuilder out to every connected device,
// interleaving per-device progress with Started/Complete meta events. No
// cross-device ordering is guaranteed for the per-device updates.
func (d *Dispatcher) SendAsStreamToAll(ctx context.Context, correlationID string, build FrameBuilder, timeout time.Duration) <-chan GroupStreamUpdate {
	ids := d.registry.SnapshotIDs()
	return d.streamFanOut(ctx, ids, correlationID, build, timeout)
}

// SendAsStreamToGroup is the streaming variant of SendToGroup.
func (d *Dispatcher) SendAsStreamToGroup(ctx context.Context, groupID, correlationID string, build FrameBuilder, timeout time.Duration) (<-chan GroupStreamUpdate, error) {
	ids, err := d.fleet.MembersOf(groupID)
	if err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return d.streamFanOut(ctx, ids, correlationID, build, timeout), nil
}

func (d *Dispatcher) streamFanOut(ctx context.Context, ids []string, correlationID string, build FrameBuilder, timeout time.Duration) <-chan GroupStreamUpdate {
	out := make(chan GroupStreamUpdate, len(ids)+2)

	go func() {
		defer close(out)

		out <- GroupStreamUpdate{Meta: &MetaEvent{Started: &StartedEvent{TotalDevices: len(ids), CorrelationID: correlationID}}}

		type perDevice struct {
			deviceID string
			update   ProgressUpdate
		}

		merged := make(chan perDevice)
		var wg sync.WaitGroup
		wg.Add(len(ids))
		for _, id := range ids {
			id := id
			go func() {
				defer wg.Done()
				ch := d.SendAsStreamToOne(ctx, id, build(id), timeout)
				for u := range ch {
					merged <- perDevice{deviceID: id, update: u}
				}
			}()
		}

		go func() {
			wg.Wait()
			close(merged)
		}()

		completed, successful, failed := 0, 0, 0
		for pd := range merged {
			u := pd.update
			if u.Terminal {
				completed++
				if u.Result.Outcome == pendingack.OutcomeCompleted {
					successful++
				} else {
					failed++
				}
			}
			out <- GroupStreamUpdate{DeviceID: pd.deviceID, Update: &u, CompletedDevices: completed, TotalDevices: len(ids)}
		}

		out <- GroupStreamUpdate{Meta: &MetaEvent{Complete: &CompleteEvent{Successful: successful, Failed: failed}}}
	}()

	return out
}
