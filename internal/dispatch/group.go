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

// FrameBuilder produces a fresh frame for one device in a fan-out, letting
// the caller stamp a unique correlation id per device. The Dispatcher does
// not enforce uniqueness across the fan-out.
type FrameBuilder func(deviceID string) wire.Frame

// SendToAll fans frameBuilder out to every currently connected device.
func (d *Dispatcher) SendToAll(ctx context.Context, build FrameBuilder, timeout time.Duration) GroupResult {
	ids := d.registry.SnapshotIDs()
	return d.fanOut(ctx, "", ids, build, timeout)
}

// SendToGroup fans frameBuilder out to every device in the named fleet.
// Membership is resolved once, at the start of the fan-out; concurrent
// membership changes do not affect an in-flight dispatch.
func (d *Dispatcher) SendToGroup(ctx context.Context, groupID string, build FrameBuilder, timeout time.Duration) (GroupResult, error) {
	ids, err := d.fleet.MembersOf(groupID)
	if err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			return GroupResult{}, ErrGroupNotFound
		}
		return GroupResult{}, err
	}

	return d.fanOut(ctx, groupID, ids, build, timeout), nil
}

func (d *Dispatcher) fanOut(ctx context.Context, groupID string, ids []string, build FrameBuilder, timeout time.Duration) GroupResult {
	results := make([]Result, len(ids))

	var wg sync.WaitGroup
	wg.Add(len(ids))
	for i, id := range ids {
		i, id := i, id
		go func() {
			defer wg.Done()
			results[i] = d.SendToOne(ctx, id, build(id), timeout)
		}()
	}
	wg.Wait()

	agg := GroupResult{
		GroupID:       groupID,
		TargetDevices: len(ids),
		Results:       results,
	}
	for _, r := range results {
		switch r.Outcome {
		case pendingack.OutcomeCompleted:
			agg.Successful++
		case pendingack.OutcomeTimeout:
			agg.Failed++
			agg.TimedOut++
		default:
			agg.Failed++
		}
	}
	return agg
}
