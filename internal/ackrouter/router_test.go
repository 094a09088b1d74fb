package ackrouter

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wrp "github.com/xmidt-org/wrp-go/v3"

	"github.com/xmidt-org/fleethub/internal/wire"
)

type fakeCommandTable struct {
	got []wire.CommandAck
}

func (f *fakeCommandTable) DeliverCommandAck(ack wire.CommandAck) {
	f.got = append(f.got, ack)
}

type fakeContentTable struct {
	got []wire.ContentAck
}

func (f *fakeContentTable) DeliverContentAck(ack wire.ContentAck) {
	f.got = append(f.got, ack)
}

func encodeMsg(t *testing.T, msg *wrp.Message) []byte {
	t.Helper()
	var buf []byte
	encoder := wrp.NewEncoderBytes(&buf, wrp.Msgpack)
	require.NoError(t, encoder.Encode(msg))
	return buf
}

func TestRouteCommandDeliversDecodedAck(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "cmd-1",
		Metadata: map[string]string{
			"status":  "Completed",
			"message": "rebooted",
		},
	})

	table := new(fakeCommandTable)
	r := New(log.NewNopLogger())
	r.RouteCommand(table, "dev-1", raw)

	require.Len(t, table.got, 1)
	assert.Equal(t, "dev-1", table.got[0].DeviceID)
	assert.Equal(t, "cmd-1", table.got[0].CommandID)
	assert.Equal(t, wire.CommandCompleted, table.got[0].Status)
	assert.Equal(t, "rebooted", table.got[0].Message)
}

func TestRouteCommandMalformedIsDropped(t *testing.T) {
	table := new(fakeCommandTable)
	r := New(log.NewNopLogger())
	r.RouteCommand(table, "dev-1", []byte("not msgpack"))

	assert.Empty(t, table.got)
}

func TestRouteContentDeliversProgress(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "delivery-1",
		Metadata: map[string]string{
			"status":  "InProgress",
			"percent": "42",
		},
	})

	table := new(fakeContentTable)
	r := New(log.NewNopLogger())
	r.RouteContent(table, "dev-2", raw)

	require.Len(t, table.got, 1)
	assert.Equal(t, "delivery-1", table.got[0].DeliveryID)
	assert.Equal(t, wire.ContentInProgress, table.got[0].Status)
	require.NotNil(t, table.got[0].Progress)
	assert.Equal(t, 42, table.got[0].Progress.Percent)
}

func TestRouteContentTerminalWithoutProgress(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "delivery-2",
		Metadata: map[string]string{
			"status": "Failed",
		},
	})

	table := new(fakeContentTable)
	r := New(log.NewNopLogger())
	r.RouteContent(table, "dev-2", raw)

	require.Len(t, table.got, 1)
	assert.Equal(t, wire.ContentFailed, table.got[0].Status)
	assert.Nil(t, table.got[0].Progress)
}

func TestRouteContentDecodesFullProgress(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "delivery-3",
		Metadata: map[string]string{
			"status":          "InProgress",
			"percent":         "50",
			"total_media":     "3",
			"completed_media": "2",
			"failed_media":    "0",
			"per_media_state": `[{"id":"m1","ok":true},{"id":"m2","ok":true},{"id":"m3","ok":false,"reason":"CHECKSUM_MISMATCH"}]`,
		},
	})

	table := new(fakeContentTable)
	r := New(log.NewNopLogger())
	r.RouteContent(table, "dev-3", raw)

	require.Len(t, table.got, 1)
	progress := table.got[0].Progress
	require.NotNil(t, progress)
	assert.Equal(t, 50, progress.Percent)
	assert.Equal(t, 3, progress.TotalMedia)
	assert.Equal(t, 2, progress.CompletedMedia)
	assert.Equal(t, 0, progress.FailedMedia)

	require.Len(t, progress.PerMediaState, 3)
	assert.Equal(t, wire.MediaState{ID: "m1", OK: true}, progress.PerMediaState[0])
	assert.Equal(t, wire.MediaState{ID: "m3", OK: false, Reason: "CHECKSUM_MISMATCH"}, progress.PerMediaState[2])
}

func TestRouteContentProgressWithoutPercent(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "delivery-4",
		Metadata: map[string]string{
			"status":          "Partial",
			"total_media":     "3",
			"completed_media": "2",
			"failed_media":    "1",
		},
	})

	table := new(fakeContentTable)
	r := New(log.NewNopLogger())
	r.RouteContent(table, "dev-4", raw)

	require.Len(t, table.got, 1)
	progress := table.got[0].Progress
	require.NotNil(t, progress)
	assert.Equal(t, 3, progress.TotalMedia)
	assert.Equal(t, 1, progress.FailedMedia)
	assert.Nil(t, progress.PerMediaState)
}

func TestRouteContentMalformedMediaStatesDropsArrayOnly(t *testing.T) {
	raw := encodeMsg(t, &wrp.Message{
		Type:            wrp.SimpleEventMessageType,
		TransactionUUID: "delivery-5",
		Metadata: map[string]string{
			"status":          "InProgress",
			"percent":         "10",
			"per_media_state": "{not an array",
		},
	})

	table := new(fakeContentTable)
	r := New(log.NewNopLogger())
	r.RouteContent(table, "dev-5", raw)

	require.Len(t, table.got, 1)
	progress := table.got[0].Progress
	require.NotNil(t, progress)
	assert.Equal(t, 10, progress.Percent)
	assert.Nil(t, progress.PerMediaState)
}
