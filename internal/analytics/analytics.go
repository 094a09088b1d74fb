// Package analytics is the telemetry batch-ingestion service: one unary
// Ingest(Batch) -> Ack operation, its own gorilla/mux route, its own
// in-memory event store. It has no device session and never calls into
// internal/dispatch.
package analytics

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Policy bounds what one ingestion call will accept.
type Policy struct {
	MaxBatchSize int   `json:"maxBatchSize"`
	ThrottleMs   int64 `json:"throttleMs"`
}

// DefaultPolicy is applied by NewService when the caller doesn't override it.
var DefaultPolicy = Policy{MaxBatchSize: 500, ThrottleMs: 0}

const eventIDLength = 16

// ErrBatchTooLarge is returned when a Batch carries more events than the
// policy allows.
var ErrBatchTooLarge = errors.New("analytics: batch exceeds max batch size")

// Event is one opaque analytics event; Payload is never decoded by this
// service.
type Event struct {
	ID      [eventIDLength]byte
	Payload []byte
}

// Batch is one Ingest request.
type Batch struct {
	BatchID           [16]byte
	DeviceFingerprint uint32
	Events            []Event
	QueueStatus       string
	SentAtMs          int64
}

// Ack is the Ingest response.
type Ack struct {
	BatchID          [16]byte
	Accepted         int
	RejectedEventIDs [][16]byte
	ThrottleMs       int64
	Policy           Policy
}

// storedEvent is one accepted event retained for aggregation.
type storedEvent struct {
	deviceFingerprint uint32
	event             Event
	receivedAt        time.Time
}

// Service is the in-memory analytics ingestion service.
type Service struct {
	policy Policy
	logger log.Logger

	mu     sync.Mutex
	events []storedEvent
	counts map[uint32]int
}

// NewService constructs a Service. A zero-value Policy falls back to
// DefaultPolicy.
func NewService(policy Policy, logger log.Logger) *Service {
	if policy.MaxBatchSize == 0 {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		policy: policy,
		logger: logger,
		counts: make(map[uint32]int),
	}
}

// Ingest validates and stores a batch. Event ids are validated to exactly
// 16 bytes at the transport layer, so this only ever rejects on batch size.
func (s *Service) Ingest(batch Batch) (Ack, error) {
	if len(batch.Events) > s.policy.MaxBatchSize {
		return Ack{}, ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var rejected [][16]byte
	accepted := 0

	for _, e := range batch.Events {
		s.events = append(s.events, storedEvent{
			deviceFingerprint: batch.DeviceFingerprint,
			event:             e,
			receivedAt:        now,
		})
		s.counts[batch.DeviceFingerprint]++
		accepted++
	}

	level.Debug(s.logger).Log("msg", "batch ingested", "batchId", hex.EncodeToString(batch.BatchID[:]), "accepted", accepted, "rejected", len(rejected))

	return Ack{
		BatchID:          batch.BatchID,
		Accepted:         accepted,
		RejectedEventIDs: rejected,
		ThrottleMs:       s.policy.ThrottleMs,
		Policy:           s.policy,
	}, nil
}

// EventCount returns how many events a given device fingerprint has sent.
func (s *Service) EventCount(fingerprint uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[fingerprint]
}

// TotalEvents returns the count of every event ever accepted.
func (s *Service) TotalEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
