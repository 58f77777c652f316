// Package lifecycle drives the timed Enroute → terminal-state transition
// of every submitted message and emits delivery receipts when a message
// reaches a terminal state.
package lifecycle

import (
	"container/heap"
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/pdu"
)

// Config is the environment-driven tunable surface for the scheduler
// (spec §6 config surface).
type Config struct {
	MaxTimeEnrouteMS     int   `env:"LIFECYCLE_MAX_TIME_ENROUTE_MS" envDefault:"2000"`
	PercentDelivered     int   `env:"LIFECYCLE_PERCENT_DELIVERED" envDefault:"85"`
	PercentUndeliverable int   `env:"LIFECYCLE_PERCENT_UNDELIVERABLE" envDefault:"5"`
	PercentAccepted      int   `env:"LIFECYCLE_PERCENT_ACCEPTED" envDefault:"5"`
	PercentRejected      int   `env:"LIFECYCLE_PERCENT_REJECTED" envDefault:"5"`
	ResidualExpiredPPM   int   `env:"LIFECYCLE_RESIDUAL_EXPIRED_PPM" envDefault:"0"`
	ResidualUnknownPPM   int   `env:"LIFECYCLE_RESIDUAL_UNKNOWN_PPM" envDefault:"0"`
	TestSeed             int64 `env:"TEST_SEED" envDefault:"0"`
}

// directivePrefix is the deterministic forced-state directive grammar
// used by tests: a short_message beginning with "STATE:DELIVRD" (etc.)
// forces that terminal state instead of drawing one.
const directivePrefix = "STATE:"

var directiveStates = map[string]message.State{
	"DELIVRD": message.Delivered,
	"UNDELIV": message.Undeliverable,
	"ACCEPTD": message.Accepted,
	"REJECTD": message.Rejected,
	"EXPIRED": message.Expired,
	"UNKNOWN": message.Unknown,
}

// Scheduler holds the min-heap of in-flight messages ordered by
// transition_at and wakes on the earliest deadline (spec §4.6, §9).
type Scheduler struct {
	cfg Config
	reg *registry.Registry
	log *logrus.Entry
	rnd *rand.Rand

	mu   sync.Mutex
	heap messageHeap
	wake chan struct{}

	ReceiptsSentTotal uint64
	// DeliveredTotal counts only messages that transitioned to the
	// Delivered terminal state, not every terminal transition.
	DeliveredTotal uint64
}

// New creates a Scheduler. If cfg.TestSeed is 0, randomness is seeded
// from the current time; tests can pin TEST_SEED for determinism.
func New(cfg Config, reg *registry.Registry, log *logrus.Entry) *Scheduler {
	seed := cfg.TestSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scheduler{
		cfg:  cfg,
		reg:  reg,
		log:  log,
		rnd:  rand.New(rand.NewSource(seed)),
		wake: make(chan struct{}, 1),
	}
}

// Schedule assigns transition_at to m and adds it to the heap. Safe for
// concurrent use by session goroutines.
func (s *Scheduler) Schedule(m *message.Message) {
	s.mu.Lock()
	maxMS := s.cfg.MaxTimeEnrouteMS
	if maxMS <= 0 {
		maxMS = 1
	}
	delay := time.Duration(s.rnd.Intn(maxMS)+1) * time.Millisecond
	m.TransitionAt = time.Now().Add(delay)
	heap.Push(&s.heap, m)
	s.mu.Unlock()
	s.notify()
}

// SetMaxTimeEnrouteMS updates the maximum Enroute dwell time applied to
// messages scheduled after the call (POST /api/config
// "lifecycle.max_time_enroute_ms").
func (s *Scheduler) SetMaxTimeEnrouteMS(ms int) {
	s.mu.Lock()
	s.cfg.MaxTimeEnrouteMS = ms
	s.mu.Unlock()
}

// SetPercentDelivered updates the Delivered-state draw weight applied to
// messages transitioning after the call ("lifecycle.percent_delivered").
func (s *Scheduler) SetPercentDelivered(pct int) {
	s.mu.Lock()
	s.cfg.PercentDelivered = pct
	s.mu.Unlock()
}

// Pending reports how many scheduled messages have not yet reached their
// transition deadline (spec §4.9 "outbound_count").
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the heap, firing each message's terminal transition at its
// deadline, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		var d time.Duration
		if len(s.heap) == 0 {
			d = time.Hour
		} else {
			d = time.Until(s.heap[0].TransitionAt)
			if d < 0 {
				d = 0
			}
		}
		s.mu.Unlock()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.drainDue()
		case <-s.wake:
			// loop around and recompute the deadline
		}
	}
}

func (s *Scheduler) drainDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].TransitionAt.After(now) {
			s.mu.Unlock()
			return
		}
		m := heap.Pop(&s.heap).(*message.Message)
		s.mu.Unlock()
		s.transition(m)
	}
}

func (s *Scheduler) transition(m *message.Message) {
	state := s.drawState(m.ShortMessage)
	m.State = state
	m.FinalTime = time.Now()
	if state == message.Delivered {
		atomic.AddUint64(&s.DeliveredTotal, 1)
	}

	if !s.receiptQualifies(m, state) {
		return
	}

	receipt := &pdu.DeliveryReceipt{
		MessageID:  m.ID,
		Sub:        1,
		Dlvrd:      boolToInt(state == message.Delivered),
		SubmitDate: m.SubmitTime,
		DoneDate:   m.FinalTime,
		Stat:       pdu.DelStat(state.String()),
		Err:        "000",
		Text:       m.ShortMessage,
	}
	deliver := &pdu.DeliverSm{
		SourceAddrTon:   0,
		SourceAddrNpi:   0,
		SourceAddr:      m.DestAddr,
		DestAddrTon:     0,
		DestAddrNpi:     0,
		DestinationAddr: m.SourceAddr,
		EsmClass:        pdu.EsmClass{Type: pdu.DelRecEsmType},
		ShortMessage:    receipt.String(),
	}
	deliver.Options = pdu.NewOptions().SetReceiptedMessageID(m.ID)

	delivered := s.reg.RouteToSystemID(m.OwningSystemID, deliver)
	if delivered == 0 {
		s.reg.HoldPending(m.OwningSystemID, deliver)
		return
	}
	atomic.AddUint64(&s.ReceiptsSentTotal, uint64(delivered))
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"message_id": m.ID,
			"system_id":  m.OwningSystemID,
			"state":      state.String(),
			"receivers":  delivered,
		}).Info("delivery receipt sent")
	}
}

// receiptQualifies implements the registered_delivery semantics: bit 0
// set requests a receipt for every terminal state, bit 1 set requests one
// only for non-Delivered ("failure") terminal states.
func (s *Scheduler) receiptQualifies(m *message.Message, state message.State) bool {
	switch {
	case m.RegisteredDelivery&pdu.YesDeliveryReceipt != 0:
		return true
	case m.RegisteredDelivery&pdu.FailDeliveryReceipt != 0:
		return state != message.Delivered
	default:
		return false
	}
}

func (s *Scheduler) drawState(shortMessage string) message.State {
	if strings.HasPrefix(shortMessage, directivePrefix) {
		rest := shortMessage[len(directivePrefix):]
		for code, st := range directiveStates {
			if strings.HasPrefix(rest, code) {
				return st
			}
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	n := s.rnd.Intn(1_000_000)
	roll := s.rnd.Intn(100)
	s.mu.Unlock()

	if n < cfg.ResidualExpiredPPM {
		return message.Expired
	}
	if n < cfg.ResidualExpiredPPM+cfg.ResidualUnknownPPM {
		return message.Unknown
	}

	switch {
	case roll < cfg.PercentDelivered:
		return message.Delivered
	case roll < cfg.PercentDelivered+cfg.PercentUndeliverable:
		return message.Undeliverable
	case roll < cfg.PercentDelivered+cfg.PercentUndeliverable+cfg.PercentAccepted:
		return message.Accepted
	default:
		return message.Rejected
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// messageHeap implements container/heap.Interface ordered by TransitionAt.
type messageHeap []*message.Message

func (h messageHeap) Len() int            { return len(h) }
func (h messageHeap) Less(i, j int) bool  { return h[i].TransitionAt.Before(h[j].TransitionAt) }
func (h messageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(*message.Message)) }
func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
