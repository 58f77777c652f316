// Package registry is the process-wide directory of bound sessions, keyed
// by session id and by system_id, used to fan out delivery receipts and
// MO injections to every matching bound receiver.
package registry

import (
	"sync"
	"time"

	"github.com/nimbusgw/smppsim/internal/accounts"
	"github.com/nimbusgw/smppsim/pdu"
)

// Session is the subset of internal/session.Session the registry needs to
// route PDUs and report snapshots. Kept as an interface (rather than
// importing the session package directly) so Session can hold a handle to
// the Registry without creating an import cycle — the Registry owns
// Sessions by id; Sessions only ever see their own id and a Registry
// handle.
type Session interface {
	ID() uint64
	SystemID() string
	BindKind() accounts.BindKind
	RemoteAddr() string
	BoundAt() time.Time
	LastActivity() time.Time
	// Enqueue attempts a non-blocking delivery into the session's
	// outbound mailbox. It returns false if the mailbox was full.
	Enqueue(p pdu.PDU) bool
	// Outstanding reports how many PDUs are currently queued in the
	// session's outbound mailbox, awaiting the write goroutine.
	Outstanding() int
}

// PendingReceiptsCapacity is the default per-account bounded FIFO size.
const PendingReceiptsCapacity = 1000

// Registry indexes live sessions and holds per-account pending receipts
// for accounts with no bound RX/TRX session at terminal time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]Session
	bySystem map[string]map[uint64]struct{}
	pending  map[string][]pdu.PDU

	pendingCapacity int

	DroppedTotal uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sessions:        make(map[uint64]Session),
		bySystem:        make(map[string]map[uint64]struct{}),
		pending:         make(map[string][]pdu.PDU),
		pendingCapacity: PendingReceiptsCapacity,
	}
}

// Insert registers a newly bound session.
func (r *Registry) Insert(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	sysID := s.SystemID()
	if sysID == "" {
		return
	}
	set, ok := r.bySystem[sysID]
	if !ok {
		set = make(map[uint64]struct{})
		r.bySystem[sysID] = set
	}
	set[s.ID()] = struct{}{}
}

// Remove unregisters a session, e.g. on socket close.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if set, ok := r.bySystem[s.SystemID()]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.bySystem, s.SystemID())
		}
	}
}

// BoundReceiverKinds are the bind kinds eligible to receive deliver_sm.
var BoundReceiverKinds = map[accounts.BindKind]bool{
	accounts.Receiver:    true,
	accounts.Transceiver: true,
}

// RouteToSystemID delivers p to every session bound as RX/TRX under
// system_id, cloning the PDU pointer to each (the PDU value is never
// mutated after construction, so sharing it across mailboxes is safe).
// It returns the number of sessions whose mailbox accepted the PDU, which
// may be less than the number of matching receivers if a mailbox was full
// (counted in DroppedTotal).
func (r *Registry) RouteToSystemID(systemID string, p pdu.PDU) (delivered int) {
	r.mu.RLock()
	set := r.bySystem[systemID]
	targets := make([]Session, 0, len(set))
	for id := range set {
		s := r.sessions[id]
		if s != nil && BoundReceiverKinds[s.BindKind()] {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if s.Enqueue(p) {
			delivered++
		} else {
			r.mu.Lock()
			r.DroppedTotal++
			r.mu.Unlock()
		}
	}
	return delivered
}

// HasBoundReceiver reports whether system_id currently has at least one
// RX/TRX session bound.
func (r *Registry) HasBoundReceiver(systemID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.bySystem[systemID] {
		if s := r.sessions[id]; s != nil && BoundReceiverKinds[s.BindKind()] {
			return true
		}
	}
	return false
}

// HoldPending appends a receipt to the account's bounded pending list,
// evicting the oldest entry on overflow.
func (r *Registry) HoldPending(systemID string, p pdu.PDU) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.pending[systemID]
	if len(q) >= r.pendingCapacity {
		q = q[1:]
	}
	r.pending[systemID] = append(q, p)
}

// FlushPending removes and returns all pending receipts held for
// system_id, to be delivered right after a bind completes.
func (r *Registry) FlushPending(systemID string) []pdu.PDU {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.pending[systemID]
	delete(r.pending, systemID)
	return q
}

// SessionSnapshot is a point-in-time read-only view of one session,
// shaped for GET /api/sessions.
type SessionSnapshot struct {
	SessionID    uint64
	SystemID     string
	BindKind     string
	RemoteAddr   string
	AgeSeconds   float64
	LastActivity float64
}

// Snapshot returns a stable listing of every currently registered
// session.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	out := make([]SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionSnapshot{
			SessionID:    s.ID(),
			SystemID:     s.SystemID(),
			BindKind:     s.BindKind().String(),
			RemoteAddr:   s.RemoteAddr(),
			AgeSeconds:   now.Sub(s.BoundAt()).Seconds(),
			LastActivity: now.Sub(s.LastActivity()).Seconds(),
		})
	}
	return out
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OutboundPending reports the total number of PDUs currently waiting to
// be written: every session's mailbox depth plus every held receipt
// queued for an account with no bound receiver (spec §6 "outbound_pending").
func (r *Registry) OutboundPending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, s := range r.sessions {
		total += s.Outstanding()
	}
	for _, q := range r.pending {
		total += len(q)
	}
	return total
}
