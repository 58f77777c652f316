// Package session implements the per-connection SMPP state machine: bind
// handshake, submit_sm acceptance, deliver_sm fan-out, idle keepalive, and
// graceful unbind.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbusgw/smppsim/internal/accounts"
	"github.com/nimbusgw/smppsim/internal/lifecycle"
	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/pdu"
)

// State is a session's position in the SMSC-only bind state machine
// (spec §4.3). This simulator never plays the ESME role, so unlike the
// bidirectional state machine PDU libraries typically model, there is a
// single table here: Open, Bound(TX|RX|TRX), Unbinding, Closed.
type State int

// Session states.
const (
	Open State = iota
	BoundTx
	BoundRx
	BoundTRx
	Unbinding
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case BoundTx:
		return "bound_tx"
	case BoundRx:
		return "bound_rx"
	case BoundTRx:
		return "bound_trx"
	case Unbinding:
		return "unbinding"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func bindKindState(k accounts.BindKind) State {
	switch k {
	case accounts.Transmitter:
		return BoundTx
	case accounts.Receiver:
		return BoundRx
	case accounts.Transceiver:
		return BoundTRx
	}
	return Open
}

func stateBindKind(s State) accounts.BindKind {
	switch s {
	case BoundTx:
		return accounts.Transmitter
	case BoundRx:
		return accounts.Receiver
	case BoundTRx:
		return accounts.Transceiver
	}
	return -1
}

// Config bundles the tunables a Session needs from its owning listener.
type Config struct {
	MailboxCapacity int
	IdleSoft        time.Duration
	IdleHard        time.Duration
	ShutdownDrain   time.Duration
}

// DefaultConfig matches spec §5's defaults.
func DefaultConfig() Config {
	return Config{
		MailboxCapacity: 1024,
		IdleSoft:        30 * time.Second,
		IdleHard:        90 * time.Second,
		ShutdownDrain:   5 * time.Second,
	}
}

type frame struct {
	header pdu.Header
	pdu    pdu.PDU
	err    error
}

// Session is one bound (or binding) TCP connection.
type Session struct {
	id     uint64
	conn   io.ReadWriteCloser
	remote string
	enc    *pdu.Encoder
	dec    *pdu.Decoder

	accounts *accounts.Store
	reg      *registry.Registry
	sched    *lifecycle.Scheduler
	inbound  *message.Queue
	idAlloc  *message.IDAllocator
	cfg      Config
	log      *logrus.Entry

	mailbox chan pdu.PDU

	mu           sync.Mutex
	state        State
	systemID     string
	boundAt      time.Time
	lastActivity time.Time

	closeOnce sync.Once
	done      chan struct{}

	DroppedTotal uint64
}

// Deps are the shared collaborators every Session is wired to.
type Deps struct {
	Accounts  *accounts.Store
	Registry  *registry.Registry
	Scheduler *lifecycle.Scheduler
	Inbound   *message.Queue
	IDAlloc   *message.IDAllocator
	Log       *logrus.Entry
}

// New constructs a Session around an already-accepted connection. Call
// Serve to run it; Serve blocks until the session closes.
func New(id uint64, conn io.ReadWriteCloser, remoteAddr string, cfg Config, deps Deps) *Session {
	now := time.Now()
	return &Session{
		id:       id,
		conn:     conn,
		remote:   remoteAddr,
		enc:      pdu.NewEncoder(conn, pdu.NewSequencer(1)),
		dec:      pdu.NewDecoder(conn),
		accounts: deps.Accounts,
		reg:      deps.Registry,
		sched:    deps.Scheduler,
		inbound:  deps.Inbound,
		idAlloc:  deps.IDAlloc,
		cfg:      cfg,
		log:      deps.Log.WithField("session_id", id),
		mailbox:  make(chan pdu.PDU, cfg.MailboxCapacity),
		state:    Open,
		boundAt:  now,
		lastActivity: now,
		done:     make(chan struct{}),
	}
}

// ID implements registry.Session.
func (s *Session) ID() uint64 { return s.id }

// SystemID implements registry.Session.
func (s *Session) SystemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemID
}

// BindKind implements registry.Session.
func (s *Session) BindKind() accounts.BindKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateBindKind(s.state)
}

// RemoteAddr implements registry.Session.
func (s *Session) RemoteAddr() string { return s.remote }

// BoundAt implements registry.Session.
func (s *Session) BoundAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAt
}

// LastActivity implements registry.Session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Enqueue implements registry.Session: a non-blocking try-send into the
// outbound mailbox. Mailbox overflow drops the PDU and is counted, never
// blocks the caller (spec §5, §7).
func (s *Session) Enqueue(p pdu.PDU) bool {
	select {
	case s.mailbox <- p:
		return true
	default:
		s.mu.Lock()
		s.DroppedTotal++
		s.mu.Unlock()
		return false
	}
}

// Outstanding implements registry.Session: the number of PDUs currently
// queued in the outbound mailbox.
func (s *Session) Outstanding() int {
	return len(s.mailbox)
}

// NotifyClosed returns a channel closed once the session has fully torn
// down.
func (s *Session) NotifyClosed() <-chan struct{} {
	return s.done
}

// Serve runs the session until the connection closes, a fatal protocol
// error occurs, or ctx is cancelled for shutdown. It registers the
// session with the Registry once bound and always removes it on exit.
func (s *Session) Serve(ctx context.Context) {
	defer s.teardown()

	frames := make(chan frame, 1)
	go s.readLoop(frames)

	idleTimer := time.NewTimer(s.cfg.IdleSoft)
	defer idleTimer.Stop()
	missedEnquire := 0

	for {
		select {
		case <-ctx.Done():
			s.beginUnbind()
			_, _ = s.enc.Encode(&pdu.Unbind{})
			s.drainAndClose(s.cfg.ShutdownDrain)
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			s.touch()
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(s.cfg.IdleSoft)
			missedEnquire = 0
			if s.handleFrame(f) {
				return
			}

		case p, ok := <-s.mailbox:
			if !ok {
				return
			}
			if _, err := s.enc.Encode(p); err != nil {
				s.log.WithError(err).Warn("writing outbound pdu")
				return
			}

		case <-idleTimer.C:
			missedEnquire++
			if missedEnquire > 3 || time.Since(s.lastActivityLocked()) > s.cfg.IdleHard {
				s.log.Info("idle timeout, closing session")
				return
			}
			if _, err := s.enc.Encode(&pdu.EnquireLink{}); err != nil {
				s.log.WithError(err).Warn("sending idle enquire_link")
				return
			}
			idleTimer.Reset(s.cfg.IdleSoft)
		}
	}
}

func (s *Session) lastActivityLocked() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) readLoop(out chan<- frame) {
	defer close(out)
	for {
		h, p, err := s.dec.Decode()
		out <- frame{header: h, pdu: p, err: err}
		if err != nil {
			return
		}
	}
}

// handleFrame processes one decoded frame and returns true if the session
// must now close.
func (s *Session) handleFrame(f frame) bool {
	if f.err != nil {
		return s.handleDecodeError(f)
	}

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	switch p := f.pdu.(type) {
	case *pdu.BindTx:
		return s.handleBind(f.header, accounts.Transmitter, p.SystemID, p.Password)
	case *pdu.BindRx:
		return s.handleBind(f.header, accounts.Receiver, p.SystemID, p.Password)
	case *pdu.BindTRx:
		return s.handleBind(f.header, accounts.Transceiver, p.SystemID, p.Password)
	case *pdu.EnquireLink:
		if st == Open {
			s.reply(f.header.Sequence(), &pdu.GenericNack{}, pdu.StatusInvBnd)
			return true
		}
		s.reply(f.header.Sequence(), &pdu.EnquireLinkResp{}, pdu.StatusOK)
		return false
	case *pdu.Unbind:
		if st == Open {
			s.reply(f.header.Sequence(), &pdu.GenericNack{}, pdu.StatusInvBnd)
			return true
		}
		s.reply(f.header.Sequence(), &pdu.UnbindResp{}, pdu.StatusOK)
		s.beginUnbind()
		s.drainAndClose(s.cfg.ShutdownDrain)
		return true
	case *pdu.SubmitSm:
		if st == Open {
			s.reply(f.header.Sequence(), &pdu.GenericNack{}, pdu.StatusInvBnd)
			return true
		}
		return s.handleSubmitSm(f.header, st, p)
	case *pdu.DeliverSmResp:
		return false
	default:
		if st == Open {
			s.reply(f.header.Sequence(), &pdu.GenericNack{}, pdu.StatusInvBnd)
			return true
		}
		s.reply(f.header.Sequence(), &pdu.GenericNack{}, pdu.StatusInvCmdID)
		return false
	}
}

func (s *Session) handleDecodeError(f frame) bool {
	if f.err == io.EOF {
		s.log.Info("connection closed by peer")
		return true
	}
	s.log.WithError(f.err).Warn("decode error, closing session")
	status := pdu.StatusSysErr
	opts := []pdu.EncoderOption{}
	if f.header != nil {
		if errors.Is(f.err, pdu.ErrUnsupportedCommand) {
			status = pdu.StatusInvCmdID
		} else if f.pdu == nil {
			status = pdu.StatusInvMsgLen
		}
		opts = append(opts, pdu.EncodeSeq(f.header.Sequence()))
	}
	// Best-effort nack; the stream may already be desynced so errors here
	// are not actionable.
	_, _ = s.enc.Encode(&pdu.GenericNack{}, append(opts, pdu.EncodeStatus(status))...)
	return true
}

func (s *Session) handleBind(h pdu.Header, kind accounts.BindKind, systemID, password string) bool {
	s.mu.Lock()
	open := s.state == Open
	s.mu.Unlock()
	if !open {
		s.reply(h.Sequence(), &pdu.GenericNack{}, pdu.StatusAlyBnd)
		return true
	}

	if err := s.accounts.Authenticate(systemID, password, kind); err != nil {
		s.bindResp(h, kind, pdu.StatusBindFail)
		s.log.WithField("system_id", systemID).WithError(err).Warn("bind failed")
		return true
	}

	s.mu.Lock()
	s.state = bindKindState(kind)
	s.systemID = systemID
	s.boundAt = time.Now()
	s.mu.Unlock()

	s.bindResp(h, kind, pdu.StatusOK)
	s.reg.Insert(s)
	s.log.WithFields(logrus.Fields{"system_id": systemID, "kind": kind.String()}).Info("session bound")

	for _, pending := range s.reg.FlushPending(systemID) {
		s.Enqueue(pending)
	}
	return false
}

func (s *Session) bindResp(h pdu.Header, kind accounts.BindKind, status pdu.Status) {
	switch kind {
	case accounts.Transmitter:
		s.reply(h.Sequence(), &pdu.BindTxResp{SystemID: s.serverSystemID()}, status)
	case accounts.Receiver:
		s.reply(h.Sequence(), &pdu.BindRxResp{SystemID: s.serverSystemID()}, status)
	case accounts.Transceiver:
		s.reply(h.Sequence(), &pdu.BindTRxResp{SystemID: s.serverSystemID()}, status)
	}
}

func (s *Session) serverSystemID() string {
	return "smppsimd"
}

func (s *Session) handleSubmitSm(h pdu.Header, st State, p *pdu.SubmitSm) bool {
	if st != BoundTx && st != BoundTRx {
		s.reply(h.Sequence(), &pdu.SubmitSmResp{}, pdu.StatusInvBnd)
		return false
	}

	shortMessage := p.ShortMessage
	if p.Options != nil {
		if payload := p.Options.MessagePayload(); payload != "" {
			shortMessage = payload
		}
	}

	id := s.idAlloc.Next()
	m := &message.Message{
		ID:                 id,
		SourceAddr:         p.SourceAddr,
		DestAddr:           p.DestinationAddr,
		ShortMessage:       shortMessage,
		SubmitTime:         time.Now(),
		State:              message.Enroute,
		RegisteredDelivery: p.RegisteredDelivery.Receipt,
		OwningSystemID:     s.SystemID(),
	}
	s.inbound.Push(m)
	s.sched.Schedule(m)

	s.reply(h.Sequence(), &pdu.SubmitSmResp{MessageID: id}, pdu.StatusOK)
	return false
}

func (s *Session) reply(seq uint32, p pdu.PDU, status pdu.Status) {
	if _, err := s.enc.Encode(p, pdu.EncodeSeq(seq), pdu.EncodeStatus(status)); err != nil {
		s.log.WithError(err).Warn("writing reply pdu")
	}
}

func (s *Session) beginUnbind() {
	s.mu.Lock()
	if s.state != Closed {
		s.state = Unbinding
	}
	s.mu.Unlock()
}

// drainAndClose flushes whatever is already in the mailbox, stopping at
// deadline. It does not close the socket; teardown does that once Serve
// returns.
func (s *Session) drainAndClose(deadline time.Duration) {
	cutoff := time.After(deadline)
drain:
	for {
		select {
		case p, ok := <-s.mailbox:
			if !ok {
				break drain
			}
			_, _ = s.enc.Encode(p)
		case <-cutoff:
			break drain
		default:
			break drain
		}
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	s.reg.Remove(s.id)
	_ = s.conn.Close()
	s.closeOnce.Do(func() { close(s.done) })
}

var _ fmt.Stringer = State(0)
