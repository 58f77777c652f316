// Package smppd is the TCP accept loop for the SMPP simulator: one
// Session per accepted connection, a soft cap on concurrent sessions,
// and a graceful shutdown that broadcasts Unbind before closing.
package smppd

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusgw/smppsim/internal/session"
	"github.com/nimbusgw/smppsim/pdu"
)

// Config is the environment-driven tunable surface for the listener
// (spec §6: SMPP_PORT).
type Config struct {
	Port        int `env:"SMPP_PORT" envDefault:"2775"`
	MaxSessions int `env:"SMPP_MAX_SESSIONS" envDefault:"1024"`
}

// tcpKeepAliveListener enables TCP keepalives on every accepted
// connection so dead peers eventually get noticed.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Listener accepts SMPP connections and spins up a Session per
// connection, up to Config.MaxSessions concurrently (spec §4.8).
type Listener struct {
	cfg  Config
	deps session.Deps

	sessCfg session.Config

	mu     sync.Mutex
	active map[*session.Session]struct{}
	nextID uint64
	addr   net.Addr
	ready  chan struct{}

	RejectedTotal uint64
}

// New creates a Listener. sessCfg is used as the template for every
// accepted Session.
func New(cfg Config, sessCfg session.Config, deps session.Deps) *Listener {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1024
	}
	return &Listener{
		cfg:     cfg,
		deps:    deps,
		sessCfg: sessCfg,
		active:  make(map[*session.Session]struct{}),
		ready:   make(chan struct{}),
	}
}

// Serve binds the configured port and accepts connections until ctx is
// cancelled. It blocks until the listener is closed or a fatal accept
// error occurs, matching a Listener bind failure terminating the process
// (spec §7, "Fatal").
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(l.cfg.Port)))
	if err != nil {
		return err
	}
	kaLn := tcpKeepAliveListener{ln.(*net.TCPListener)}
	l.mu.Lock()
	l.addr = ln.Addr()
	l.mu.Unlock()
	close(l.ready)

	go func() {
		<-ctx.Done()
		_ = kaLn.Close()
	}()

	var wg sync.WaitGroup
	var tempDelay time.Duration
	for {
		conn, err := kaLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				time.Sleep(tempDelay)
				continue
			}
			wg.Wait()
			return err
		}
		tempDelay = 0

		if l.Count() >= l.cfg.MaxSessions {
			l.rejectOverCap(conn)
			continue
		}

		id := atomic.AddUint64(&l.nextID, 1)
		sess := session.New(id, conn, conn.RemoteAddr().String(), l.sessCfg, l.deps)
		l.track(sess, true)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Serve(ctx)
			l.track(sess, false)
		}()
	}
}

func (l *Listener) rejectOverCap(conn net.Conn) {
	atomic.AddUint64(&l.RejectedTotal, 1)
	enc := pdu.NewEncoder(conn, pdu.NewSequencer(1))
	_, _ = enc.Encode(&pdu.GenericNack{}, pdu.EncodeStatus(pdu.StatusThrottled))
	_ = conn.Close()
}

func (l *Listener) track(s *session.Session, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.active[s] = struct{}{}
	} else {
		delete(l.active, s)
	}
}

// Count returns the number of currently active sessions.
func (l *Listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Addr blocks until Serve has bound its socket, then returns its address.
// Used by tests that bind to an ephemeral port (Config.Port == 0).
func (l *Listener) Addr() net.Addr {
	<-l.ready
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

