package smppd_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusgw/smppsim/internal/accounts"
	"github.com/nimbusgw/smppsim/internal/lifecycle"
	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/internal/session"
	"github.com/nimbusgw/smppsim/internal/smppd"
	"github.com/nimbusgw/smppsim/pdu"
)

func testDeps() session.Deps {
	reg := registry.New()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return session.Deps{
		Accounts: accounts.NewStore([]accounts.Account{
			{SystemID: "client1", Password: "secret"},
		}),
		Registry:  reg,
		Scheduler: lifecycle.New(lifecycle.Config{MaxTimeEnrouteMS: 10_000}, reg, nil),
		Inbound:   message.NewQueue(100),
		IDAlloc:   message.NewIDAllocator(1),
		Log:       log.WithField("test", true),
	}
}

func TestListenerAcceptsAndBinds(t *testing.T) {
	l := smppd.New(smppd.Config{Port: 0, MaxSessions: 4}, session.DefaultConfig(), testDeps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	addr := l.Addr()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	enc := pdu.NewEncoder(conn, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(conn)

	_, err = enc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.StatusOK, h.Status())
}

func TestListenerRejectsOverCap(t *testing.T) {
	l := smppd.New(smppd.Config{Port: 0, MaxSessions: 1}, session.DefaultConfig(), testDeps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	addr := l.Addr()

	first, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer first.Close()
	firstEnc := pdu.NewEncoder(first, pdu.NewSequencer(1))
	_, err = firstEnc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)
	_, _, err = pdu.NewDecoder(first).Decode()
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return l.Count() == 1 }, time.Second, 10*time.Millisecond)

	second, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer second.Close()

	h, _, err := pdu.NewDecoder(second).Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.GenericNackID, h.CommandID())
	assert.Equal(t, pdu.StatusThrottled, h.Status())
}
