package session_test

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
	"github.com/nimbusgw/smppsim/pdu"
)

func testDeps(t *testing.T) (session.Deps, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	deps := session.Deps{
		Accounts: accounts.NewStore([]accounts.Account{
			{SystemID: "client1", Password: "secret"},
		}),
		Registry:  reg,
		Scheduler: lifecycle.New(lifecycle.Config{MaxTimeEnrouteMS: 10_000}, reg, nil),
		Inbound:   message.NewQueue(100),
		IDAlloc:   message.NewIDAllocator(1),
		Log:       log.WithField("test", true),
	}
	return deps, reg
}

func newTestSession(t *testing.T, deps session.Deps) (*session.Session, net.Conn, context.CancelFunc) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := session.Config{MailboxCapacity: 16, IdleSoft: time.Hour, IdleHard: 2 * time.Hour, ShutdownDrain: time.Second}
	sess := session.New(1, serverConn, "127.0.0.1:1", cfg, deps)
	go sess.Serve(ctx)
	return sess, clientConn, cancel
}

func TestBindTransceiverSuccess(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)

	h, p, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.StatusOK, h.Status())
	resp, ok := p.(*pdu.BindTRxResp)
	require.True(t, ok)
	assert.NotEmpty(t, resp.SystemID)
}

func TestBindWrongPasswordClosesSession(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "wrong"})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.StatusBindFail, h.Status())

	_, _, err = dec.Decode()
	assert.Error(t, err, "server should close the connection after a failed bind")
}

func TestSubmitSmBeforeBindRejected(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.SubmitSm{SourceAddr: "1", DestinationAddr: "2", ShortMessage: "hi"})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.StatusInvBnd, h.Status())
}

func TestSubmitSmAfterBindAllocatesMessageID(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.BindTx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)
	_, _, err = dec.Decode()
	require.NoError(t, err)

	_, err = enc.Encode(&pdu.SubmitSm{SourceAddr: "1", DestinationAddr: "2", ShortMessage: "hi"})
	require.NoError(t, err)

	h, p, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.StatusOK, h.Status())
	resp, ok := p.(*pdu.SubmitSmResp)
	require.True(t, ok)
	assert.NotEmpty(t, resp.MessageID)
}

func TestEnquireLinkReplied(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)
	_, _, err = dec.Decode()
	require.NoError(t, err)

	_, err = enc.Encode(&pdu.EnquireLink{})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.EnquireLinkRespID, h.CommandID())
	assert.Equal(t, pdu.StatusOK, h.Status())
}

func TestUnbindClosesSession(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.BindTRx{SystemID: "client1", Password: "secret"})
	require.NoError(t, err)
	_, _, err = dec.Decode()
	require.NoError(t, err)

	_, err = enc.Encode(&pdu.Unbind{})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.UnbindRespID, h.CommandID())
	assert.Equal(t, pdu.StatusOK, h.Status())

	_, _, err = dec.Decode()
	assert.Error(t, err, "server should close the connection after unbind")
}

func TestEnquireLinkBeforeBindRejected(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.EnquireLink{})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.GenericNackID, h.CommandID())
	assert.Equal(t, pdu.StatusInvBnd, h.Status())
}

func TestUnbindBeforeBindRejected(t *testing.T) {
	deps, _ := testDeps(t)
	_, client, cancel := newTestSession(t, deps)
	defer cancel()

	enc := pdu.NewEncoder(client, pdu.NewSequencer(1))
	dec := pdu.NewDecoder(client)

	_, err := enc.Encode(&pdu.Unbind{})
	require.NoError(t, err)

	h, _, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, pdu.GenericNackID, h.CommandID())
	assert.Equal(t, pdu.StatusInvBnd, h.Status())
}
