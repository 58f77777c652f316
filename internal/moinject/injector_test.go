package moinject_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nimbusgw/smppsim/internal/accounts"
	"github.com/nimbusgw/smppsim/internal/moinject"
	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/pdu"
)

type fakeSession struct {
	systemID string
	kind     accounts.BindKind
	received chan pdu.PDU
}

func (f *fakeSession) ID() uint64                 { return 1 }
func (f *fakeSession) SystemID() string           { return f.systemID }
func (f *fakeSession) BindKind() accounts.BindKind { return f.kind }
func (f *fakeSession) RemoteAddr() string         { return "127.0.0.1:1" }
func (f *fakeSession) BoundAt() time.Time         { return time.Now() }
func (f *fakeSession) LastActivity() time.Time    { return time.Now() }
func (f *fakeSession) Enqueue(p pdu.PDU) bool {
	f.received <- p
	return true
}
func (f *fakeSession) Outstanding() int { return len(f.received) }

func TestInjectOnDemandDeliversToBoundReceiver(t *testing.T) {
	reg := registry.New()
	sess := &fakeSession{systemID: "acct", kind: accounts.Receiver, received: make(chan pdu.PDU, 1)}
	reg.Insert(sess)

	inj := moinject.New(moinject.Config{IntervalMS: 100000}, nil, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inj.Run(ctx)

	err := inj.InjectOnDemand(moinject.Record{
		SourceAddr: "1111", DestAddr: "2222",
		ShortMessage: "hello", TargetSystemID: "acct",
	})
	assert.NoError(t, err)

	select {
	case p := <-sess.received:
		deliver, ok := p.(*pdu.DeliverSm)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, "hello", deliver.ShortMessage)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for injected MO")
	}
}

func TestInjectOnDemandRejectsMissingTarget(t *testing.T) {
	inj := moinject.New(moinject.Config{}, nil, registry.New(), nil)
	err := inj.InjectOnDemand(moinject.Record{ShortMessage: "no target"})
	assert.ErrorIs(t, err, moinject.ErrNoTarget)
}

func TestDropsWhenNoBoundReceiver(t *testing.T) {
	reg := registry.New()
	inj := moinject.New(moinject.Config{IntervalMS: 100000}, nil, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inj.Run(ctx)

	_ = inj.InjectOnDemand(moinject.Record{TargetSystemID: "ghost", ShortMessage: "x"})

	assert.Eventually(t, func() bool {
		return inj.DroppedTotal == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPeriodicSourceWrapsAround(t *testing.T) {
	reg := registry.New()
	sess := &fakeSession{systemID: "acct", kind: accounts.Transceiver, received: make(chan pdu.PDU, 4)}
	reg.Insert(sess)

	source := []moinject.Record{
		{TargetSystemID: "acct", ShortMessage: "a"},
		{TargetSystemID: "acct", ShortMessage: "b"},
	}
	inj := moinject.New(moinject.Config{IntervalMS: 20}, source, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inj.Run(ctx)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case p := <-sess.received:
			seen[p.(*pdu.DeliverSm).ShortMessage] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for periodic injection")
		}
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}
