package accounts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nimbusgw/smppsim/internal/accounts"
)

func TestAuthenticate(t *testing.T) {
	store := accounts.NewStore([]accounts.Account{
		{SystemID: "alice", Password: "secret"},
		{SystemID: "bob", Password: "secret", AllowedBindKinds: []accounts.BindKind{accounts.Receiver}},
	})

	tt := []struct {
		name     string
		systemID string
		password string
		kind     accounts.BindKind
		wantErr  error
	}{
		{"unknown system_id", "carol", "secret", accounts.Transceiver, accounts.ErrUnknownSystemID},
		{"bad password", "alice", "wrong", accounts.Transceiver, accounts.ErrBadPassword},
		{"any kind allowed", "alice", "secret", accounts.Transmitter, nil},
		{"restricted kind allowed", "bob", "secret", accounts.Receiver, nil},
		{"restricted kind denied", "bob", "secret", accounts.Transceiver, accounts.ErrBindKindNotAllowed},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Authenticate(tc.systemID, tc.password, tc.kind)
			assert.Equal(t, tc.wantErr, err)
		})
	}
}

func TestBindKindString(t *testing.T) {
	assert.Equal(t, "TX", accounts.Transmitter.String())
	assert.Equal(t, "RX", accounts.Receiver.String())
	assert.Equal(t, "TRX", accounts.Transceiver.String())
	assert.Equal(t, "UNKNOWN", accounts.BindKind(99).String())
}
