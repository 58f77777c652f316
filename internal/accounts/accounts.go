// Package accounts holds the authoritative credential set consulted by a
// Session on bind.
package accounts

import (
	"errors"
)

// BindKind identifies which role a bind requests.
type BindKind int

// Bind kinds an Account may be permitted to use.
const (
	Transmitter BindKind = iota
	Receiver
	Transceiver
)

func (k BindKind) String() string {
	switch k {
	case Transmitter:
		return "TX"
	case Receiver:
		return "RX"
	case Transceiver:
		return "TRX"
	default:
		return "UNKNOWN"
	}
}

// Account is a credential set allowed to bind, keyed by system_id.
type Account struct {
	SystemID         string
	Password         string
	AllowedBindKinds []BindKind
}

func (a Account) allows(kind BindKind) bool {
	if len(a.AllowedBindKinds) == 0 {
		return true
	}
	for _, k := range a.AllowedBindKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ErrUnknownSystemID is returned when no account matches the requested system_id.
var ErrUnknownSystemID = errors.New("accounts: unknown system_id")

// ErrBadPassword is returned when the password doesn't match the account.
var ErrBadPassword = errors.New("accounts: password mismatch")

// ErrBindKindNotAllowed is returned when the account isn't permitted the
// requested bind kind.
var ErrBindKindNotAllowed = errors.New("accounts: bind kind not allowed")

// Store is the process-wide, read-only (after construction) account table.
type Store struct {
	bySystemID map[string]Account
}

// NewStore builds a Store from a slice of accounts. Later entries with a
// duplicate system_id overwrite earlier ones.
func NewStore(accts []Account) *Store {
	s := &Store{bySystemID: make(map[string]Account, len(accts))}
	for _, a := range accts {
		s.bySystemID[a.SystemID] = a
	}
	return s
}

// Authenticate validates system_id/password/bind kind against the stored
// account, returning the specific rejection reason on failure.
func (s *Store) Authenticate(systemID, password string, kind BindKind) error {
	a, ok := s.bySystemID[systemID]
	if !ok {
		return ErrUnknownSystemID
	}
	if a.Password != password {
		return ErrBadPassword
	}
	if !a.allows(kind) {
		return ErrBindKindNotAllowed
	}
	return nil
}
