package pdu

import (
	"encoding/binary"
	"fmt"
)

// Options maps SMPP optional (TLV) parameters and provides a small,
// typed API for the ones this simulator actually produces or consumes:
// message_payload (for short messages over 254 bytes),
// receipted_message_id (set on every delivery receipt the lifecycle
// scheduler builds) and message_state (helpers only; the simulator does
// not set it).
type Options struct {
	fields map[TagID][]byte
}

// NewOptions creates a new, empty options map.
func NewOptions() *Options {
	return &Options{
		fields: make(map[TagID][]byte),
	}
}

// Set assigns a raw TLV field.
func (o *Options) Set(tag TagID, val []byte) *Options {
	o.fields[tag] = val
	return o
}

// SetSingle assigns a one-byte TLV field.
func (o *Options) SetSingle(tag TagID, val int) *Options {
	o.fields[tag] = []byte{byte(val)}
	return o
}

// SetString assigns a raw (non null-terminated) string TLV field.
func (o *Options) SetString(tag TagID, val string) *Options {
	o.fields[tag] = []byte(val)
	return o
}

// SetCString assigns a null-terminated string TLV field.
func (o *Options) SetCString(tag TagID, val string) *Options {
	o.fields[tag] = append([]byte(val), 0)
	return o
}

// Get returns the raw bytes of a TLV field if present.
func (o *Options) Get(tag TagID) ([]byte, bool) {
	val, ok := o.fields[tag]
	return val, ok
}

// GetSingle returns a TLV field as a one-byte integer.
func (o *Options) GetSingle(tag TagID) (int, bool) {
	val, ok := o.fields[tag]
	if !ok || len(val) == 0 {
		return 0, false
	}
	return int(val[0]), true
}

// GetString returns a TLV field as a raw string.
func (o *Options) GetString(tag TagID) (string, bool) {
	b, ok := o.fields[tag]
	if !ok {
		return "", false
	}
	return string(b), true
}

// GetCString returns a TLV field as a null-terminated string.
func (o *Options) GetCString(tag TagID) (string, bool) {
	b, ok := o.fields[tag]
	if !ok || len(b) == 0 {
		return "", false
	}
	return string(b[:len(b)-1]), true
}

// MessagePayload is a helper for the message_payload TLV, used when
// short_message doesn't fit in the 254-byte mandatory field.
func (o *Options) MessagePayload() string {
	val, _ := o.GetString(TagMessagePayload)
	return val
}

// SetMessagePayload sets the message_payload TLV.
func (o *Options) SetMessagePayload(val string) *Options {
	return o.SetString(TagMessagePayload, val)
}

// ReceiptedMessageID is a helper for the receipted_message_id TLV.
func (o *Options) ReceiptedMessageID() string {
	val, _ := o.GetCString(TagReceiptedMessageID)
	return val
}

// SetReceiptedMessageID sets the receipted_message_id TLV.
func (o *Options) SetReceiptedMessageID(val string) *Options {
	return o.SetCString(TagReceiptedMessageID, val)
}

// MessageState is a helper for the message_state TLV.
func (o *Options) MessageState() int {
	val, _ := o.GetSingle(TagMessageState)
	return val
}

// SetMessageState sets the message_state TLV.
func (o *Options) SetMessageState(val int) *Options {
	return o.SetSingle(TagMessageState, val)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (o *Options) MarshalBinary() ([]byte, error) {
	var out []byte
	for tag, val := range o.fields {
		tlv := make([]byte, 4+len(val))
		binary.BigEndian.PutUint16(tlv[:2], uint16(tag))
		binary.BigEndian.PutUint16(tlv[2:4], uint16(len(val)))
		copy(tlv[4:], val)
		out = append(out, tlv...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (o *Options) UnmarshalBinary(buf []byte) error {
	n := 0
	for n < len(buf) {
		if len(buf)-n <= 4 {
			return fmt.Errorf("smpp/pdu: invalid optional body length")
		}
		tag := TagID(binary.BigEndian.Uint16(buf[n : n+2]))
		l := int(binary.BigEndian.Uint16(buf[n+2 : n+4]))
		if n+4+l > len(buf) {
			return fmt.Errorf("smpp/pdu: invalid optional field length (tag=0x%04x len=%d)", uint16(tag), l)
		}
		o.fields[tag] = buf[n+4 : n+4+l]
		n += 4 + l
	}
	return nil
}
