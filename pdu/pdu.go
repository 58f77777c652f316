package pdu

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	smpptime "github.com/nimbusgw/smppsim/smpptime"
)

// PDU defines interface for PDU structures
type PDU interface {
	CommandID() CommandID
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// EsmClass is used to indicate special message attributes associated with the short message.
type EsmClass struct {
	Mode    int
	Type    int
	Feature int
}

// Byte converts EsmClass into a single byte for pdu encoding.
func (ec EsmClass) Byte() byte {
	out := byte(0)
	out |= byte(ec.Mode)
	out |= byte(ec.Type) << 2
	out |= byte(ec.Feature) << 6
	return out
}

// ParseEsmClass parses esm class from pdu.
func ParseEsmClass(b byte) EsmClass {
	out := EsmClass{}
	out.Mode = int(b & 0x03)
	out.Type = int((b >> 2) & 0x0F)
	out.Feature = int(b >> 6)
	return out
}

const (
	DefaultEsmMode         = 0x0
	DatagramEsmMode        = 0x1
	ForwardEsmMode         = 0x2
	StoreAndForwardEsmMode = 0x3
	NotApplicableEsmMode   = 0x7
)

const (
	DefaultEsmType = 0x0
	DelRecEsmType  = 0x1
	DelAckEsmType  = 0x2
	UsrAckEsmType  = 0x4
	ConAbtEsmType  = 0x6
	IDNEsmType     = 0x8
)

const (
	NoEsmFeat          = 0x0
	UDHIEsmFeat        = 0x1
	RepPathEsmFeat     = 0x2
	UDHIRepPathEsmFeat = 0x3
)

// RegisteredDelivery is used to request an SMSC delivery receipt and/or SME
// originated acknowledgements.
type RegisteredDelivery struct {
	Receipt           int
	SMEAck            int
	InterNotification int
}

// Byte converts RegisteredDelivery into a single byte for pdu encoding.
func (rd RegisteredDelivery) Byte() byte {
	out := byte(0)
	out |= byte(rd.Receipt)
	out |= byte(rd.SMEAck) << 2
	out |= byte(rd.InterNotification) << 4
	return out
}

// ParseRegisteredDelivery parses registered_delivery from pdu.
func ParseRegisteredDelivery(b byte) RegisteredDelivery {
	out := RegisteredDelivery{}
	out.Receipt = int(b & 0x03)
	out.SMEAck = int((b >> 2) & 0x0F)
	out.InterNotification = int((b >> 4) & 0x01)
	return out
}

const (
	NoDeliveryReceipt   = 0x0
	YesDeliveryReceipt  = 0x1
	FailDeliveryReceipt = 0x2
)

const (
	NoSMEAck     = 0x0
	YesSMEAck    = 0x1
	ManualSMEAck = 0x2
	AllSMEAck    = 0x3
)

const (
	NoInterNotification  = 0x0
	YesInterNotification = 0x1
)

func writeTime(layout smpptime.Layout, t time.Time) ([]byte, error) {
	var schedDel []byte
	if !t.IsZero() {
		out, err := smpptime.Format(layout, t)
		if err != nil {
			return nil, err
		}
		schedDel = []byte(out)
	}
	return append(schedDel, 0), nil
}

type pduReader struct {
	*bytes.Buffer
}

func newBuffer(buf []byte) *pduReader {
	return &pduReader{
		Buffer: bytes.NewBuffer(buf),
	}
}

func (r *pduReader) ReadCString(limit int) ([]byte, error) {
	var out []byte
	i := 0
	for {
		i++
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0x0 {
			return out, nil
		}
		if i == limit {
			return nil, errors.New("invalid c string length")
		}
		out = append(out, b)
	}
}

func (r *pduReader) ReadString(limit int) ([]byte, error) {
	l, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(l) > limit {
		return nil, errors.New("invalid string length")
	}
	out := make([]byte, l)
	n, err := r.Read(out)
	if err != nil {
		return nil, err
	}
	if n != int(l) {
		return nil, errors.New("read count missmatch")
	}
	return out, nil
}

func cStringOptsRespUnmarshal(body []byte) (string, *Options, error) {
	n := -1
	for i := 0; i < len(body); i++ {
		if body[i] == 0 {
			n = i + 1
			break
		}
	}
	if n < 0 {
		return "", nil, errors.New("smpp/pdu: c string is not terminated")
	}
	var opts *Options
	if len(body[n:]) > 0 {
		opts = NewOptions()
		if err := opts.UnmarshalBinary(body[n:]); err != nil {
			return "", nil, err
		}
	}
	return string(body[:n-1]), opts, nil
}

func cStringOptsRespMarshal(str string, opts *Options) ([]byte, error) {
	out := append([]byte(str), 0)
	if opts == nil {
		return out, nil
	}
	o, err := opts.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(out, o...), nil
}

// Sequencer provides way of altering default PDU sequencing.
type Sequencer interface {
	Next() uint32
}

// NewSequencer creates a new sequencer with its starting value set to n.
// Allowed range is 0x00000001 to 0x7FFFFFFF; values wrap back to 1 after
// reaching 0x7FFFFFFF, skipping 0 (SMPP v5.0 §3.2.1.4).
func NewSequencer(n uint32) Sequencer {
	if n == 0 {
		n = 1
	}
	return &defaultSequencer{n: n}
}

type defaultSequencer struct {
	n uint32
}

func (seq *defaultSequencer) Next() uint32 {
	n := seq.n
	if seq.n >= 0x7FFFFFFF {
		seq.n = 1
	} else {
		seq.n++
	}
	return n
}

// Encoder is responsible for encoding PDU structure to writer.
type Encoder struct {
	w   io.Writer
	seq Sequencer
}

// NewEncoder instantiates pdu encoder.
func NewEncoder(w io.Writer, seq Sequencer) *Encoder {
	if seq == nil {
		seq = NewSequencer(1)
	}
	return &Encoder{
		w:   w,
		seq: seq,
	}
}

type encoderOpts struct {
	seq    uint32
	status Status
}

// Encode PDU structure and write it to the assigned writer.
func (en *Encoder) Encode(p PDU, opts ...EncoderOption) (uint32, error) {
	body, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}

	eOpts := encoderOpts{}
	for _, o := range opts {
		o(&eOpts)
	}

	l := len(body) + 16
	if l > MaxPDUSize {
		return 0, fmt.Errorf("smpp/pdu: encoded pdu length %d exceeds max %d", l, MaxPDUSize)
	}
	buf := make([]byte, l)
	binary.BigEndian.PutUint32(buf[:4], uint32(l))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.CommandID()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(eOpts.status))
	if eOpts.seq == 0 {
		eOpts.seq = en.seq.Next()
	}
	binary.BigEndian.PutUint32(buf[12:16], eOpts.seq)
	copy(buf[16:], body)
	_, err = en.w.Write(buf)
	return eOpts.seq, err
}

type EncoderOption func(*encoderOpts)

func EncodeSeq(seq uint32) EncoderOption {
	return func(eOpts *encoderOpts) {
		eOpts.seq = seq
	}
}

func EncodeStatus(status Status) EncoderOption {
	return func(eOpts *encoderOpts) {
		eOpts.status = status
	}
}

// Decoder reads input from reader and marshals it into PDU.
type Decoder struct {
	r io.Reader
}

// NewDecoder initializes new PDU decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: r,
	}
}

// Decode reads one frame from the reader and parses it into a PDU. On a
// malformed header it returns the parsed header (if any) alongside the
// error so the caller can still report a sequence number in a Nack. On an
// unsupported command_id it returns the header and a nil PDU with
// ErrUnsupportedCommand, so the caller can respond with GenericNack
// instead of closing the connection.
func (d *Decoder) Decode() (Header, PDU, error) {
	var headerBytes [16]byte
	if _, err := io.ReadFull(d.r, headerBytes[:]); err != nil {
		return nil, nil, err
	}

	h := &header{}
	if err := h.UnmarshalBinary(headerBytes[:]); err != nil {
		return h, nil, err
	}

	p, err := NewPDU(h.commandID)
	if err != nil {
		// Still need to drain the declared body so the stream stays in sync.
		if h.length > 16 {
			if _, derr := io.CopyN(io.Discard, d.r, int64(h.length-16)); derr != nil {
				return h, nil, derr
			}
		}
		return h, nil, err
	}
	if h.length == 16 {
		return h, p, nil
	}

	bodyBytes := make([]byte, h.length-16)
	if _, err := io.ReadFull(d.r, bodyBytes); err != nil {
		return h, p, fmt.Errorf("smpp: pdu length doesn't match read body length %d != %d", h.length, len(bodyBytes))
	}

	if err := p.UnmarshalBinary(bodyBytes); err != nil {
		return h, p, err
	}

	return h, p, nil
}

// ErrUnsupportedCommand is returned by NewPDU/Decode when command_id isn't
// one of the operations this simulator implements.
var ErrUnsupportedCommand = errors.New("smpp/pdu: unsupported command_id")

// NewPDU creates a new, empty PDU for the given command_id, or
// ErrUnsupportedCommand if this simulator doesn't implement it.
func NewPDU(commandID CommandID) (PDU, error) {
	switch commandID {
	case GenericNackID:
		return &GenericNack{}, nil
	case BindReceiverID:
		return &BindRx{}, nil
	case BindReceiverRespID:
		return &BindRxResp{}, nil
	case BindTransmitterID:
		return &BindTx{}, nil
	case BindTransmitterRespID:
		return &BindTxResp{}, nil
	case BindTransceiverID:
		return &BindTRx{}, nil
	case BindTransceiverRespID:
		return &BindTRxResp{}, nil
	case EnquireLinkID:
		return &EnquireLink{}, nil
	case EnquireLinkRespID:
		return &EnquireLinkResp{}, nil
	case SubmitSmID:
		return &SubmitSm{}, nil
	case SubmitSmRespID:
		return &SubmitSmResp{}, nil
	case DeliverSmID:
		return &DeliverSm{}, nil
	case DeliverSmRespID:
		return &DeliverSmResp{}, nil
	case UnbindID:
		return &Unbind{}, nil
	case UnbindRespID:
		return &UnbindResp{}, nil
	}
	return nil, fmt.Errorf("%w: 0x%08x", ErrUnsupportedCommand, uint32(commandID))
}

// IsRequest returns true if command is a request (as opposed to a response).
func IsRequest(id CommandID) bool {
	switch id {
	default:
		return true
	case GenericNackID,
		BindReceiverRespID,
		BindTransmitterRespID,
		SubmitSmRespID,
		DeliverSmRespID,
		UnbindRespID,
		BindTransceiverRespID,
		EnquireLinkRespID:
		return false
	}
}

// SystemID extracts the system_id value from a PDU if it carries one.
func SystemID(p PDU) string {
	switch v := p.(type) {
	case *BindRx:
		return v.SystemID
	case *BindTx:
		return v.SystemID
	case *BindTRx:
		return v.SystemID
	case *BindRxResp:
		return v.SystemID
	case *BindTxResp:
		return v.SystemID
	case *BindTRxResp:
		return v.SystemID
	}
	return ""
}
