package pdu

import (
	"fmt"
	"time"
)

// DelStat is the 7-character delivery receipt status code.
type DelStat string

// Delivery receipt status codes (SMPP v5.0 §4.7.3).
const (
	DelStatEnRoute       DelStat = "ENROUTE"
	DelStatDelivered     DelStat = "DELIVRD"
	DelStatExpired       DelStat = "EXPIRED"
	DelStatDeleted       DelStat = "DELETED"
	DelStatUndeliverable DelStat = "UNDELIV"
	DelStatAccepted      DelStat = "ACCEPTD"
	DelStatUnknown       DelStat = "UNKNOWN"
	DelStatRejected      DelStat = "REJECTD"
)

// RecDateLayout is the YYMMDDhhmm layout used in receipt submit/done dates.
const RecDateLayout = "0601021504"

// DeliveryReceipt is the canonical SMPP delivery receipt text carried in a
// deliver_sm's short_message once a submitted message reaches a terminal
// state.
type DeliveryReceipt struct {
	MessageID  string
	Sub        int
	Dlvrd      int
	SubmitDate time.Time
	DoneDate   time.Time
	Stat       DelStat
	Err        string
	Text       string
}

// String renders the receipt in the wire format:
//
//	id:<message_id> sub:001 dlvrd:<001|000> submit date:YYMMDDhhmm done date:YYMMDDhhmm stat:<7-char state> err:000 text:<first 20 bytes of original>
func (dr *DeliveryReceipt) String() string {
	text := dr.Text
	if len(text) > 20 {
		text = text[:20]
	}
	return fmt.Sprintf(
		"id:%s sub:%03d dlvrd:%03d submit date:%s done date:%s stat:%s err:%s text:%s",
		dr.MessageID, dr.Sub, dr.Dlvrd,
		dr.SubmitDate.Format(RecDateLayout), dr.DoneDate.Format(RecDateLayout),
		dr.Stat, dr.Err, text,
	)
}
