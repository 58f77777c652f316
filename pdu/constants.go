package pdu

const (
	// MaxPDUSize is the maximal size of a PDU in bytes, including the
	// command_length field itself.
	MaxPDUSize = 65536
	// MinPDUSize is the size of a bare PDU header.
	MinPDUSize = 16
)

// Status represents four byte command status.
type Status uint32

// PDU Command Status codes. The simulator itself sends only a few of them
// (OK, InvMsgLen, InvCmdID, InvBnd, AlyBnd, SysErr, BindFail, Throttled).
const (
	StatusOK              Status = 0x00000000
	StatusInvMsgLen       Status = 0x00000001
	StatusInvCmdLen       Status = 0x00000002
	StatusInvCmdID        Status = 0x00000003
	StatusInvBnd          Status = 0x00000004
	StatusAlyBnd          Status = 0x00000005
	StatusInvRegDlvFlg    Status = 0x00000007
	StatusSysErr          Status = 0x00000008
	StatusInvSrcAdr       Status = 0x0000000A
	StatusInvDstAdr       Status = 0x0000000B
	StatusInvMsgID        Status = 0x0000000C
	StatusBindFail        Status = 0x0000000D
	StatusInvPaswd        Status = 0x0000000E
	StatusInvSysID        Status = 0x0000000F
	StatusMsgQFul         Status = 0x00000014
	StatusThrottled       Status = 0x00000058
	StatusInvOptParStream Status = 0x000000C0
	StatusOptParNotAllwd  Status = 0x000000C1
	StatusInvParLen       Status = 0x000000C2
	StatusMissingOptParam Status = 0x000000C3
	StatusInvOptParamVal  Status = 0x000000C4
	StatusUnknownErr      Status = 0x000000FF
)

// CommandID is four byte PDU command identifier.
type CommandID uint32

// SMPP command set supported by this simulator. Other SMPP operations the
// underlying protocol defines (query_sm, replace_sm, cancel_sm,
// submit_multi, data_sm, alert_notification, outbind) are out of scope;
// see DESIGN.md.
const (
	GenericNackID         CommandID = 0x80000000
	BindReceiverID        CommandID = 0x00000001
	BindReceiverRespID    CommandID = 0x80000001
	BindTransmitterID     CommandID = 0x00000002
	BindTransmitterRespID CommandID = 0x80000002
	SubmitSmID            CommandID = 0x00000004
	SubmitSmRespID        CommandID = 0x80000004
	DeliverSmID           CommandID = 0x00000005
	DeliverSmRespID       CommandID = 0x80000005
	UnbindID              CommandID = 0x00000006
	UnbindRespID          CommandID = 0x80000006
	BindTransceiverID     CommandID = 0x00000009
	BindTransceiverRespID CommandID = 0x80000009
	EnquireLinkID         CommandID = 0x00000015
	EnquireLinkRespID     CommandID = 0x80000015
)

// SMPP mandatory field names, used in error messages and logging.
const (
	SystemIDFld           string = "system_id"
	PasswordFld           string = "password"
	SystemTypeFld         string = "system_type"
	InterfaceVersionFld   string = "interface_version"
	AddrTonFld            string = "addr_ton"
	AddrNpiFld            string = "addr_npi"
	AddressRangeFld       string = "address_range"
	ServiceTypeFld        string = "service_type"
	SourceAddrTonFld      string = "source_addr_ton"
	SourceAddrNpiFld      string = "source_addr_npi"
	SourceAddrFld         string = "source_addr"
	DestAddrTonFld        string = "dest_addr_ton"
	DestAddrNpiFld        string = "dest_addr_npi"
	DestinationAddrFld    string = "destination_addr"
	EsmClassFld           string = "esm_class"
	ProtocolIDFld         string = "protocol_id"
	PriorityFlagFld       string = "priority_flag"
	RegisteredDeliveryFld string = "registered_delivery"
	DataCodingFld         string = "data_coding"
	SmDefaultMsgIDFld     string = "sm_default_msg_id"
	SmLengthFld           string = "sm_length"
	ShortMessageFld       string = "short_message"
	MessageIDFld          string = "message_id"
)

// TagID represents two byte optional tag identifier.
type TagID uint16

// Optional parameter tags with typed helpers on Options.
const (
	TagReceiptedMessageID TagID = 0x001E
	TagMessagePayload     TagID = 0x0424
	TagMessageState       TagID = 0x0427
)
